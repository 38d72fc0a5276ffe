// Package discovery works out which remote subsessions still need fetching.
//
// The remote API has no "everything since X" query, so a driver's history is
// found by replaying a year by quarter grid of series searches from the year
// the driver joined. The grid is re-run every time; the session cache keeps
// repeated runs cheap by filtering IDs that are already on disk.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/darshan-rambhia/racestats/internal/iracing"
)

// ErrDriverNotFound is returned when a driver lookup has no matches.
var ErrDriverNotFound = errors.New("driver not found")

// AmbiguousDriverError is returned in strict mode when a lookup matches more
// than one driver and none of them exactly.
type AmbiguousDriverError struct {
	Query   string
	Matches []iracing.DriverMatch
}

func (e *AmbiguousDriverError) Error() string {
	names := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		names[i] = fmt.Sprintf("%s (%d)", m.DisplayName, m.CustID)
	}
	return fmt.Sprintf("driver %q is ambiguous: %s", e.Query, strings.Join(names, ", "))
}

// Remote is the subset of the API client discovery needs.
type Remote interface {
	LookupDrivers(ctx context.Context, searchTerm string) ([]iracing.DriverMatch, error)
	MemberSince(ctx context.Context, custID int64) (int, error)
	SearchSeries(ctx context.Context, q iracing.SeriesQuery) ([]int64, error)
}

// Cache reports which subsessions are already on disk.
type Cache interface {
	Uncached(ids []int64) []int64
}

// Config controls discovery.
type Config struct {
	// LastSeasonYear is the last year of the search grid, inclusive.
	LastSeasonYear int
	// Strict fails ambiguous driver lookups instead of picking a match.
	Strict bool
}

// Found is the outcome of a discovery run.
type Found struct {
	// All holds every subsession the search returned, sorted and
	// deduplicated.
	All []int64
	// Uncached is the subset of All that is not in the session cache yet.
	Uncached []int64
}

// Discoverer finds uncached subsessions.
type Discoverer struct {
	remote Remote
	cache  Cache
	config Config
}

// New creates a Discoverer.
func New(remote Remote, cache Cache, cfg Config) *Discoverer {
	return &Discoverer{remote: remote, cache: cache, config: cfg}
}

// ResolveDriver maps a free-text identifier to one driver. With several
// matches an exact case-insensitive display name match is preferred, then
// the first match.
func (d *Discoverer) ResolveDriver(ctx context.Context, identifier string) (iracing.DriverMatch, error) {
	matches, err := d.remote.LookupDrivers(ctx, identifier)
	if err != nil {
		return iracing.DriverMatch{}, err
	}
	switch len(matches) {
	case 0:
		return iracing.DriverMatch{}, fmt.Errorf("%q: %w", identifier, ErrDriverNotFound)
	case 1:
		return matches[0], nil
	}

	for _, m := range matches {
		if strings.EqualFold(m.DisplayName, identifier) {
			slog.Info("multiple drivers matched, using exact name match",
				"query", identifier, "matches", len(matches), "cust_id", m.CustID)
			return m, nil
		}
	}

	if d.config.Strict {
		return iracing.DriverMatch{}, &AmbiguousDriverError{Query: identifier, Matches: matches}
	}
	slog.Warn("multiple drivers matched, using first",
		"query", identifier, "matches", len(matches),
		"cust_id", matches[0].CustID, "display_name", matches[0].DisplayName)
	return matches[0], nil
}

// FindDriverSubsessions returns every subsession the driver took part in and
// which of them are not cached yet.
func (d *Discoverer) FindDriverSubsessions(ctx context.Context, identifier string) (Found, error) {
	driver, err := d.ResolveDriver(ctx, identifier)
	if err != nil {
		return Found{}, err
	}
	return d.FindCustomerSubsessions(ctx, driver.CustID)
}

// FindCustomerSubsessions is FindDriverSubsessions for a known cust_id.
func (d *Discoverer) FindCustomerSubsessions(ctx context.Context, custID int64) (Found, error) {
	since, err := d.remote.MemberSince(ctx, custID)
	if err != nil {
		return Found{}, err
	}

	var all []int64
	for year := since; year <= d.config.LastSeasonYear; year++ {
		for quarter := 1; quarter <= 4; quarter++ {
			if err := ctx.Err(); err != nil {
				return Found{}, err
			}
			slog.Info("querying season", "cust_id", custID, "year", year, "quarter", quarter)
			ids, err := d.remote.SearchSeries(ctx, iracing.SeriesQuery{CustID: &custID, Year: year, Quarter: quarter})
			if err != nil {
				return Found{}, err
			}
			all = append(all, ids...)
		}
	}
	return d.found(all, "cust_id", custID), nil
}

// FindSeasonSubsessions returns the subsessions of every driver in one
// season quarter, optionally restricted to a race week.
func (d *Discoverer) FindSeasonSubsessions(ctx context.Context, year, quarter int, week *int) (Found, error) {
	if quarter < 1 || quarter > 4 {
		return Found{}, fmt.Errorf("quarter %d out of range 1-4", quarter)
	}
	ids, err := d.remote.SearchSeries(ctx, iracing.SeriesQuery{Year: year, Quarter: quarter, Week: week})
	if err != nil {
		return Found{}, err
	}
	return d.found(ids, "season", fmt.Sprintf("%ds%d", year, quarter)), nil
}

func (d *Discoverer) found(ids []int64, key string, value any) Found {
	slices.Sort(ids)
	ids = slices.Compact(ids)
	f := Found{All: ids, Uncached: d.cache.Uncached(ids)}
	slog.Info("discovered subsessions", key, value, "total", len(f.All), "uncached", len(f.Uncached))
	return f
}
