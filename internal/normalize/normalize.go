// Package normalize flattens raw subsession result documents into the
// relational rows of the store.
package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/goccy/go-json"
)

// startTimeLayout is the only accepted start_time format.
const startTimeLayout = "2006-01-02T15:04:05Z"

// ParseError reports a field whose value could not be interpreted.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// DuplicateResultError reports a driver listed more than once for the same
// team in one simsession.
type DuplicateResultError struct {
	SubsessionID     int64
	CustID           int64
	TeamID           int64
	SimsessionNumber int
}

func (e *DuplicateResultError) Error() string {
	return fmt.Sprintf("subsession %d: duplicate result for cust_id %d (team %d, simsession %d)",
		e.SubsessionID, e.CustID, e.TeamID, e.SimsessionNumber)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseStartTime converts a UTC timestamp like "2022-07-01T14:30:00Z" to unix
// seconds. Fractional seconds, offsets and missing "Z" are rejected.
func ParseStartTime(s string) (int64, error) {
	// time.Parse tolerates fractional seconds even when the layout has none.
	if len(s) != len(startTimeLayout) {
		return 0, &ParseError{Field: "start_time", Value: s}
	}
	t, err := time.Parse(startTimeLayout, s)
	if err != nil {
		return 0, &ParseError{Field: "start_time", Value: s, Err: err}
	}
	return t.Unix(), nil
}

// ---------------------------------------------------------------------------
// Payload shape
// ---------------------------------------------------------------------------

// DriverEntry is a single driver's result line.
type DriverEntry struct {
	CustID       int64  `json:"cust_id"`
	DisplayName  string `json:"display_name"`
	NewiRating   int    `json:"newi_rating"`
	Incidents    int    `json:"incidents"`
	LapsComplete int    `json:"laps_complete"`
	AverageLap   int64  `json:"average_lap"`
	CarID        int64  `json:"car_id"`
}

// TeamEntry is a team's result line with the results of its drivers.
type TeamEntry struct {
	TeamID        *int64        `json:"team_id"`
	DisplayName   string        `json:"display_name"`
	DriverResults []DriverEntry `json:"driver_results"`
}

// Participant is one entry of a simsession result list: exactly one of Solo
// or Team is set. An entry carrying cust_id is a solo driver.
type Participant struct {
	Solo *DriverEntry
	Team *TeamEntry
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Participant) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("decoding participant: %w", err)
	}

	if _, ok := keys["cust_id"]; ok {
		var d DriverEntry
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decoding driver participant: %w", err)
		}
		*p = Participant{Solo: &d}
		return nil
	}

	if _, ok := keys["driver_results"]; !ok {
		return fmt.Errorf("decoding participant: neither cust_id nor driver_results present")
	}
	var team TeamEntry
	if err := json.Unmarshal(data, &team); err != nil {
		return fmt.Errorf("decoding team participant: %w", err)
	}
	*p = Participant{Team: &team}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Participant) MarshalJSON() ([]byte, error) {
	switch {
	case p.Solo != nil:
		return json.Marshal(p.Solo)
	case p.Team != nil:
		return json.Marshal(p.Team)
	default:
		return []byte("null"), nil
	}
}

type simsessionPayload struct {
	SimsessionNumber int           `json:"simsession_number"`
	SimsessionType   int           `json:"simsession_type"`
	Results          []Participant `json:"results"`
}

type subsessionPayload struct {
	SubsessionID      int64  `json:"subsession_id"`
	SessionID         int64  `json:"session_id"`
	SeriesName        string `json:"series_name"`
	StartTime         string `json:"start_time"`
	LicenseCategoryID int    `json:"license_category_id"`
	Track             struct {
		TrackID int64 `json:"track_id"`
	} `json:"track"`
	SessionResults []simsessionPayload `json:"session_results"`
}

// ---------------------------------------------------------------------------
// Flattening
// ---------------------------------------------------------------------------

// Flatten decodes a subsession result document into rows. Drivers are
// deduplicated by cust_id, first sighting wins. A driver listed twice in the
// same simsession under the same team is a *DuplicateResultError, and a team
// entry without a team_id is a *ParseError.
func Flatten(raw []byte) (*model.SubsessionRows, error) {
	var p subsessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding subsession %d: %w", peekSubsessionID(raw), err)
	}

	start, err := ParseStartTime(p.StartTime)
	if err != nil {
		return nil, fmt.Errorf("subsession %d: %w", p.SubsessionID, err)
	}

	rows := &model.SubsessionRows{
		Session: model.Session{SessionID: p.SessionID, SeriesName: p.SeriesName},
		Subsession: model.Subsession{
			SubsessionID:      p.SubsessionID,
			SessionID:         p.SessionID,
			StartTime:         start,
			LicenseCategoryID: p.LicenseCategoryID,
			TrackID:           p.Track.TrackID,
		},
		Simsessions: make([]model.Simsession, 0, len(p.SessionResults)),
	}

	type resultKey struct {
		custID, teamID int64
		simsession     int
	}
	seenDrivers := make(map[int64]bool)
	seenResults := make(map[resultKey]bool)

	add := func(sim int, teamID int64, d DriverEntry) error {
		key := resultKey{d.CustID, teamID, sim}
		if seenResults[key] {
			return &DuplicateResultError{
				SubsessionID: p.SubsessionID, CustID: d.CustID, TeamID: teamID, SimsessionNumber: sim,
			}
		}
		seenResults[key] = true
		if !seenDrivers[d.CustID] {
			seenDrivers[d.CustID] = true
			rows.Drivers = append(rows.Drivers, model.Driver{CustID: d.CustID, DisplayName: d.DisplayName})
		}
		rows.Results = append(rows.Results, model.DriverResult{
			CustID:           d.CustID,
			TeamID:           teamID,
			SubsessionID:     p.SubsessionID,
			SimsessionNumber: sim,
			NewiRating:       d.NewiRating,
			Incidents:        d.Incidents,
			LapsComplete:     d.LapsComplete,
			AverageLap:       d.AverageLap,
			CarID:            d.CarID,
		})
		return nil
	}

	for _, sim := range p.SessionResults {
		rows.Simsessions = append(rows.Simsessions, model.Simsession{
			SubsessionID:     p.SubsessionID,
			SimsessionNumber: sim.SimsessionNumber,
			SimsessionType:   sim.SimsessionType,
		})
		for _, part := range sim.Results {
			switch {
			case part.Solo != nil:
				if err := add(sim.SimsessionNumber, model.SoloTeamID, *part.Solo); err != nil {
					return nil, err
				}
			case part.Team != nil:
				if part.Team.TeamID == nil {
					return nil, fmt.Errorf("subsession %d: team %q: %w", p.SubsessionID,
						part.Team.DisplayName, &ParseError{Field: "team_id", Value: "null"})
				}
				for _, d := range part.Team.DriverResults {
					if err := add(sim.SimsessionNumber, *part.Team.TeamID, d); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return rows, nil
}

// peekSubsessionID extracts subsession_id from a payload that failed to
// decode fully, for error messages. Returns 0 when even that fails.
func peekSubsessionID(raw []byte) int64 {
	var head struct {
		SubsessionID int64 `json:"subsession_id"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.SubsessionID
}

// FlattenTracks converts the track reference snapshot to rows, one per
// track configuration.
func FlattenTracks(raw []byte) ([]model.TrackRows, error) {
	var entries []struct {
		TrackID           int64   `json:"track_id"`
		PackageID         int64   `json:"package_id"`
		TrackName         string  `json:"track_name"`
		ConfigName        string  `json:"config_name"`
		TrackConfigLength float64 `json:"track_config_length"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding track snapshot: %w", err)
	}

	rows := make([]model.TrackRows, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, model.TrackRows{
			Track: model.Track{PackageID: e.PackageID, TrackName: e.TrackName},
			Config: model.TrackConfig{
				TrackID:           e.TrackID,
				PackageID:         e.PackageID,
				ConfigName:        e.ConfigName,
				TrackConfigLength: e.TrackConfigLength,
			},
		})
	}
	return rows, nil
}

// FlattenCars converts the car reference snapshot to rows.
func FlattenCars(raw []byte) ([]model.Car, error) {
	var cars []model.Car
	if err := json.Unmarshal(raw, &cars); err != nil {
		return nil, fmt.Errorf("decoding car snapshot: %w", err)
	}
	return cars, nil
}

// Inserter persists one flattened subsession.
type Inserter interface {
	InsertSubsession(ctx context.Context, rows *model.SubsessionRows) error
}

// Ingest flattens raw and inserts it through s.
func Ingest(ctx context.Context, s Inserter, raw []byte) (*model.SubsessionRows, error) {
	rows, err := Flatten(raw)
	if err != nil {
		return nil, err
	}
	if err := s.InsertSubsession(ctx, rows); err != nil {
		return nil, fmt.Errorf("storing subsession %d: %w", rows.Subsession.SubsessionID, err)
	}
	return rows, nil
}
