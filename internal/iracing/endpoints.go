package iracing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// DriverMatch is one hit of a driver lookup.
type DriverMatch struct {
	CustID      int64  `json:"cust_id"`
	DisplayName string `json:"display_name"`
}

// SeriesQuery selects a chunked series search. A nil CustID searches every
// driver of the season; a nil Week searches the whole quarter.
type SeriesQuery struct {
	CustID  *int64
	Year    int
	Quarter int
	Week    *int
}

// LookupDrivers searches drivers by free text.
func (c *Client) LookupDrivers(ctx context.Context, searchTerm string) ([]DriverMatch, error) {
	const path = "/data/lookup/drivers"
	body, err := c.GetIndirect(ctx, path, map[string][]string{"search_term": {searchTerm}})
	if err != nil {
		return nil, fmt.Errorf("looking up driver %q: %w", searchTerm, err)
	}

	var matches []DriverMatch
	if err := json.Unmarshal(body, &matches); err != nil {
		return nil, &ParseError{Endpoint: path, Err: err}
	}
	return matches, nil
}

// MemberSince returns the year the customer joined, taken from the leading
// "YYYY" of the member_since profile field.
func (c *Client) MemberSince(ctx context.Context, custID int64) (int, error) {
	const path = "/data/member/get"
	body, err := c.GetIndirect(ctx, path, map[string][]string{"cust_ids": {strconv.FormatInt(custID, 10)}})
	if err != nil {
		return 0, fmt.Errorf("fetching member %d: %w", custID, err)
	}

	var resp struct {
		Members []struct {
			MemberSince string `json:"member_since"`
		} `json:"members"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &ParseError{Endpoint: path, Err: err}
	}
	if len(resp.Members) == 0 {
		return 0, &ParseError{Endpoint: path, Err: fmt.Errorf("no member %d in response", custID)}
	}
	return parseMemberSinceYear(resp.Members[0].MemberSince)
}

func parseMemberSinceYear(s string) (int, error) {
	yearStr, _, _ := strings.Cut(s, "-")
	if len(yearStr) != 4 {
		return 0, &ParseError{Endpoint: "/data/member/get", Err: fmt.Errorf("malformed member_since %q", s)}
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return 0, &ParseError{Endpoint: "/data/member/get", Err: fmt.Errorf("malformed member_since %q: %w", s, err)}
	}
	return year, nil
}

// SearchSeries runs a chunked series search and returns the subsession IDs
// of all hits in chunk order.
func (c *Client) SearchSeries(ctx context.Context, q SeriesQuery) ([]int64, error) {
	const path = "/data/results/search_series"
	params := map[string][]string{
		"season_year":    {strconv.Itoa(q.Year)},
		"season_quarter": {strconv.Itoa(q.Quarter)},
	}
	if q.CustID != nil {
		params["cust_id"] = []string{strconv.FormatInt(*q.CustID, 10)}
	}
	if q.Week != nil {
		params["race_week_num"] = []string{strconv.Itoa(*q.Week)}
	}

	items, err := c.GetChunked(ctx, path, params)
	if err != nil {
		return nil, fmt.Errorf("searching series %ds%d: %w", q.Year, q.Quarter, err)
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		var hit struct {
			SubsessionID int64 `json:"subsession_id"`
		}
		if err := json.Unmarshal(item, &hit); err != nil {
			return nil, &ParseError{Endpoint: path, Err: err}
		}
		ids = append(ids, hit.SubsessionID)
	}
	return ids, nil
}

// SubsessionResult fetches the full result document of one subsession.
func (c *Client) SubsessionResult(ctx context.Context, subsessionID int64) ([]byte, error) {
	body, err := c.GetIndirect(ctx, "/data/results/get", map[string][]string{
		"subsession_id": {strconv.FormatInt(subsessionID, 10)},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching subsession %d: %w", subsessionID, err)
	}
	return body, nil
}

// Tracks fetches the reference list of track configurations.
func (c *Client) Tracks(ctx context.Context) ([]byte, error) {
	body, err := c.GetIndirect(ctx, "/data/track/get", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching tracks: %w", err)
	}
	return body, nil
}

// Cars fetches the reference list of cars.
func (c *Client) Cars(ctx context.Context) ([]byte, error) {
	body, err := c.GetIndirect(ctx, "/data/car/get", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching cars: %w", err)
	}
	return body, nil
}
