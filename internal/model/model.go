// Package model defines all shared domain types for racestats.
package model

import "time"

// License categories as reported by the remote API.
const (
	CategoryOval     = 1
	CategoryRoad     = 2
	CategoryDirtOval = 3
	CategoryDirtRoad = 4
)

// NoRatingChange is the newi_rating sentinel for results that did not move
// the driver's rating (practice, unofficial races, ...).
const NoRatingChange = -1

// SoloTeamID is the team_id stored for results of drivers racing alone.
const SoloTeamID = 0

// Simsession types.
const (
	SimsessionOpenPractice   = 3
	SimsessionLoneQualifying = 4
	SimsessionOpenQualifying = 5
	SimsessionRace           = 6
)

// Driver is a remote customer, identified by cust_id.
type Driver struct {
	CustID      int64  `json:"cust_id"`
	DisplayName string `json:"display_name"`
}

// Session groups subsessions of the same series event.
type Session struct {
	SessionID  int64  `json:"session_id"`
	SeriesName string `json:"series_name"`
}

// Subsession is one concrete race/qualify/practice instance.
type Subsession struct {
	SubsessionID      int64 `json:"subsession_id"`
	SessionID         int64 `json:"session_id"`
	StartTime         int64 `json:"start_time"` // unix epoch seconds
	LicenseCategoryID int   `json:"license_category_id"`
	TrackID           int64 `json:"track_id"`
}

// Simsession is one segment (practice, qualify, race) of a subsession.
type Simsession struct {
	SubsessionID     int64 `json:"subsession_id"`
	SimsessionNumber int   `json:"simsession_number"`
	SimsessionType   int   `json:"simsession_type"`
}

// DriverResult is one driver's record within one simsession.
type DriverResult struct {
	CustID           int64 `json:"cust_id"`
	TeamID           int64 `json:"team_id"` // SoloTeamID for solo entries
	SubsessionID     int64 `json:"subsession_id"`
	SimsessionNumber int   `json:"simsession_number"`
	NewiRating       int   `json:"newi_rating"`
	Incidents        int   `json:"incidents"`
	LapsComplete     int   `json:"laps_complete"`
	AverageLap       int64 `json:"average_lap"` // 1/10000 s
	CarID            int64 `json:"car_id"`
}

// SubsessionRows is a fully flattened subsession, ordered so that parents can
// be inserted before children.
type SubsessionRows struct {
	Session     Session
	Subsession  Subsession
	Simsessions []Simsession
	Drivers     []Driver
	Results     []DriverResult
}

// Track is a track package (the physical venue).
type Track struct {
	PackageID int64  `json:"package_id"`
	TrackName string `json:"track_name"`
}

// TrackConfig is one layout of a track package.
type TrackConfig struct {
	TrackID           int64   `json:"track_id"`
	PackageID         int64   `json:"package_id"`
	ConfigName        string  `json:"config_name"`
	TrackConfigLength float64 `json:"track_config_length"` // miles
}

// TrackRows pairs a track package with one of its configs, the shape of one
// entry in the remote track list.
type TrackRows struct {
	Track  Track
	Config TrackConfig
}

// Car is static car reference data.
type Car struct {
	CarID              int64  `json:"car_id"`
	CarName            string `json:"car_name"`
	CarNameAbbreviated string `json:"car_name_abbreviated"`
}

// RatingPoint is one entry of a driver's rating history.
type RatingPoint struct {
	StartTime  int64  `json:"start_time"`
	IRating    int    `json:"irating"`
	SeriesName string `json:"series_name"`
}

// CarTrackUsage is the total driven time of a driver for one car on one track.
type CarTrackUsage struct {
	CarNameAbbreviated string `json:"car_name_abbreviated"`
	TrackName          string `json:"track_name"`
	TotalTime          int64  `json:"total_time"` // laps * average lap, 1/10000 s
}

// UsageCell is one populated cell of a car/track usage matrix.
type UsageCell struct {
	Time int64 `json:"time"`
}

// UsageMatrix is the car/track usage table indexed as Matrix[track][car].
// Cells a driver never drove are nil.
type UsageMatrix struct {
	Matrix [][]*UsageCell `json:"matrix"`
	Cars   []string       `json:"cars"`
	Tracks []string       `json:"tracks"`
}

// SyncReport summarizes one synchronization run.
type SyncReport struct {
	Job        string        `json:"job"`    // "driver", "season", "tracks", "cars", "rebuild", "update"
	Target     string        `json:"target"` // driver name, season, ...
	Discovered int           `json:"discovered"`
	Fetched    int           `json:"fetched"`
	Ingested   int           `json:"ingested"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
}

// Notification represents a structured notification message.
type Notification struct {
	Kind      string            `json:"kind"`     // see notify.Kind*
	Severity  string            `json:"severity"` // "info", "warning", "critical"
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Subject   string            `json:"subject"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
