package store

import (
	"context"
	"fmt"

	"github.com/darshan-rambhia/racestats/internal/model"
)

// RatingHistory returns the road rating of a driver after every rated
// session, oldest first. Results that did not change the rating are skipped.
// An unknown driver yields an empty slice.
func (s *Store) RatingHistory(ctx context.Context, driverName string) ([]model.RatingPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subsession.start_time, driver_result.newi_rating, session.series_name
		FROM driver_result
		JOIN simsession ON
			driver_result.subsession_id = simsession.subsession_id AND
			driver_result.simsession_number = simsession.simsession_number
		JOIN subsession ON simsession.subsession_id = subsession.subsession_id
		JOIN session ON subsession.session_id = session.session_id
		JOIN driver ON driver.cust_id = driver_result.cust_id
		WHERE
			driver.display_name = ? AND
			driver_result.newi_rating != ? AND
			subsession.license_category_id = ?
		ORDER BY subsession.start_time ASC, driver_result.simsession_number ASC`,
		driverName, model.NoRatingChange, model.CategoryRoad,
	)
	if err != nil {
		return nil, fmt.Errorf("querying rating history of %q: %w", driverName, err)
	}
	defer rows.Close()

	points := []model.RatingPoint{}
	for rows.Next() {
		var p model.RatingPoint
		if err := rows.Scan(&p.StartTime, &p.IRating, &p.SeriesName); err != nil {
			return nil, fmt.Errorf("scanning rating point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// CarTrackUsage returns the total driven time of a driver per car and track
// package, in 1/10000 s. Only combinations actually driven are returned,
// ordered by first appearance.
func (s *Store) CarTrackUsage(ctx context.Context, driverName string) ([]model.CarTrackUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			car.car_name_abbreviated,
			track.track_name,
			SUM(driver_result.laps_complete * driver_result.average_lap)
		FROM driver_result
		JOIN simsession ON
			driver_result.subsession_id = simsession.subsession_id AND
			driver_result.simsession_number = simsession.simsession_number
		JOIN subsession ON simsession.subsession_id = subsession.subsession_id
		JOIN session ON subsession.session_id = session.session_id
		JOIN track_config ON subsession.track_id = track_config.track_id
		JOIN track ON track_config.package_id = track.package_id
		JOIN car ON driver_result.car_id = car.car_id
		JOIN driver ON driver.cust_id = driver_result.cust_id
		WHERE driver.display_name = ?
		GROUP BY driver_result.car_id, track.package_id
		ORDER BY MIN(subsession.start_time), driver_result.car_id, track.package_id`,
		driverName,
	)
	if err != nil {
		return nil, fmt.Errorf("querying car/track usage of %q: %w", driverName, err)
	}
	defer rows.Close()

	usage := []model.CarTrackUsage{}
	for rows.Next() {
		var u model.CarTrackUsage
		if err := rows.Scan(&u.CarNameAbbreviated, &u.TrackName, &u.TotalTime); err != nil {
			return nil, fmt.Errorf("scanning car/track usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// Drivers lists all named drivers ordered by display name.
func (s *Store) Drivers(ctx context.Context) ([]model.Driver, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cust_id, display_name FROM driver
		WHERE display_name IS NOT NULL
		ORDER BY display_name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("querying drivers: %w", err)
	}
	defer rows.Close()

	drivers := []model.Driver{}
	for rows.Next() {
		var d model.Driver
		if err := rows.Scan(&d.CustID, &d.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning driver: %w", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}
