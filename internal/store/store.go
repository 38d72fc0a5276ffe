// Package store provides SQLite persistence for racestats.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/darshan-rambhia/racestats/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateSubsession is returned when a subsession is inserted twice.
// Subsessions are append-only; callers must check HasSubsession first.
var ErrDuplicateSubsession = errors.New("subsession already stored")

// Store wraps a SQLite database for racestats data persistence.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	// Single writer; one connection also keeps transactions and pragmas on
	// the same handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset removes the database file at path together with its WAL and shared
// memory files. The store must not be open.
func Reset(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertSubsession stores one flattened subsession in a single transaction.
// Parents are written before children: session, subsession, simsessions, then
// each driver followed by its result.
func (s *Store) InsertSubsession(ctx context.Context, rows *model.SubsessionRows) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertRows(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing subsession %d: %w", rows.Subsession.SubsessionID, err)
	}
	return nil
}

func insertRows(ctx context.Context, ex execer, rows *model.SubsessionRows) error {
	id := rows.Subsession.SubsessionID

	var exists int
	err := ex.QueryRowContext(ctx, `SELECT 1 FROM subsession WHERE subsession_id = ?`, id).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("subsession %d: %w", id, ErrDuplicateSubsession)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking subsession %d: %w", id, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO session (session_id, series_name) VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		rows.Session.SessionID, rows.Session.SeriesName,
	)
	if err != nil {
		return fmt.Errorf("inserting session %d: %w", rows.Session.SessionID, err)
	}

	sub := rows.Subsession
	_, err = ex.ExecContext(ctx, `
		INSERT INTO subsession (subsession_id, session_id, start_time, license_category_id, track_id)
		VALUES (?, ?, ?, ?, ?)`,
		sub.SubsessionID, sub.SessionID, sub.StartTime, sub.LicenseCategoryID, sub.TrackID,
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("subsession %d: %w", id, ErrDuplicateSubsession)
		}
		return fmt.Errorf("inserting subsession %d: %w", id, err)
	}

	for _, sim := range rows.Simsessions {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO simsession (subsession_id, simsession_number, simsession_type)
			VALUES (?, ?, ?)`,
			sim.SubsessionID, sim.SimsessionNumber, sim.SimsessionType,
		)
		if err != nil {
			return fmt.Errorf("inserting simsession %d/%d: %w", id, sim.SimsessionNumber, err)
		}
	}

	for _, d := range rows.Drivers {
		if err := upsertDriver(ctx, ex, d); err != nil {
			return fmt.Errorf("subsession %d: %w", id, err)
		}
	}

	for _, r := range rows.Results {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO driver_result
			(cust_id, team_id, subsession_id, simsession_number, newi_rating,
			 incidents, laps_complete, average_lap, car_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.CustID, r.TeamID, r.SubsessionID, r.SimsessionNumber, r.NewiRating,
			r.Incidents, r.LapsComplete, r.AverageLap, r.CarID,
		)
		if err != nil {
			return fmt.Errorf("inserting result of driver %d in subsession %d: %w", r.CustID, id, err)
		}
	}
	return nil
}

// upsertDriver inserts a driver unless its cust_id is known. A display name
// already held by another cust_id is stored as NULL for the newcomer so the
// result rows can still reference it.
func upsertDriver(ctx context.Context, ex execer, d model.Driver) error {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO driver (cust_id, display_name) VALUES (?, ?)
		ON CONFLICT DO NOTHING`,
		d.CustID, d.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("upserting driver %d: %w", d.CustID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO driver (cust_id, display_name) VALUES (?, NULL)
		ON CONFLICT(cust_id) DO NOTHING`,
		d.CustID,
	)
	if err != nil {
		return fmt.Errorf("upserting driver %d: %w", d.CustID, err)
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// HasSubsession reports whether a subsession is already stored.
func (s *Store) HasSubsession(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subsession WHERE subsession_id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking subsession %d: %w", id, err)
	}
	return true, nil
}

// MissingSubsessions returns the IDs from ids that are not stored, in the
// order given.
func (s *Store) MissingSubsessions(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subsession_id FROM subsession`)
	if err != nil {
		return nil, fmt.Errorf("listing subsessions: %w", err)
	}
	defer rows.Close()

	stored := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning subsession id: %w", err)
		}
		stored[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	missing := make([]int64, 0)
	for _, id := range ids {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// SubsessionCount returns the number of stored subsessions.
func (s *Store) SubsessionCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subsession`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting subsessions: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

// ReplaceTracks replaces all track packages and configurations. Track rows
// are deduplicated by package; every configuration is inserted.
func (s *Store) ReplaceTracks(ctx context.Context, tracks []model.TrackRows) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, q := range []string{`DELETE FROM track_config`, `DELETE FROM track`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clearing tracks: %w", err)
		}
	}

	for _, t := range tracks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO track (package_id, track_name) VALUES (?, ?)
			ON CONFLICT(package_id) DO NOTHING`,
			t.Track.PackageID, t.Track.TrackName,
		)
		if err != nil {
			return fmt.Errorf("inserting track %d: %w", t.Track.PackageID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO track_config (track_id, package_id, config_name, track_config_length)
			VALUES (?, ?, ?, ?)`,
			t.Config.TrackID, t.Config.PackageID, t.Config.ConfigName, t.Config.TrackConfigLength,
		)
		if err != nil {
			return fmt.Errorf("inserting track config %d: %w", t.Config.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tracks: %w", err)
	}
	return nil
}

// ReplaceCars replaces all cars.
func (s *Store) ReplaceCars(ctx context.Context, cars []model.Car) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM car`); err != nil {
		return fmt.Errorf("clearing cars: %w", err)
	}
	for _, c := range cars {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO car (car_id, car_name, car_name_abbreviated) VALUES (?, ?, ?)`,
			c.CarID, c.CarName, c.CarNameAbbreviated,
		)
		if err != nil {
			return fmt.Errorf("inserting car %d: %w", c.CarID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cars: %w", err)
	}
	return nil
}
