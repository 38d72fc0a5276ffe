package store

const schema = `
-- Drivers, first sighting wins
CREATE TABLE IF NOT EXISTS driver (
    cust_id      INTEGER PRIMARY KEY,
    display_name TEXT UNIQUE
);

-- Series event grouping
CREATE TABLE IF NOT EXISTS session (
    session_id  INTEGER PRIMARY KEY,
    series_name TEXT NOT NULL
);

-- One row per race instance, never updated
CREATE TABLE IF NOT EXISTS subsession (
    subsession_id       INTEGER PRIMARY KEY,
    session_id          INTEGER NOT NULL,
    start_time          INTEGER NOT NULL,
    license_category_id INTEGER NOT NULL,
    track_id            INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES session(session_id)
);

CREATE TABLE IF NOT EXISTS simsession (
    subsession_id     INTEGER NOT NULL,
    simsession_number INTEGER NOT NULL,
    simsession_type   INTEGER NOT NULL,
    PRIMARY KEY (subsession_id, simsession_number),
    FOREIGN KEY (subsession_id) REFERENCES subsession(subsession_id)
) WITHOUT ROWID;

-- Fact table: one row per driver per segment per race
CREATE TABLE IF NOT EXISTS driver_result (
    cust_id           INTEGER NOT NULL,
    team_id           INTEGER NOT NULL,
    subsession_id     INTEGER NOT NULL,
    simsession_number INTEGER NOT NULL,
    newi_rating       INTEGER NOT NULL,
    incidents         INTEGER NOT NULL,
    laps_complete     INTEGER NOT NULL,
    average_lap       INTEGER NOT NULL,
    car_id            INTEGER NOT NULL,
    PRIMARY KEY (cust_id, team_id, subsession_id, simsession_number),
    FOREIGN KEY (cust_id) REFERENCES driver(cust_id),
    FOREIGN KEY (subsession_id, simsession_number) REFERENCES simsession(subsession_id, simsession_number)
) WITHOUT ROWID;

-- Reference data, replaced wholesale. Not referenced by foreign keys so it
-- can be reloaded independently of the fact tables.
CREATE TABLE IF NOT EXISTS track (
    package_id INTEGER PRIMARY KEY,
    track_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS track_config (
    track_id            INTEGER PRIMARY KEY,
    package_id          INTEGER NOT NULL,
    config_name         TEXT NOT NULL DEFAULT '',
    track_config_length REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS car (
    car_id               INTEGER PRIMARY KEY,
    car_name             TEXT NOT NULL,
    car_name_abbreviated TEXT NOT NULL
);

-- Secondary indexes
CREATE INDEX IF NOT EXISTS idx_subsession_category_time ON subsession(license_category_id, start_time);
CREATE INDEX IF NOT EXISTS idx_subsession_session ON subsession(session_id);
CREATE INDEX IF NOT EXISTS idx_track_config_package ON track_config(package_id);
`
