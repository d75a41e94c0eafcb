// Package store implements the persistence contracts required by the core:
// append-only logs for measures/pings/status/away-status, upsert-by-key
// for thresholds and nonces, and the "latest row" / "latest row within
// window" queries the regulation engine and device abstraction need. It
// is backed by SQLite so that controller state (and therefore its
// decisions) survives process restarts.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the database handle. Callers never issue SQL directly
// against it; they open a Tx (a per-command transactional scope) and
// call its methods.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. A single connection is enforced: the command
// executor is the main writer, the radio worker's inbound-nonce updates
// run in their own short transactions, and SQLite serializes writers
// anyway, so pooling connections would only add contention.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS sensor_measure (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   INTEGER NOT NULL,
	kind        INTEGER NOT NULL,
	temperature REAL NOT NULL,
	humidity    REAL,
	voltage     REAL
);
CREATE INDEX IF NOT EXISTS idx_sensor_measure_kind_ts ON sensor_measure(kind, timestamp);

CREATE TABLE IF NOT EXISTS device_ping (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	kind      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_device_ping_kind_ts ON device_ping(kind, timestamp);

CREATE TABLE IF NOT EXISTS device_status (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	kind      INTEGER NOT NULL,
	status    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_device_status_kind_ts ON device_status(kind, timestamp);

CREATE TABLE IF NOT EXISTS threshold_temperature (
	device_kind      INTEGER NOT NULL,
	operating_mode   INTEGER NOT NULL,
	temperature_centi INTEGER NOT NULL,
	PRIMARY KEY (device_kind, operating_mode)
);

CREATE TABLE IF NOT EXISTS device_control (
	device_kind    INTEGER NOT NULL,
	measure_kind   INTEGER NOT NULL,
	operating_mode INTEGER NOT NULL,
	PRIMARY KEY (device_kind, measure_kind, operating_mode)
);

CREATE TABLE IF NOT EXISTS away_status (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	status    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_away_status_ts ON away_status(timestamp);

CREATE TABLE IF NOT EXISTS nonce (
	peer     INTEGER PRIMARY KEY,
	inbound  INTEGER NOT NULL DEFAULT 0,
	outbound INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS nonce_request_response_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp          INTEGER NOT NULL,
	peer               INTEGER NOT NULL,
	request_nonce      INTEGER NOT NULL,
	last_inbound_nonce INTEGER NOT NULL
);
`
