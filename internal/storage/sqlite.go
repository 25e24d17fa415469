package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS kpi_runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			source TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			events INTEGER NOT NULL,
			sessions INTEGER NOT NULL,
			samples INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES kpi_runs(id),
			device_id INTEGER NOT NULL,
			id_token TEXT NOT NULL,
			transaction_kind TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_code TEXT NOT NULL,
			trigger_reason TEXT NOT NULL,
			ts TEXT NOT NULL,
			response_ts TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kpi_events_run_tx ON kpi_events(run_id, transaction_id)`,
		`CREATE TABLE IF NOT EXISTS kpi_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES kpi_runs(id),
			transaction_id TEXT NOT NULL,
			device_id INTEGER NOT NULL,
			mode TEXT NOT NULL,
			authorizes INTEGER NOT NULL,
			request_starts INTEGER NOT NULL,
			valid_start INTEGER NOT NULL,
			power_delivery INTEGER NOT NULL,
			valid_stop INTEGER NOT NULL,
			charge_start_seconds REAL
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_equations (
			run_id TEXT NOT NULL REFERENCES kpi_runs(id),
			equation INTEGER NOT NULL,
			numerator INTEGER NOT NULL,
			denominator INTEGER NOT NULL,
			ratio REAL,
			PRIMARY KEY (run_id, equation)
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_charge_start_times (
			run_id TEXT NOT NULL REFERENCES kpi_runs(id),
			seq INTEGER NOT NULL,
			seconds REAL NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	},
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:ocppkpi.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases live on a single connection.
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, dialect: sqliteDialect}, nil
}
