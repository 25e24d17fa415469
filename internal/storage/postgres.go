package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS kpi_runs (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			events INTEGER NOT NULL,
			sessions INTEGER NOT NULL,
			samples INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_events (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES kpi_runs(id),
			device_id INTEGER NOT NULL,
			id_token TEXT NOT NULL,
			transaction_kind TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_code TEXT NOT NULL,
			trigger_reason TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			response_ts TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kpi_events_run_tx ON kpi_events(run_id, transaction_id)`,
		`CREATE TABLE IF NOT EXISTS kpi_sessions (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES kpi_runs(id),
			transaction_id TEXT NOT NULL,
			device_id INTEGER NOT NULL,
			mode TEXT NOT NULL,
			authorizes INTEGER NOT NULL,
			request_starts INTEGER NOT NULL,
			valid_start BOOLEAN NOT NULL,
			power_delivery BOOLEAN NOT NULL,
			valid_stop BOOLEAN NOT NULL,
			charge_start_seconds DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_equations (
			run_id UUID NOT NULL REFERENCES kpi_runs(id),
			equation INTEGER NOT NULL,
			numerator INTEGER NOT NULL,
			denominator INTEGER NOT NULL,
			ratio DOUBLE PRECISION,
			PRIMARY KEY (run_id, equation)
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_charge_start_times (
			run_id UUID NOT NULL REFERENCES kpi_runs(id),
			seq INTEGER NOT NULL,
			seconds DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	},
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/ocppkpi?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dialect: postgresDialect}, nil
}
