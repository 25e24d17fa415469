package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ocppkpi/internal/config"
	"ocppkpi/internal/engine"
	"ocppkpi/internal/kpi"
	"ocppkpi/internal/model"
)

// Store persists the outcome of KPI runs. Runs are written once and never
// read back by the calculator.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveRun(ctx context.Context, run Run) error
}

type Run struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	Source      string
	WindowStart string
	WindowEnd   string
	Events      []model.NormalizedEvent
	Sessions    []engine.Session
	State       *kpi.State
}

// NewRun stamps a result with a fresh run id.
func NewRun(cfg *config.Config, res *engine.Result) Run {
	return Run{
		ID:          uuid.New(),
		CreatedAt:   time.Now().UTC(),
		Source:      cfg.Input.Source,
		WindowStart: cfg.Analysis.WindowStart,
		WindowEnd:   cfg.Analysis.WindowEnd,
		Events:      res.Events,
		Sessions:    res.Sessions,
		State:       res.State,
	}
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect carries what differs between the SQL backends.
type dialect struct {
	name     string
	schema   []string
	numbered bool
}

func (d dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if d.numbered {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlStore) SaveRun(ctx context.Context, run Run) (err error) {
	if s.db == nil {
		return nil
	}
	if run.State == nil {
		return errors.New("run has no kpi state")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	runID := run.ID.String()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO kpi_runs (id, created_at, source, window_start, window_end, events, sessions, samples)
		VALUES (`+s.dialect.placeholders(8)+`)`,
		runID, run.CreatedAt.UTC(), run.Source, run.WindowStart, run.WindowEnd,
		len(run.Events), len(run.Sessions), run.State.SampleCount(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err = s.insertEvents(ctx, tx, runID, run.Events); err != nil {
		return err
	}
	if err = s.insertSessions(ctx, tx, runID, run.Sessions); err != nil {
		return err
	}
	if err = s.insertEquations(ctx, tx, runID, run.State); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) insertEvents(ctx context.Context, tx *sql.Tx, runID string, events []model.NormalizedEvent) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kpi_events (run_id, device_id, id_token, transaction_kind, transaction_id, event_type, event_code, trigger_reason, ts, response_ts)
		VALUES (`+s.dialect.placeholders(10)+`)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		var resp any
		if ev.HasResponse() {
			resp = ev.ResponseTimestamp.UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			ev.DeviceID,
			ev.IDToken,
			ev.Transaction.Kind.String(),
			ev.Transaction.ID,
			string(ev.Type),
			ev.Code,
			ev.TriggerReason,
			ev.Timestamp.UTC(),
			resp,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) insertSessions(ctx context.Context, tx *sql.Tx, runID string, sessions []engine.Session) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kpi_sessions (run_id, transaction_id, device_id, mode, authorizes, request_starts, valid_start, power_delivery, valid_stop, charge_start_seconds)
		VALUES (`+s.dialect.placeholders(10)+`)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, sess := range sessions {
		var latency any
		if sess.HasChargeStart {
			latency = sess.ChargeStartSeconds
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			sess.ID,
			sess.DeviceID,
			sess.Mode.String(),
			sess.Authorizes,
			sess.RequestStarts,
			sess.ValidStart,
			sess.PowerDelivery,
			sess.ValidStop,
			latency,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) insertEquations(ctx context.Context, tx *sql.Tx, runID string, state *kpi.State) error {
	eqStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kpi_equations (run_id, equation, numerator, denominator, ratio)
		VALUES (`+s.dialect.placeholders(5)+`)`)
	if err != nil {
		return err
	}
	defer eqStmt.Close()
	for _, eq := range kpi.Equations() {
		f := state.Fraction(eq)
		var ratio any
		if v, ok := f.Calculate(); ok {
			ratio = v
		}
		if _, err := eqStmt.ExecContext(ctx, runID, eq.Number(), f.Numerator, f.Denominator, ratio); err != nil {
			return fmt.Errorf("insert equation: %w", err)
		}
	}
	sampleStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kpi_charge_start_times (run_id, seq, seconds)
		VALUES (`+s.dialect.placeholders(3)+`)`)
	if err != nil {
		return err
	}
	defer sampleStmt.Close()
	for i, v := range state.ChargeStartTimes() {
		if _, err := sampleStmt.ExecContext(ctx, runID, i, v); err != nil {
			return fmt.Errorf("insert charge start time: %w", err)
		}
	}
	return nil
}
