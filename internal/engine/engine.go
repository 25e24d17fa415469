package engine

import (
	"errors"
	"log/slog"

	"ocppkpi/internal/config"
	"ocppkpi/internal/kpi"
	"ocppkpi/internal/model"
	"ocppkpi/internal/normalize"
)

var ErrEmptyDataset = errors.New("formatted data is empty, cannot perform calculations")

// Result is the outcome of one batch run.
type Result struct {
	Events   []model.NormalizedEvent
	Sessions []Session
	State    *kpi.State
}

type Engine struct {
	cfg      config.AnalysisConfig
	logger   *slog.Logger
	resolver *Resolver
}

func NewEngine(cfg config.AnalysisConfig, logger *slog.Logger) *Engine {
	threshold := cfg.AuthorizeThreshold
	if threshold <= 0 {
		threshold = config.DefaultAuthorizeThreshold
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		resolver: NewResolver(threshold, logger),
	}
}

// Run normalizes decoded frames, resolves their transactions and computes
// the KPI state.
func (e *Engine) Run(raw []model.RawEvent) (*Result, error) {
	events := normalize.New(raw, e.logger).NormalizeAll(raw)
	events = e.resolver.Resolve(events)
	return e.Calculate(events)
}

// Calculate computes the KPI state from resolved events ordered by time.
func (e *Engine) Calculate(events []model.NormalizedEvent) (*Result, error) {
	events = Dedupe(events)
	if len(events) == 0 {
		return nil, ErrEmptyDataset
	}
	windowed := Window(events, e.cfg.WindowStart, e.cfg.WindowEnd)
	overlap := OverlapWindow(events, e.cfg.WindowStart, e.cfg.WindowEnd, ExcludedResolutions(e.cfg.ExcludeTransactions))

	state := kpi.NewState()
	orphanAuth, orphanStarts := countOrphans(windowed)
	state.AddAuthorizes(orphanAuth)
	state.AddRequestStarts(orphanStarts)

	sessions := make([]Session, 0)
	for _, group := range groupSessions(overlap) {
		s := classify(group.id, group.events)
		accumulate(state, s)
		sessions = append(sessions, s)
	}
	if e.logger != nil {
		e.logger.Info("kpis calculated",
			"events", len(events),
			"windowed", len(windowed),
			"sessions", len(sessions),
			"orphan_authorizes", orphanAuth,
			"orphan_request_starts", orphanStarts,
			"charge_start_samples", state.SampleCount(),
		)
	}
	return &Result{Events: events, Sessions: sessions, State: state}, nil
}

// countOrphans counts authorizes no session claimed and request starts
// answered without a transaction.
func countOrphans(events []model.NormalizedEvent) (authorizes, requestStarts int) {
	for _, ev := range events {
		if isAuthorizeLike(ev) && ev.Transaction.Kind == model.Orphan {
			authorizes++
		}
		if isRequestStart(ev) && ev.Transaction.Kind == model.Unassigned {
			requestStarts++
		}
	}
	return authorizes, requestStarts
}

type sessionGroup struct {
	id     model.Resolution
	events []model.NormalizedEvent
}

// groupSessions groups events by transaction in order of first appearance.
func groupSessions(events []model.NormalizedEvent) []sessionGroup {
	index := make(map[model.Resolution]int)
	var groups []sessionGroup
	for _, ev := range events {
		i, ok := index[ev.Transaction]
		if !ok {
			i = len(groups)
			index[ev.Transaction] = i
			groups = append(groups, sessionGroup{id: ev.Transaction})
		}
		groups[i].events = append(groups[i].events, ev)
	}
	return groups
}
