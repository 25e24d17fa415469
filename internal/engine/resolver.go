package engine

import (
	"log/slog"
	"time"

	"ocppkpi/internal/model"
	"ocppkpi/internal/normalize"
)

// Resolver assigns sessions to events that arrive without one. Authorize
// events are matched by credential; other events carrying a token but no
// transaction are checked against their temporal neighbours.
type Resolver struct {
	threshold time.Duration
	logger    *slog.Logger
}

func NewResolver(threshold time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{threshold: threshold, logger: logger}
}

// Resolve returns the events with transactions assigned and every ambiguous
// event removed. events must be ordered by timestamp.
func (r *Resolver) Resolve(events []model.NormalizedEvent) []model.NormalizedEvent {
	byDevice := make(map[int][]int)
	for i, ev := range events {
		byDevice[ev.DeviceID] = append(byDevice[ev.DeviceID], i)
	}
	outcomes := make([]model.Resolution, len(events))
	for i, ev := range events {
		outcomes[i] = ev.Transaction
		device := byDevice[ev.DeviceID]
		switch {
		case ev.Type == model.EventAuthorize:
			outcomes[i] = r.Credential(events, device, i)
		case ev.IDToken != "" && ev.Transaction.Kind == model.Unassigned:
			if res := r.Temporal(events, device, i); res.Kind == model.Ambiguous {
				outcomes[i] = res
			}
		}
	}
	out := make([]model.NormalizedEvent, 0, len(events))
	counts := map[model.ResolutionKind]int{}
	for i, ev := range events {
		ev.Transaction = outcomes[i]
		counts[ev.Transaction.Kind]++
		if ev.Transaction.Kind == model.Ambiguous {
			continue
		}
		out = append(out, ev)
	}
	if r.logger != nil {
		r.logger.Debug("transactions resolved",
			"resolved", counts[model.Resolved],
			"orphan", counts[model.Orphan],
			"ambiguous_dropped", counts[model.Ambiguous],
			"unassigned", counts[model.Unassigned],
		)
	}
	return out
}

// Credential resolves the event at index i by looking for a start presented
// with the same token on the same device. device lists that device's event
// indexes in time order.
func (r *Resolver) Credential(events []model.NormalizedEvent, device []int, i int) model.Resolution {
	ev := events[i]
	if ev.IDToken == "" {
		return model.Resolution{Kind: model.Orphan}
	}
	if ev.Type == model.EventRequestStart {
		return ev.Transaction
	}
	for _, j := range device {
		other := events[j]
		if other.IDToken != ev.IDToken || !other.Timestamp.After(ev.Timestamp) {
			continue
		}
		if other.IsStarted() && r.within(ev.Timestamp, other.Timestamp) {
			return other.Transaction
		}
	}
	for _, j := range device {
		other := events[j]
		if other.IDToken != ev.IDToken || !other.Timestamp.Before(ev.Timestamp) {
			continue
		}
		if other.IsStarted() && r.within(ev.Timestamp, other.Timestamp) {
			return model.Resolution{Kind: model.Ambiguous}
		}
	}
	return model.Resolution{Kind: model.Orphan}
}

// Temporal resolves the event at index i from its neighbours on the same
// device. The outcome is Ambiguous when a start claims the event, Orphan
// otherwise.
func (r *Resolver) Temporal(events []model.NormalizedEvent, device []int, i int) model.Resolution {
	block := r.neighbours(events, device, i)
	orphan := model.Resolution{Kind: model.Orphan}
	ambiguous := model.Resolution{Kind: model.Ambiguous}
	if len(block) == 0 {
		return orphan
	}
	if block[0].IsStarted() {
		return ambiguous
	}
	if len(block) == 2 && !block[1].IsStarted() {
		return orphan
	}
	if len(block) == 3 {
		block = block[1:]
	}
	prev, next := block[0], block[1]
	if normalize.SecondsBetween(prev.Timestamp, next.Timestamp) <= r.threshold.Seconds() && next.IsStarted() && prev.IDToken != "" {
		return ambiguous
	}
	return orphan
}

// neighbours returns the event with the one before and after it, ignoring
// authorize, request-start and status events other than the event itself.
// It is empty when the event has no successor.
func (r *Resolver) neighbours(events []model.NormalizedEvent, device []int, i int) []model.NormalizedEvent {
	var view []int
	pos := -1
	for _, j := range device {
		if j != i && skipsNeighbourhood(events[j].Type) {
			continue
		}
		if j == i {
			pos = len(view)
		}
		view = append(view, j)
	}
	if pos < 0 || len(view) == 1 || pos == len(view)-1 {
		return nil
	}
	lo := pos - 1
	if lo < 0 {
		lo = 0
	}
	block := make([]model.NormalizedEvent, 0, 3)
	for _, j := range view[lo : pos+2] {
		block = append(block, events[j])
	}
	return block
}

func skipsNeighbourhood(t model.EventType) bool {
	switch t {
	case model.EventRequestStart, model.EventAuthorize, model.EventStatusNotification:
		return true
	}
	return false
}

func (r *Resolver) within(a, b time.Time) bool {
	return normalize.SecondsBetween(a, b) < r.threshold.Seconds()
}
