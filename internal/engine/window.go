package engine

import (
	"strconv"
	"strings"
	"time"

	"ocppkpi/internal/model"
)

// Window drops events whose timestamp text contains the start or end date
// literal. An empty literal disables that bound.
func Window(events []model.NormalizedEvent, start, end string) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		text := timestampText(ev)
		if start != "" && strings.Contains(text, start) {
			continue
		}
		if end != "" && strings.Contains(text, end) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// OverlapWindow keeps every event, edge days included, whose transaction
// appears inside the window. Transactions listed in exclude never qualify;
// unassigned events never form a session.
func OverlapWindow(events []model.NormalizedEvent, start, end string, exclude []model.Resolution) []model.NormalizedEvent {
	inWindow := make(map[model.Resolution]struct{})
	for _, ev := range Window(events, start, end) {
		if ev.Transaction.Kind == model.Unassigned {
			continue
		}
		inWindow[ev.Transaction] = struct{}{}
	}
	for _, r := range exclude {
		delete(inWindow, r)
	}
	out := make([]model.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if _, ok := inWindow[ev.Transaction]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// ExcludedResolutions maps configured transaction values onto resolutions.
// Legacy sentinels map to their kinds; anything else is a concrete id.
func ExcludedResolutions(values []int) []model.Resolution {
	out := make([]model.Resolution, 0, len(values))
	for _, v := range values {
		if r, ok := model.ResolutionFromLegacy(v); ok {
			out = append(out, r)
			continue
		}
		out = append(out, model.ResolvedTo(strconv.Itoa(v)))
	}
	return out
}

func timestampText(ev model.NormalizedEvent) string {
	if ev.RawTimestamp != "" {
		return ev.RawTimestamp
	}
	return ev.Timestamp.Format(time.RFC3339Nano)
}
