package engine

import (
	"errors"
	"testing"
	"time"

	"ocppkpi/internal/config"
	"ocppkpi/internal/kpi"
	"ocppkpi/internal/model"
)

func TestRoundTripAuthorizeClaimedByStart(t *testing.T) {
	raw := []model.RawEvent{
		call(7, "10:00:00", "a1", "Authorize", map[string]any{"idToken": map[string]any{"idToken": "abc"}, "triggerReason": "Authorized"}),
		result(7, "10:00:02", "a1", map[string]any{"idTokenInfo": map[string]any{"status": "Accepted"}}),
		call(7, "10:00:03", "t1", "TransactionEvent", map[string]any{
			"eventType":       "Started",
			"triggerReason":   "CablePluggedIn",
			"idToken":         map[string]any{"idToken": "abc"},
			"transactionInfo": map[string]any{"transactionId": "55"},
		}),
		call(7, "10:00:05", "t2", "TransactionEvent", map[string]any{
			"eventType":       "Updated",
			"triggerReason":   "ChargingStateChanged",
			"transactionInfo": map[string]any{"transactionId": "55", "chargingState": "Charging"},
		}),
	}
	res, err := newEngineForTest().Run(raw)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Sessions) != 1 || res.Sessions[0].ID != "55" {
		t.Fatalf("sessions: %+v", res.Sessions)
	}
	if res.Sessions[0].Mode != kpi.ModePrePlugin {
		t.Fatalf("mode: %v", res.Sessions[0].Mode)
	}
	assertFraction(t, res.State, kpi.Eq3, 1, 1)
	assertFraction(t, res.State, kpi.Eq14, 0, 1)
	assertFraction(t, res.State, kpi.Eq10, 0, 1)
	assertFraction(t, res.State, kpi.Eq1, 0, 0)
	if got := res.State.ChargeStartTimes(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("charge start samples: %v", got)
	}
}

func TestRoundTripPlugInStart(t *testing.T) {
	events := []model.NormalizedEvent{
		event(7, "10:00:03", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "55", "abc"),
		event(7, "10:00:05", model.EventTransaction, model.CodeCharging, model.TriggerChargingStateChange, "55", ""),
	}
	res := run(t, events)
	if res.Sessions[0].Mode != kpi.ModePostPlugin {
		t.Fatalf("mode: %v", res.Sessions[0].Mode)
	}
	assertFraction(t, res.State, kpi.Eq1, 1, 1)
	assertFraction(t, res.State, kpi.Eq12, 0, 1)
	assertFraction(t, res.State, kpi.Eq10, 0, 1)
	if got := res.State.ChargeStartTimes(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("charge start samples: %v", got)
	}
}

func TestOrphanAuthorizeCountedOnce(t *testing.T) {
	events := []model.NormalizedEvent{
		event(1, "10:00:00", model.EventAuthorize, model.CodeAccepted, "", "", ""),
		event(1, "10:10:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "8", ""),
		event(1, "10:10:05", model.EventTransaction, model.CodeEnded, "EVDisconnected", "8", ""),
	}
	res := run(t, events)
	assertFraction(t, res.State, kpi.Eq3, 0, 1)
	assertFraction(t, res.State, kpi.Eq14, 0, 1)
	for _, s := range res.Sessions {
		if s.ID != "8" {
			t.Fatalf("orphan must not form a session: %+v", s)
		}
	}
	assertFraction(t, res.State, kpi.Eq12, 1, 1)
}

func TestClassificationPrecedenceIsExclusive(t *testing.T) {
	events := []model.NormalizedEvent{
		event(2, "10:00:00", model.EventRequestStart, model.CodeAccepted, "", "4", "tok"),
		event(2, "10:00:01", model.EventTransaction, model.CodeStarted, model.CodeAccepted, "4", "tok"),
		event(2, "10:00:02", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "4", "tok"),
		event(2, "10:00:04", model.EventTransaction, model.CodeCharging, model.TriggerChargingStateChange, "4", ""),
		event(2, "10:30:00", model.EventTransaction, model.CodeEnded, "Local", "4", ""),
	}
	res := run(t, events)
	if len(res.Sessions) != 1 || res.Sessions[0].Mode != kpi.ModeCachedAuth {
		t.Fatalf("sessions: %+v", res.Sessions)
	}
	assertFraction(t, res.State, kpi.Eq5, 1, 1)
	assertFraction(t, res.State, kpi.Eq16, 1, 1)
	assertFraction(t, res.State, kpi.Eq10, 1, 1)
	for _, eq := range []kpi.Equation{kpi.Eq1, kpi.Eq3, kpi.Eq4, kpi.Eq12, kpi.Eq14, kpi.Eq15} {
		assertFraction(t, res.State, eq, 0, 0)
	}
}

func TestRequestStartSession(t *testing.T) {
	events := []model.NormalizedEvent{
		event(3, "10:00:00", model.EventRequestStart, model.CodeAccepted, "", "12", "tok"),
		event(3, "10:00:06", model.EventTransaction, model.CodeCharging, model.TriggerChargingStateChange, "12", ""),
		event(3, "11:00:00", model.EventTransaction, model.CodeEnded, "Remote", "12", ""),
		event(3, "12:00:00", model.EventRequestStart, model.CodeRejected, "", "", ""),
	}
	res := run(t, events)
	if res.Sessions[0].Mode != kpi.ModeRequestStart {
		t.Fatalf("mode: %v", res.Sessions[0].Mode)
	}
	assertFraction(t, res.State, kpi.Eq4, 1, 2)
	assertFraction(t, res.State, kpi.Eq15, 1, 2)
	assertFraction(t, res.State, kpi.Eq10, 1, 1)
}

func TestDedupeAuthorizesIdempotent(t *testing.T) {
	session := []model.NormalizedEvent{
		event(1, "10:00:00", model.EventAuthorize, model.CodeAccepted, "", "5", "t"),
		event(1, "10:00:01", model.EventTransaction, model.CodeStarted, model.CodeAccepted, "5", "t"),
		event(1, "10:00:09", model.EventTransaction, model.CodeCharging, model.TriggerChargingStateChange, "5", ""),
	}
	once := dedupeAuthorizes(session)
	if len(once) != 1 || once[0].Type != model.EventTransaction {
		t.Fatalf("explicit authorize should be suppressed: %+v", once)
	}
	twice := dedupeAuthorizes(once)
	if len(twice) != len(once) || twice[0] != once[0] {
		t.Fatalf("second pass changed the set: %+v", twice)
	}

	plain := []model.NormalizedEvent{event(1, "10:00:00", model.EventAuthorize, model.CodeAccepted, "", "5", "t")}
	if got := dedupeAuthorizes(dedupeAuthorizes(plain)); len(got) != 1 {
		t.Fatalf("lone authorize must be kept: %+v", got)
	}
}

func TestCredentialResolution(t *testing.T) {
	events := []model.NormalizedEvent{
		event(1, "10:00:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "1", "T"),
		event(1, "10:02:00", model.EventAuthorize, model.CodeAccepted, "", "", "T"),
		event(1, "11:00:00", model.EventAuthorize, model.CodeAccepted, "", "", "U"),
		event(1, "11:04:59", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "2", "U"),
		event(1, "12:00:00", model.EventAuthorize, model.CodeAccepted, "", "", "V"),
		event(1, "12:05:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "3", "V"),
		event(2, "11:00:30", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "9", "U"),
	}
	sortByTime(events)
	resolved := NewResolver(config.DefaultAuthorizeThreshold, nil).Resolve(events)
	if len(resolved) != len(events)-1 {
		t.Fatalf("ambiguous authorize should be dropped, got %d events", len(resolved))
	}
	var got []model.Resolution
	for _, ev := range resolved {
		if ev.Type == model.EventAuthorize {
			got = append(got, ev.Transaction)
		}
	}
	if len(got) != 2 {
		t.Fatalf("authorizes: %+v", got)
	}
	if got[0] != model.ResolvedTo("2") {
		t.Fatalf("forward match within threshold: %v", got[0])
	}
	if got[1].Kind != model.Orphan {
		t.Fatalf("start at exactly the threshold must not match: %v", got[1])
	}
}

func TestResolutionOutcomesAreExclusive(t *testing.T) {
	events := []model.NormalizedEvent{
		event(1, "10:00:00", model.EventAuthorize, model.CodeAccepted, "", "", ""),
		event(1, "10:00:01", model.EventAuthorize, model.CodeAccepted, "", "", "A"),
		event(1, "10:00:02", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "1", "A"),
		event(1, "10:00:03", model.EventRequestStart, model.CodeRejected, "", "", "B"),
	}
	for _, ev := range NewResolver(config.DefaultAuthorizeThreshold, nil).Resolve(events) {
		switch ev.Transaction.Kind {
		case model.Resolved:
			if ev.Transaction.ID == "" {
				t.Fatalf("resolved without id: %+v", ev)
			}
		case model.Orphan, model.Unassigned:
			if ev.Transaction.ID != "" {
				t.Fatalf("sentinel outcome carries an id: %+v", ev)
			}
		case model.Ambiguous:
			t.Fatalf("ambiguous events must be dropped: %+v", ev)
		}
	}
}

func TestTemporalStrategy(t *testing.T) {
	events := []model.NormalizedEvent{
		event(4, "10:00:00", model.EventRequestStart, model.CodeRejected, "", "", "X"),
		event(4, "10:00:30", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "5", ""),
		event(4, "11:00:00", model.EventTransaction, model.CodeEnded, "Local", "5", ""),
		event(4, "12:00:00", model.EventRequestStart, model.CodeRejected, "", "", "Y"),
	}
	r := NewResolver(config.DefaultAuthorizeThreshold, nil)
	device := []int{0, 1, 2, 3}
	if got := r.Temporal(events, device, 0); got.Kind != model.Ambiguous {
		t.Fatalf("request start followed by a start: %v", got)
	}
	if got := r.Temporal(events, device, 3); got.Kind != model.Orphan {
		t.Fatalf("trailing request start: %v", got)
	}
	resolved := r.Resolve(events)
	if len(resolved) != 3 {
		t.Fatalf("expected ambiguous request start dropped, got %d", len(resolved))
	}
	if last := resolved[len(resolved)-1]; last.Transaction.Kind != model.Unassigned {
		t.Fatalf("orphan outcome must leave the transaction unassigned: %v", last.Transaction)
	}
}

func TestTemporalStrategyWindows(t *testing.T) {
	requestStart := func(clock string) model.NormalizedEvent {
		return event(4, clock, model.EventRequestStart, model.CodeRejected, "", "", "X")
	}
	cases := []struct {
		name   string
		events []model.NormalizedEvent
		want   model.ResolutionKind
	}{
		{
			name: "start before the event",
			events: []model.NormalizedEvent{
				event(4, "09:59:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "1", ""),
				requestStart("10:00:10"),
				event(4, "11:00:00", model.EventTransaction, model.CodeEnded, "Local", "1", ""),
			},
			want: model.Ambiguous,
		},
		{
			name: "pair without a start",
			events: []model.NormalizedEvent{
				requestStart("10:00:00"),
				event(4, "11:00:00", model.EventTransaction, model.CodeEnded, "Local", "1", ""),
			},
			want: model.Orphan,
		},
		{
			name: "triple with a start inside the threshold",
			events: []model.NormalizedEvent{
				event(4, "09:00:00", model.EventTransaction, model.CodeEnded, "Local", "0", ""),
				requestStart("10:00:10"),
				event(4, "10:01:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "2", ""),
			},
			want: model.Ambiguous,
		},
		{
			name: "triple with a start past the threshold",
			events: []model.NormalizedEvent{
				event(4, "09:00:00", model.EventTransaction, model.CodeEnded, "Local", "0", ""),
				requestStart("10:00:00"),
				event(4, "10:10:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "2", ""),
			},
			want: model.Orphan,
		},
		{
			name: "status at the same time is not a neighbour",
			events: []model.NormalizedEvent{
				event(4, "09:59:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "1", ""),
				event(4, "10:00:10", model.EventStatusNotification, "Occupied", "", "", ""),
				requestStart("10:00:10"),
				event(4, "11:00:00", model.EventTransaction, model.CodeEnded, "Local", "1", ""),
			},
			want: model.Ambiguous,
		},
	}
	r := NewResolver(config.DefaultAuthorizeThreshold, nil)
	for _, tc := range cases {
		device := make([]int, len(tc.events))
		at := -1
		for i, ev := range tc.events {
			device[i] = i
			if ev.IDToken == "X" {
				at = i
			}
		}
		if got := r.Temporal(tc.events, device, at); got.Kind != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got.Kind, tc.want)
		}
		kept := false
		for _, ev := range r.Resolve(tc.events) {
			if ev.IDToken == "X" {
				kept = true
				if ev.Transaction.Kind != model.Unassigned {
					t.Fatalf("%s: kept event must stay unassigned: %v", tc.name, ev.Transaction)
				}
			}
		}
		if kept == (tc.want == model.Ambiguous) {
			t.Fatalf("%s: ambiguous events are dropped, others kept (kept=%v)", tc.name, kept)
		}
	}
}

func TestValidStopRequiresTransactionEvent(t *testing.T) {
	stop := event(1, "10:00:00", model.EventTransaction, model.CodeEnded, "EVDisconnected", "1", "")
	if !isValidStop(stop) {
		t.Fatalf("transaction event with a stop reason is a valid stop")
	}
	meter := event(1, "10:00:00", model.EventMeterValues, model.CodeCharging, "Local", "1", "")
	if isValidStop(meter) {
		t.Fatalf("only transaction events can stop a session")
	}
}

func TestDedupeKeepsFirst(t *testing.T) {
	a := event(1, "10:00:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "1", "first")
	b := a
	b.IDToken = "second"
	c := a
	c.DeviceID = 2
	got := Dedupe([]model.NormalizedEvent{a, b, c})
	if len(got) != 2 || got[0].IDToken != "first" || got[1].DeviceID != 2 {
		t.Fatalf("dedupe: %+v", got)
	}
	if again := Dedupe(got); len(again) != len(got) {
		t.Fatalf("dedupe not idempotent")
	}
}

func TestWindowAndOverlap(t *testing.T) {
	edge := event(1, "23:59:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "9", "")
	edge.RawTimestamp = "2024-05-01T23:59:00.000Z"
	inside := event(1, "00:01:00", model.EventTransaction, model.CodeEnded, "Local", "9", "")
	inside.RawTimestamp = "2024-05-02T00:01:00.000Z"
	edgeOnly := event(1, "08:00:00", model.EventTransaction, model.CodeStarted, model.TriggerCablePluggedIn, "10", "")
	edgeOnly.RawTimestamp = "2024-05-30T08:00:00.000Z"
	orphan := event(1, "09:00:00", model.EventAuthorize, model.CodeAccepted, "", "", "")
	orphan.Transaction = model.Resolution{Kind: model.Orphan}
	orphan.RawTimestamp = "2024-05-03T09:00:00.000Z"
	events := []model.NormalizedEvent{edge, inside, edgeOnly, orphan}

	windowed := Window(events, "2024-05-01", "2024-05-30")
	if len(windowed) != 2 {
		t.Fatalf("window: %+v", windowed)
	}
	overlap := OverlapWindow(events, "2024-05-01", "2024-05-30", ExcludedResolutions([]int{-1}))
	if len(overlap) != 2 || overlap[0].RawTimestamp != edge.RawTimestamp {
		t.Fatalf("overlap should keep both halves of session 9: %+v", overlap)
	}
	if all := Window(events, "", ""); len(all) != len(events) {
		t.Fatalf("empty bounds must keep everything")
	}
}

func TestEmptyDatasetIsFatal(t *testing.T) {
	if _, err := newEngineForTest().Calculate(nil); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func newEngineForTest() *Engine {
	cfg := config.DefaultConfig().Analysis
	return NewEngine(cfg, nil)
}

func run(t *testing.T, events []model.NormalizedEvent) *Result {
	t.Helper()
	eng := newEngineForTest()
	res, err := eng.Calculate(eng.resolver.Resolve(events))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	return res
}

func assertFraction(t *testing.T, s *kpi.State, eq kpi.Equation, num, den int) {
	t.Helper()
	if f := s.Fraction(eq); f.Numerator != num || f.Denominator != den {
		t.Fatalf("%v: got %d/%d want %d/%d", eq, f.Numerator, f.Denominator, num, den)
	}
}

func sortByTime(events []model.NormalizedEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Timestamp.Before(events[j-1].Timestamp); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

func ts(clock string) time.Time {
	t, err := time.Parse(time.RFC3339, "2024-05-10T"+clock+"Z")
	if err != nil {
		panic(err)
	}
	return t
}

func event(device int, clock string, typ model.EventType, code, trigger, tx, token string) model.NormalizedEvent {
	return model.NormalizedEvent{
		DeviceID:      device,
		IDToken:       token,
		Transaction:   model.ResolvedTo(tx),
		Type:          typ,
		Code:          code,
		TriggerReason: trigger,
		Timestamp:     ts(clock),
		RawTimestamp:  "2024-05-10T" + clock + ".000Z",
	}
}

func call(device int, clock, id, action string, payload map[string]any) model.RawEvent {
	return model.RawEvent{
		DeviceID:     device,
		Timestamp:    ts(clock),
		RawTimestamp: "2024-05-10T" + clock + ".000Z",
		Message:      &model.Message{Kind: model.FrameCall, MessageID: id, Action: action, Payload: payload},
	}
}

func result(device int, clock, id string, payload map[string]any) model.RawEvent {
	return model.RawEvent{
		DeviceID:     device,
		Timestamp:    ts(clock),
		RawTimestamp: "2024-05-10T" + clock + ".000Z",
		Message:      &model.Message{Kind: model.FrameCallResult, MessageID: id, Payload: payload},
	}
}
