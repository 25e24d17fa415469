package engine

import (
	"ocppkpi/internal/kpi"
	"ocppkpi/internal/model"
	"ocppkpi/internal/normalize"
)

var validStopReasons = map[string]struct{}{
	"EnergyLimitReached": {},
	"SOCLimitReached":    {},
	"Local":              {},
	"Remote":             {},
	"StoppedByEV":        {},
	"LocalOutOfCredit":   {},
	"TimeLimitReached":   {},
	"EVDisconnected":     {},
}

// Session summarises one transaction after classification.
type Session struct {
	ID                 string   `json:"id"`
	DeviceID           int      `json:"device_id"`
	Mode               kpi.Mode `json:"-"`
	ModeName           string   `json:"mode"`
	Events             int      `json:"events"`
	Authorizes         int      `json:"authorizes"`
	RequestStarts      int      `json:"request_starts"`
	ValidStart         bool     `json:"valid_start"`
	ValidAuthStart     bool     `json:"valid_auth_start"`
	PowerDelivery      bool     `json:"power_delivery_attempt"`
	ValidStop          bool     `json:"valid_stop"`
	ChargeStartSeconds float64  `json:"charge_start_seconds"`
	HasChargeStart     bool     `json:"has_charge_start"`
}

func isAuthorizeLike(ev model.NormalizedEvent) bool {
	return ev.Type == model.EventAuthorize || (ev.IsStarted() && isAuthOutcome(ev.TriggerReason))
}

func isAuthOutcome(reason string) bool {
	return reason == model.CodeAccepted || reason == model.CodeRejected
}

func isRequestStart(ev model.NormalizedEvent) bool {
	return ev.Type == model.EventRequestStart && isAuthOutcome(ev.Code)
}

func isValidStart(ev model.NormalizedEvent) bool {
	return ev.IsStarted() && ev.TriggerReason == model.TriggerCablePluggedIn
}

func isPowerDelivery(ev model.NormalizedEvent) bool {
	return ev.Code == model.CodeCharging && ev.TriggerReason == model.TriggerChargingStateChange
}

func isValidStop(ev model.NormalizedEvent) bool {
	if ev.Type != model.EventTransaction {
		return false
	}
	_, ok := validStopReasons[ev.TriggerReason]
	return ok
}

// dedupeAuthorizes returns the authorize-like events of a session that count
// towards its authorize total. An explicit Authorize is not counted when the
// session also holds an Accepted trigger. Applying it to its own output
// changes nothing.
func dedupeAuthorizes(events []model.NormalizedEvent) []model.NormalizedEvent {
	var out []model.NormalizedEvent
	explicit, accepted := false, false
	for _, ev := range events {
		if ev.Type == model.EventAuthorize {
			explicit = true
		}
		if ev.TriggerReason == model.CodeAccepted {
			accepted = true
		}
		if isAuthorizeLike(ev) {
			out = append(out, ev)
		}
	}
	if !explicit || !accepted {
		return out
	}
	kept := out[:0]
	for _, ev := range out {
		if ev.Type != model.EventAuthorize {
			kept = append(kept, ev)
		}
	}
	return kept
}

// classify derives the signals of one session and picks its mode, first
// match wins: cached auth, request start, pre-plugin, post-plugin.
func classify(id model.Resolution, events []model.NormalizedEvent) Session {
	s := Session{ID: id.String(), Events: len(events)}
	if len(events) > 0 {
		s.DeviceID = events[0].DeviceID
	}
	s.Authorizes = len(dedupeAuthorizes(events))
	for _, ev := range events {
		if isRequestStart(ev) {
			s.RequestStarts++
		}
		s.ValidStart = s.ValidStart || isValidStart(ev)
		s.ValidAuthStart = s.ValidAuthStart || (ev.IsStarted() && isAuthOutcome(ev.TriggerReason))
		s.PowerDelivery = s.PowerDelivery || isPowerDelivery(ev)
		s.ValidStop = s.ValidStop || isValidStop(ev)
	}
	switch {
	case s.ValidAuthStart:
		s.Mode = kpi.ModeCachedAuth
	case s.RequestStarts != 0:
		s.Mode = kpi.ModeRequestStart
	case s.Authorizes != 0:
		s.Mode = kpi.ModePrePlugin
	case s.ValidStart:
		s.Mode = kpi.ModePostPlugin
	}
	s.ModeName = s.Mode.String()
	s.ChargeStartSeconds, s.HasChargeStart = chargeStartLatency(events)
	return s
}

// accumulate folds a classified session into the KPI state.
func accumulate(state *kpi.State, s Session) {
	switch s.Mode {
	case kpi.ModeCachedAuth, kpi.ModePostPlugin:
		state.AddStart(s.Mode)
	case kpi.ModeRequestStart:
		state.AddAuthorizes(s.Authorizes)
		state.AddRequestStarts(s.RequestStarts)
	case kpi.ModePrePlugin:
		state.AddAuthorizes(s.Authorizes)
	}
	if s.Mode != kpi.ModeNone {
		if s.PowerDelivery {
			state.AddPowerDeliveryAttempt(s.Mode)
		}
		if s.ValidStop {
			state.AddValidStop(s.Mode, s.PowerDelivery)
		}
	}
	if s.HasChargeStart {
		state.AddChargeStartTime(s.ChargeStartSeconds)
	}
}

// chargeStartLatency measures from the first response, or failing that the
// first plug-in start, to the first power delivery attempt.
func chargeStartLatency(events []model.NormalizedEvent) (float64, bool) {
	var delivery, response, start *model.NormalizedEvent
	for i := range events {
		ev := &events[i]
		if delivery == nil && isPowerDelivery(*ev) {
			delivery = ev
		}
		if response == nil && ev.HasResponse() {
			response = ev
		}
		if start == nil && isValidStart(*ev) {
			start = ev
		}
	}
	switch {
	case delivery == nil:
		return 0, false
	case response != nil:
		return normalize.SecondsBetween(response.ResponseTimestamp, delivery.Timestamp), true
	case start != nil:
		return normalize.SecondsBetween(start.Timestamp, delivery.Timestamp), true
	}
	return 0, false
}
