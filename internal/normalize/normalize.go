package normalize

import (
	"log/slog"
	"sort"
	"time"

	"ocppkpi/internal/model"
)

// Response is the outcome carried by the CallResult answering a request.
// Status is "Unknown" and Timestamp is zero when no response was found.
type Response struct {
	Status        string
	TransactionID string
	Timestamp     time.Time
}

type messageKey struct {
	deviceID  int
	messageID string
}

// Normalizer flattens decoded frames into normalized events. It keeps every
// frame of the batch indexed by device and message id so requests can be
// paired with the responses that carry their outcome.
type Normalizer struct {
	logger *slog.Logger
	frames map[messageKey][]model.RawEvent
}

func New(events []model.RawEvent, logger *slog.Logger) *Normalizer {
	n := &Normalizer{logger: logger, frames: make(map[messageKey][]model.RawEvent)}
	for _, ev := range events {
		if ev.Message == nil || ev.Message.MessageID == "" {
			continue
		}
		key := messageKey{deviceID: ev.DeviceID, messageID: ev.Message.MessageID}
		n.frames[key] = append(n.frames[key], ev)
	}
	for _, list := range n.frames {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	}
	return n
}

// Relevant reports whether a frame feeds the analysis: a call whose action is
// on the allow-list, or meter values reporting an active charge.
func Relevant(msg *model.Message) bool {
	if !msg.IsCall() || msg.Payload == nil {
		return false
	}
	switch model.EventType(msg.Action) {
	case model.EventAuthorize, model.EventRequestStart, model.EventStatusNotification, model.EventTransaction:
		return true
	case model.EventMeterValues:
		state, _ := field(msg.Payload, "chargingState")
		return state == model.CodeCharging
	}
	return false
}

// NormalizeAll normalizes every relevant event, drops transaction updates
// without a charging state and returns the result ordered by timestamp.
func (n *Normalizer) NormalizeAll(events []model.RawEvent) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(events))
	removed := 0
	for _, ev := range events {
		norm, ok := n.Normalize(ev)
		if !ok {
			continue
		}
		if norm.Code == model.CodeRemove {
			removed++
			continue
		}
		out = append(out, norm)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if n.logger != nil {
		n.logger.Debug("events normalized", "input", len(events), "normalized", len(out), "removed", removed)
	}
	return out
}

// Normalize turns one raw event into a normalized event. ok is false when the
// frame is absent or not relevant.
func (n *Normalizer) Normalize(ev model.RawEvent) (model.NormalizedEvent, bool) {
	if !Relevant(ev.Message) {
		return model.NormalizedEvent{}, false
	}
	code, txID, respTS := n.eventInfo(ev)
	trigger, triggerTS := n.triggerReason(ev, code)
	if respTS.IsZero() && !triggerTS.IsZero() {
		respTS = triggerTS
	}
	return model.NormalizedEvent{
		DeviceID:          ev.DeviceID,
		IDToken:           idToken(ev.Message.Payload),
		Transaction:       model.ResolvedTo(txID),
		Type:              model.EventType(ev.Message.Action),
		Code:              code,
		TriggerReason:     trigger,
		Timestamp:         ev.Timestamp,
		RawTimestamp:      ev.RawTimestamp,
		ResponseTimestamp: respTS,
	}, true
}

// Correlate finds the first response-shaped frame sharing the request's
// device and message id at or after the request time.
func (n *Normalizer) Correlate(ev model.RawEvent) Response {
	if ev.Message == nil {
		return Response{Status: model.CodeUnknown}
	}
	key := messageKey{deviceID: ev.DeviceID, messageID: ev.Message.MessageID}
	for _, candidate := range n.frames[key] {
		if candidate.Timestamp.Before(ev.Timestamp) || !candidate.Message.IsResponse() {
			continue
		}
		body := candidate.Message.Payload
		if info, ok := object(body, "idTokenInfo"); ok {
			status, _ := field(info, "status")
			return Response{Status: status, Timestamp: candidate.Timestamp}
		}
		if has(body, "status") && has(body, "transactionId") {
			status, _ := field(body, "status")
			tx, _ := field(body, "transactionId")
			return Response{Status: status, TransactionID: tx, Timestamp: candidate.Timestamp}
		}
		if info, ok := object(body, "statusInfo"); ok {
			if reason, _ := field(info, "reasonCode"); reason == "SessionStartRejected" {
				status, _ := field(body, "status")
				return Response{Status: status, Timestamp: candidate.Timestamp}
			}
		}
	}
	return Response{Status: model.CodeUnknown}
}

func (n *Normalizer) eventInfo(ev model.RawEvent) (code, txID string, respTS time.Time) {
	msg := ev.Message
	body := msg.Payload
	switch model.EventType(msg.Action) {
	case model.EventAuthorize, model.EventRequestStart:
		resp := n.Correlate(ev)
		return resp.Status, resp.TransactionID, resp.Timestamp
	}
	eventType, _ := field(body, "eventType")
	info, hasInfo := object(body, "transactionInfo")
	if hasInfo {
		tx, _ := field(info, "transactionId")
		if has(info, "stoppedReason") {
			return model.CodeEnded, tx, time.Time{}
		}
		if eventType == model.CodeStarted {
			return model.CodeStarted, tx, time.Time{}
		}
	}
	if model.EventType(msg.Action) == model.EventStatusNotification {
		status, _ := field(body, "connectorStatus")
		return status, "", time.Time{}
	}
	if eventType == "Updated" && hasInfo {
		state, ok := field(info, "chargingState")
		if !ok {
			return model.CodeRemove, "", time.Time{}
		}
		tx, _ := field(info, "transactionId")
		return state, tx, time.Time{}
	}
	if eventType != "" {
		return eventType, "", time.Time{}
	}
	state, _ := field(body, "chargingState")
	return state, "", time.Time{}
}

func (n *Normalizer) triggerReason(ev model.RawEvent, code string) (string, time.Time) {
	body := ev.Message.Payload
	if code == model.CodeEnded {
		info, _ := object(body, "transactionInfo")
		reason, _ := field(info, "stoppedReason")
		return reason, time.Time{}
	}
	reason, _ := field(body, "triggerReason")
	if code != model.CodeStarted || reason != model.TriggerAuthorized {
		return reason, time.Time{}
	}
	resp := n.Correlate(ev)
	if resp.Status == model.CodeUnknown {
		return model.CodeRejected, resp.Timestamp
	}
	return resp.Status, resp.Timestamp
}

func idToken(body map[string]any) string {
	token, ok := object(body, "idToken")
	if !ok {
		return ""
	}
	value, _ := field(token, "idToken")
	return CanonicalToken(value)
}
