package model

import "time"

type FrameKind int

const (
	FrameCall       FrameKind = 2
	FrameCallResult FrameKind = 3
	FrameCallError  FrameKind = 4
)

// Message is one decoded OCPP-J frame. Action is only set for calls; Payload is
// nil when the frame body is not a JSON object.
type Message struct {
	Kind      FrameKind
	MessageID string
	Action    string
	Payload   map[string]any
}

func (m *Message) IsCall() bool {
	return m != nil && m.Kind == FrameCall
}

// IsResponse reports whether the frame is shaped as a usable response.
func (m *Message) IsResponse() bool {
	return m != nil && m.Kind == FrameCallResult && m.Payload != nil
}

type RawEvent struct {
	DeviceID     int
	Timestamp    time.Time
	RawTimestamp string
	Message      *Message
}

type EventType string

const (
	EventAuthorize          EventType = "Authorize"
	EventRequestStart       EventType = "RequestStartTransaction"
	EventStatusNotification EventType = "StatusNotification"
	EventTransaction        EventType = "TransactionEvent"
	EventMeterValues        EventType = "MeterValues"
)

const (
	CodeStarted  = "Started"
	CodeEnded    = "Ended"
	CodeCharging = "Charging"
	CodeAccepted = "Accepted"
	CodeRejected = "Rejected"
	CodeUnknown  = "Unknown"
	CodeRemove   = "remove"

	TriggerAuthorized          = "Authorized"
	TriggerCablePluggedIn      = "CablePluggedIn"
	TriggerChargingStateChange = "ChargingStateChanged"
)

type ResolutionKind uint8

const (
	Unassigned ResolutionKind = iota
	Resolved
	Orphan
	Ambiguous
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Orphan:
		return "orphan"
	case Ambiguous:
		return "ambiguous"
	}
	return "unassigned"
}

// Resolution is the session a normalized event belongs to.
type Resolution struct {
	Kind ResolutionKind
	ID   string
}

func ResolvedTo(id string) Resolution {
	if id == "" {
		return Resolution{}
	}
	return Resolution{Kind: Resolved, ID: id}
}

// ResolutionFromLegacy maps the integer sentinels used by older exports
// (-1, -98, -99 orphan; -2 ambiguous) onto resolution kinds.
func ResolutionFromLegacy(v int) (Resolution, bool) {
	switch v {
	case -1, -98, -99:
		return Resolution{Kind: Orphan}, true
	case -2:
		return Resolution{Kind: Ambiguous}, true
	}
	return Resolution{}, false
}

func (r Resolution) String() string {
	switch r.Kind {
	case Resolved:
		return r.ID
	case Orphan:
		return "orphan"
	case Ambiguous:
		return "ambiguous"
	}
	return ""
}

type NormalizedEvent struct {
	DeviceID          int        `json:"device_id"`
	IDToken           string     `json:"id_token,omitempty"`
	Transaction       Resolution `json:"-"`
	Type              EventType  `json:"event_type"`
	Code              string     `json:"event_code"`
	TriggerReason     string     `json:"trigger_reason,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	RawTimestamp      string     `json:"raw_timestamp"`
	ResponseTimestamp time.Time  `json:"response_timestamp,omitempty"`
}

func (e NormalizedEvent) HasResponse() bool {
	return !e.ResponseTimestamp.IsZero()
}

func (e NormalizedEvent) IsStarted() bool {
	return e.Code == CodeStarted
}
