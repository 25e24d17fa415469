package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ocppkpi/internal/model"
	"ocppkpi/internal/normalize"
	"ocppkpi/internal/warnings"
)

// Row is one line of the parsed table: a device, the raw OCPP frame text and
// the timestamp as it appeared in the log.
type Row struct {
	DeviceID  int
	Message   string
	Timestamp string
}

// DecodeFrame turns an OCPP-J array into a Message. Short frames decode to a
// partially filled Message; only text that is not a JSON array is an error.
func DecodeFrame(text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(text), &parts); err != nil {
		return nil, fmt.Errorf("malformed OCPP frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	var kind int
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return nil, fmt.Errorf("malformed OCPP frame type: %w", err)
	}
	msg := &model.Message{Kind: model.FrameKind(kind)}
	if len(parts) > 1 {
		msg.MessageID = scalarString(parts[1])
	}
	switch msg.Kind {
	case model.FrameCall:
		if len(parts) > 2 {
			msg.Action = scalarString(parts[2])
		}
		if len(parts) > 3 {
			msg.Payload = objectOrNil(parts[3])
		}
	case model.FrameCallResult:
		if len(parts) > 2 {
			msg.Payload = objectOrNil(parts[2])
		}
	}
	return msg, nil
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}

func objectOrNil(raw json.RawMessage) map[string]any {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil
	}
	return obj
}

// Decode converts table rows into raw events. Undecodable frames are recorded
// as warnings and kept with a nil Message; rows without a usable timestamp are
// dropped with a warning.
func Decode(rows []Row, loc *time.Location, warn *warnings.Store, logger *slog.Logger) []model.RawEvent {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.RawEvent, 0, len(rows))
	for _, row := range rows {
		ts, err := normalize.ParseTimestamp(row.Timestamp, loc)
		if err != nil {
			report(warn, logger, "timestamp", row.DeviceID, err)
			continue
		}
		msg, err := DecodeFrame(row.Message)
		if err != nil {
			report(warn, logger, "decode", row.DeviceID, fmt.Errorf("potentially malformed OCPP JSON, verify message delimiting: %w", err))
			msg = nil
		}
		out = append(out, model.RawEvent{
			DeviceID:     row.DeviceID,
			Timestamp:    ts,
			RawTimestamp: row.Timestamp,
			Message:      msg,
		})
	}
	return out
}

func report(warn *warnings.Store, logger *slog.Logger, source string, deviceID int, err error) {
	warn.Add(warnings.Warning{Source: source, DeviceID: deviceID, Detail: err.Error()})
	if logger != nil {
		logger.Warn("skipping malformed input", "source", source, "device_id", deviceID, "err", err)
	}
}

func parseDeviceID(value string) (int, error) {
	value = strings.TrimSpace(value)
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("device id %q: %w", value, err)
	}
	return id, nil
}
