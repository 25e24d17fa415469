package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"ocppkpi/internal/model"
)

// Dedupe drops repeated events, keeping the first occurrence. Two events are
// the same when device, transaction, type, code and timestamp all match.
func Dedupe(events []model.NormalizedEvent) []model.NormalizedEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]model.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		key := hashEvent(ev)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func hashEvent(ev model.NormalizedEvent) string {
	parts := []string{
		strconv.Itoa(ev.DeviceID),
		strconv.Itoa(int(ev.Transaction.Kind)),
		ev.Transaction.ID,
		string(ev.Type),
		ev.Code,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
