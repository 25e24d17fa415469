package ingest

import (
	"errors"
	"fmt"
	"strings"

	"ocppkpi/internal/kpi"
)

var (
	ErrUnsupportedStandard = errors.New("unsupported log standard")
	ErrAmbiguousStandard   = errors.New("log standard is ambiguous and cannot be inferred from the data provided")
)

// standardThreshold is the hit ratio a sample must exceed to match a standard.
const standardThreshold = 0.2

// Standard describes how one charger log dialect marks OCPP frames and where
// the timestamp sits on each line.
type Standard struct {
	Name       string
	MessageIn  string
	MessageOut string
	Markers    []string
	DateStart  int
	DateEnd    int
}

var (
	Explicit = Standard{
		Name:       "explicit",
		MessageIn:  "[msg-in] [",
		MessageOut: "[msg-out] [",
		Markers:    []string{"[info]", "[REQUEST]", "[msg-out]", "[msg-in]", "[verdict]", "[prompt]", "[api-dismissed]"},
		DateStart:  1,
		DateEnd:    12,
	}
	Verbose = Standard{
		Name:       "verbose",
		MessageIn:  ">>> [",
		MessageOut: "<<< [",
		Markers:    []string{".cpp:", "m INFO", "mTRACE", "m WARN"},
		DateStart:  0,
		DateEnd:    24,
	}
)

func ParseStandard(name string) (Standard, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Explicit.Name:
		return Explicit, nil
	case Verbose.Name:
		return Verbose, nil
	}
	return Standard{}, fmt.Errorf("%w: %q", ErrUnsupportedStandard, name)
}

// Matches reports whether the marker hit ratio over the sample exceeds the
// detection threshold.
func (s Standard) Matches(sample []string) bool {
	var hits kpi.Fraction
	for _, line := range sample {
		for _, marker := range s.Markers {
			if strings.Contains(line, marker) {
				hits.AddToNumerator(1)
			}
		}
		hits.AddToDenominator(1)
	}
	ratio, ok := hits.Calculate()
	return ok && ratio > standardThreshold
}

// DetectStandard picks the single standard matching the sample lines.
func DetectStandard(sample []string) (Standard, error) {
	explicit := Explicit.Matches(sample)
	verbose := Verbose.Matches(sample)
	switch {
	case explicit && verbose:
		return Standard{}, ErrAmbiguousStandard
	case explicit:
		return Explicit, nil
	case verbose:
		return Verbose, nil
	}
	return Standard{}, ErrAmbiguousStandard
}

// SelectStandard honours a preselected standard name and falls back to
// detection when none is given.
func SelectStandard(preselected string, sample []string) (Standard, error) {
	if strings.TrimSpace(preselected) != "" {
		return ParseStandard(preselected)
	}
	return DetectStandard(sample)
}

type LineParser struct {
	std Standard
}

func NewLineParser(std Standard) *LineParser {
	return &LineParser{std: std}
}

func (p *LineParser) indicator(line string) string {
	if strings.Contains(line, p.std.MessageIn) {
		return p.std.MessageIn
	}
	if strings.Contains(line, p.std.MessageOut) {
		return p.std.MessageOut
	}
	return ""
}

// ParseLine extracts the frame text and the timestamp slice. ok is false for
// lines that carry no OCPP frame.
func (p *LineParser) ParseLine(line string) (message, timestamp string, ok bool) {
	ind := p.indicator(line)
	if ind == "" {
		return "", "", false
	}
	line = strings.TrimRight(line, "\r\n")
	start := strings.Index(line, ind) + len(ind) - 1
	message = line[start:]
	if p.std.DateStart < len(line) {
		end := p.std.DateEnd
		if end > len(line) {
			end = len(line)
		}
		timestamp = strings.TrimSpace(line[p.std.DateStart:end])
	}
	return message, timestamp, true
}
