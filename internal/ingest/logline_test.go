package ingest

import (
	"errors"
	"testing"
)

func TestParseLineVerbose(t *testing.T) {
	p := NewLineParser(Verbose)
	line := `2024-05-01T10:00:00.123Z [main.cpp:42] m INFO >>> [2,"abc","Authorize",{"idToken":{"idToken":"tok","type":"ISO14443"}}]` + "\n"
	msg, ts, ok := p.ParseLine(line)
	if !ok {
		t.Fatalf("expected frame line")
	}
	if ts != "2024-05-01T10:00:00.123Z" {
		t.Fatalf("timestamp: %q", ts)
	}
	if msg != `[2,"abc","Authorize",{"idToken":{"idToken":"tok","type":"ISO14443"}}]` {
		t.Fatalf("message: %q", msg)
	}
}

func TestParseLineExplicitOutbound(t *testing.T) {
	p := NewLineParser(Explicit)
	msg, ts, ok := p.ParseLine(`[10:00:02.500] [msg-out] [3,"abc",{"idTokenInfo":{"status":"Accepted"}}]`)
	if !ok || ts != "10:00:02.50" {
		t.Fatalf("unexpected parse: ok=%v ts=%q", ok, ts)
	}
	if msg[0] != '[' {
		t.Fatalf("message should start at frame: %q", msg)
	}
	if _, _, ok := p.ParseLine("[10:00:03.000] [info] heartbeat"); ok {
		t.Fatalf("line without frame should be skipped")
	}
}

func TestDetectStandard(t *testing.T) {
	verbose := []string{
		"2024-05-01T10:00:00.000Z main.cpp:10 m INFO boot",
		"2024-05-01T10:00:01.000Z ws.cpp:22 m INFO >>> [2,\"1\",\"Heartbeat\",{}]",
	}
	std, err := DetectStandard(verbose)
	if err != nil || std.Name != "verbose" {
		t.Fatalf("expected verbose, got %q err=%v", std.Name, err)
	}

	explicit := []string{"[10:00:00.000] [info] boot", "[10:00:01.000] [msg-in] [2,\"1\",\"Heartbeat\",{}]"}
	std, err = DetectStandard(explicit)
	if err != nil || std.Name != "explicit" {
		t.Fatalf("expected explicit, got %q err=%v", std.Name, err)
	}

	mixed := append(append([]string{}, verbose...), explicit...)
	if _, err := DetectStandard(mixed); !errors.Is(err, ErrAmbiguousStandard) {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if _, err := DetectStandard([]string{"plain text"}); !errors.Is(err, ErrAmbiguousStandard) {
		t.Fatalf("expected error when nothing matches, got %v", err)
	}
}

func TestSelectStandardRejectsUnknownPreset(t *testing.T) {
	if _, err := SelectStandard("syslog", nil); !errors.Is(err, ErrUnsupportedStandard) {
		t.Fatalf("expected ErrUnsupportedStandard, got %v", err)
	}
	std, err := SelectStandard("Explicit", nil)
	if err != nil || std.Name != "explicit" {
		t.Fatalf("preset: %q %v", std.Name, err)
	}
}
