package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTable = `device_ID,message,timestamp
7,"[2,""a1"",""Authorize"",{""idToken"":{""idToken"":""abc"",""type"":""ISO14443""}}]",2024-05-10T10:00:00.000Z
7,"[3,""a1"",{""idTokenInfo"":{""status"":""Accepted""}}]",2024-05-10T10:00:02.000Z
7,"[2,""t1"",""TransactionEvent"",{""eventType"":""Started"",""triggerReason"":""CablePluggedIn"",""idToken"":{""idToken"":""abc""},""transactionInfo"":{""transactionId"":""55""}}]",2024-05-10T10:00:03.000Z
7,"[2,""t2"",""TransactionEvent"",{""eventType"":""Updated"",""triggerReason"":""ChargingStateChanged"",""transactionInfo"":{""transactionId"":""55"",""chargingState"":""Charging""}}]",2024-05-10T10:00:05.000Z
7,"[2,""t3"",""TransactionEvent"",{""eventType"":""Ended"",""triggerReason"":""EVCommunicationLost"",""transactionInfo"":{""transactionId"":""55"",""stoppedReason"":""EVDisconnected""}}]",2024-05-10T11:00:00.000Z
7,"[2,""bad"",""Authorize"",{",2024-05-10T12:00:00.000Z
`

func TestRunTableToJSON(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "parsed.csv")
	if err := os.WriteFile(input, []byte(sampleTable), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dbPath := filepath.Join(dir, "runs.db")
	t.Setenv("OCPPKPI_STORAGE_DSN", "file:"+dbPath)
	cfgPath := filepath.Join(dir, "ocppkpi.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: error\nstorage:\n  enabled: true\n  driver: sqlite\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	err := run(context.Background(), []string{"-config", cfgPath, "-source", "table", "-input", input, "-format", "json"}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var rep struct {
		RunID    string `json:"run_id"`
		Sessions int    `json:"sessions"`
		Warnings int    `json:"warnings"`
		Sheets   []struct {
			Name string `json:"name"`
			Rows []struct {
				Equation    int `json:"equation"`
				Numerator   int `json:"numerator"`
				Denominator int `json:"denominator"`
			} `json:"rows"`
		} `json:"sheets"`
		ChargeStart struct {
			Samples int `json:"total_samples"`
		} `json:"charge_start_time"`
	}
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if rep.RunID == "" || rep.Sessions != 1 || rep.Warnings != 1 || rep.ChargeStart.Samples != 1 {
		t.Fatalf("report: %+v", rep)
	}
	for _, sheet := range rep.Sheets {
		if sheet.Name != "session_success" {
			continue
		}
		for _, row := range sheet.Rows {
			if row.Equation == 14 && (row.Numerator != 1 || row.Denominator != 1) {
				t.Fatalf("eq14: %+v", row)
			}
		}
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected stored run: %v", err)
	}
}

func TestRunParseOnly(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	if err := os.Mkdir(logDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	log := "[10:00:00.000] [info] boot\n[10:00:01.000] [msg-in] [2,\"1\",\"Authorize\",{}]\n"
	if err := os.WriteFile(filepath.Join(logDir, "charger.log"), []byte(log), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table := filepath.Join(dir, "parsed.csv")
	err := run(context.Background(), []string{"-source", "logs", "-input", logDir, "-parse-only", table}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(table)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if !strings.HasPrefix(string(data), "device_ID,message,timestamp\n0,") {
		t.Fatalf("parsed table: %q", data)
	}
}

func TestRunRejectsUnknownStandard(t *testing.T) {
	err := run(context.Background(), []string{"-source", "logs", "-input", t.TempDir(), "-standard", "syslog"}, &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected error for unsupported standard")
	}
}
