package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"ocppkpi/internal/warnings"
)

var tableHeader = []string{"device_ID", "message", "timestamp"}

// TableSource reads parsed tables (device_ID,message,timestamp) from CSV
// files or directories of CSV files.
type TableSource struct {
	Paths    []string
	Warnings *warnings.Store
	Logger   *slog.Logger
}

func (s *TableSource) Rows(ctx context.Context) ([]Row, error) {
	files, err := expandFiles(s.Paths, ".csv")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no parsed tables found")
	}
	var rows []Row
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		parsed, err := ReadTable(f, s.Warnings, s.Logger)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = append(rows, parsed...)
	}
	return rows, nil
}

func ReadTable(r io.Reader, warn *warnings.Store, logger *slog.Logger) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	devCol, okDev := cols["device_id"]
	msgCol, okMsg := cols["message"]
	tsCol, okTS := cols["timestamp"]
	if !okDev || !okMsg || !okTS {
		return nil, fmt.Errorf("table header must contain device_ID, message, timestamp: %v", header)
	}
	var rows []Row
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report(warn, logger, "table", -1, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if devCol >= len(record) || msgCol >= len(record) || tsCol >= len(record) {
			report(warn, logger, "table", -1, fmt.Errorf("line %d: short record", line))
			continue
		}
		deviceID, err := parseDeviceID(record[devCol])
		if err != nil {
			report(warn, logger, "table", -1, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		rows = append(rows, Row{
			DeviceID:  deviceID,
			Message:   record[msgCol],
			Timestamp: strings.TrimSpace(record[tsCol]),
		})
	}
	return rows, nil
}

// TableWriter writes rows in the format TableSource reads.
type TableWriter struct {
	w      *csv.Writer
	header bool
}

func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{w: csv.NewWriter(w)}
}

func (t *TableWriter) Write(rows []Row) error {
	if !t.header {
		if err := t.w.Write(tableHeader); err != nil {
			return err
		}
		t.header = true
	}
	for _, row := range rows {
		if err := t.w.Write([]string{strconv.Itoa(row.DeviceID), row.Message, row.Timestamp}); err != nil {
			return err
		}
	}
	t.w.Flush()
	return t.w.Error()
}
