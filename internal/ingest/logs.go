package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// LogSource reads raw charger logs; every file is one device and the device
// id is the file's position in the sorted input.
type LogSource struct {
	Paths       []string
	Standard    string
	SampleLines int
	Logger      *slog.Logger
}

func (s *LogSource) Rows(ctx context.Context) ([]Row, error) {
	files, err := expandFiles(s.Paths, "")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no log files found")
	}
	sample, err := readSample(files[0], s.SampleLines)
	if err != nil {
		return nil, err
	}
	std, err := SelectStandard(s.Standard, sample)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("log standard selected", "standard", std.Name, "files", len(files))
	}
	parser := NewLineParser(std)
	var rows []Row
	for deviceID, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed, err := parseLogFile(path, deviceID, parser)
		if err != nil {
			return nil, err
		}
		rows = append(rows, parsed...)
	}
	return rows, nil
}

func readSample(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := newLineScanner(f)
	lines := make([]string, 0, n)
	for len(lines) < n && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func parseLogFile(path string, deviceID int, parser *LineParser) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []Row
	scanner := newLineScanner(f)
	for scanner.Scan() {
		msg, ts, ok := parser.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		rows = append(rows, Row{DeviceID: deviceID, Message: msg, Timestamp: ts})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func newLineScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}
