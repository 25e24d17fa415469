package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ocppkpi/internal/config"
	"ocppkpi/internal/warnings"
)

// Source produces the complete parsed table for one batch run.
type Source interface {
	Rows(ctx context.Context) ([]Row, error)
}

func NewSource(cfg *config.Config, warn *warnings.Store, logger *slog.Logger) (Source, error) {
	switch cfg.Input.Source {
	case config.SourceLogs:
		return &LogSource{
			Paths:       cfg.Input.Paths,
			Standard:    cfg.Input.Standard,
			SampleLines: cfg.Input.SampleLines,
			Logger:      logger,
		}, nil
	case config.SourceTable:
		return &TableSource{Paths: cfg.Input.Paths, Warnings: warn, Logger: logger}, nil
	case config.SourceKafka:
		return NewKafkaSource(cfg.Input.Kafka, warn, logger), nil
	}
	return nil, fmt.Errorf("unsupported input source %q", cfg.Input.Source)
}

// expandFiles resolves files and directories into a sorted file list.
// Hidden files are skipped; ext filters by extension when non-empty.
func expandFiles(paths []string, ext string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
				continue
			}
			files = append(files, filepath.Join(p, name))
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}
