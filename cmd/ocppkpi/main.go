package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ocppkpi/internal/config"
	"ocppkpi/internal/engine"
	"ocppkpi/internal/ingest"
	"ocppkpi/internal/logging"
	"ocppkpi/internal/report"
	"ocppkpi/internal/storage"
	"ocppkpi/internal/warnings"
)

const recentWarnings = 10

type options struct {
	configPath string
	source     string
	paths      string
	start      string
	end        string
	standard   string
	out        string
	format     string
	parseOnly  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if isHelp(err) {
			return
		}
		fmt.Fprintf(os.Stderr, "ocppkpi: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel)
	warn := warnings.NewStore(cfg.Warnings.StoreLimit)

	source, err := ingest.NewSource(cfg, warn, logger)
	if err != nil {
		return err
	}
	rows, err := source.Rows(ctx)
	if err != nil {
		return fmt.Errorf("read %s input: %w", cfg.Input.Source, err)
	}
	logger.Info("input read", "source", cfg.Input.Source, "rows", len(rows))

	if opts.parseOnly != "" {
		return writeTable(opts.parseOnly, rows)
	}

	eng := engine.NewEngine(cfg.Analysis, logger)
	res, err := eng.Run(ingest.Decode(rows, time.UTC, warn, logger))
	if err != nil {
		return err
	}

	stored := storage.NewRun(cfg, res)
	if err := persist(ctx, cfg.Storage, stored, logger); err != nil {
		return err
	}

	rep := report.Build(res.State, report.Options{
		RunID:          stored.ID.String(),
		Sessions:       len(res.Sessions),
		Percentiles:    cfg.Report.Percentiles,
		Warnings:       warn,
		RecentWarnings: recentWarnings,
	})
	if rep.ChargeStart.Samples == 0 {
		logger.Warn("no charge start times for dataset, charge start kpi not calculated")
	}
	return writeReport(cfg.Report, rep, stdout)
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ocppkpi", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML or JSON config")
	fs.StringVar(&opts.source, "source", "", "input source: logs, table or kafka")
	fs.StringVar(&opts.paths, "input", "", "comma separated input files or directories")
	fs.StringVar(&opts.start, "start", "", "start date of the dataset, excluded as a partial day")
	fs.StringVar(&opts.end, "end", "", "end date of the dataset, excluded as a partial day")
	fs.StringVar(&opts.standard, "standard", "", "log standard: explicit or verbose (detected when empty)")
	fs.StringVar(&opts.out, "out", "", "report output path (stdout when empty)")
	fs.StringVar(&opts.format, "format", "", "report format: text or json")
	fs.StringVar(&opts.parseOnly, "parse-only", "", "write the parsed table to this path and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.source != "" {
		cfg.Input.Source = opts.source
	}
	if opts.paths != "" {
		cfg.Input.Paths = nil
		for _, p := range strings.Split(opts.paths, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Input.Paths = append(cfg.Input.Paths, config.ResolvePath(p))
			}
		}
	}
	if opts.start != "" {
		cfg.Analysis.WindowStart = opts.start
	}
	if opts.end != "" {
		cfg.Analysis.WindowEnd = opts.end
	}
	if opts.standard != "" {
		cfg.Input.Standard = opts.standard
	}
	if opts.out != "" {
		cfg.Report.Output = opts.out
	}
	if opts.format != "" {
		cfg.Report.Format = opts.format
	}
}

func writeTable(path string, rows []ingest.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ingest.NewTableWriter(f).Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write parsed table: %w", err)
	}
	return f.Close()
}

func persist(ctx context.Context, cfg config.StorageConfig, stored storage.Run, logger *slog.Logger) error {
	store, err := storage.NewStore(cfg)
	if err != nil || store == nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if err := store.SaveRun(ctx, stored); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	logger.Info("run stored", "run_id", stored.ID.String(), "driver", cfg.Driver)
	return nil
}

func writeReport(cfg config.ReportConfig, rep *report.Report, stdout io.Writer) error {
	if cfg.Output == "" {
		return report.Write(stdout, rep, cfg.Format, cfg.Chart)
	}
	f, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	if err := report.Write(f, rep, cfg.Format, cfg.Chart); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
