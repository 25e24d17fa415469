package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAuthorizeThreshold = 5 * time.Minute
	DefaultSampleLines        = 100
	DefaultKafkaIdleTimeout   = 10 * time.Second
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Input    InputConfig    `json:"input" yaml:"input"`
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
	Report   ReportConfig   `json:"report" yaml:"report"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Warnings WarningsConfig `json:"warnings" yaml:"warnings"`
}

type InputConfig struct {
	Source      string      `json:"source" yaml:"source"`
	Paths       []string    `json:"paths" yaml:"paths"`
	Standard    string      `json:"standard" yaml:"standard"`
	SampleLines int         `json:"sample_lines" yaml:"sample_lines"`
	Kafka       KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string      `json:"brokers" yaml:"brokers"`
	Topic       string        `json:"topic" yaml:"topic"`
	GroupID     string        `json:"group_id" yaml:"group_id"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

type AnalysisConfig struct {
	WindowStart         string        `json:"window_start" yaml:"window_start"`
	WindowEnd           string        `json:"window_end" yaml:"window_end"`
	ExcludeTransactions []int         `json:"exclude_transactions" yaml:"exclude_transactions"`
	AuthorizeThreshold  time.Duration `json:"authorize_threshold" yaml:"authorize_threshold"`
}

type ReportConfig struct {
	Format      string    `json:"format" yaml:"format"`
	Output      string    `json:"output" yaml:"output"`
	Chart       bool      `json:"chart" yaml:"chart"`
	Percentiles []float64 `json:"percentiles" yaml:"percentiles"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type WarningsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	SourceLogs  = "logs"
	SourceTable = "table"
	SourceKafka = "kafka"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Input: InputConfig{
			Source:      SourceTable,
			SampleLines: DefaultSampleLines,
			Kafka:       KafkaConfig{IdleTimeout: DefaultKafkaIdleTimeout},
		},
		Analysis: AnalysisConfig{
			ExcludeTransactions: []int{-1},
			AuthorizeThreshold:  DefaultAuthorizeThreshold,
		},
		Report: ReportConfig{
			Format:      "text",
			Chart:       true,
			Percentiles: []float64{10, 25, 50, 75},
		},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:ocppkpi.db?_pragma=busy_timeout(5000)"},
		Warnings: WarningsConfig{StoreLimit: 1000},
	}
}

// Load reads a YAML or JSON config file, then applies .env and OCPPKPI_*
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
		}
	}
	loadDotEnv(path)
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// loadDotEnv loads the first .env found next to the config file or in the
// working directory. Variables already set in the environment win.
func loadDotEnv(configPath string) {
	var candidates []string
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OCPPKPI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OCPPKPI_INPUT_SOURCE"); v != "" {
		cfg.Input.Source = v
	}
	if v := os.Getenv("OCPPKPI_INPUT_STANDARD"); v != "" {
		cfg.Input.Standard = v
	}
	if v := os.Getenv("OCPPKPI_KAFKA_BROKERS"); v != "" {
		cfg.Input.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("OCPPKPI_KAFKA_TOPIC"); v != "" {
		cfg.Input.Kafka.Topic = v
	}
	if v := os.Getenv("OCPPKPI_WINDOW_START"); v != "" {
		cfg.Analysis.WindowStart = v
	}
	if v := os.Getenv("OCPPKPI_WINDOW_END"); v != "" {
		cfg.Analysis.WindowEnd = v
	}
	if v := os.Getenv("OCPPKPI_AUTHORIZE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.AuthorizeThreshold = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.AuthorizeThreshold = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("OCPPKPI_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("OCPPKPI_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Input.Source == "" {
		cfg.Input.Source = SourceTable
	}
	if cfg.Input.SampleLines <= 0 {
		cfg.Input.SampleLines = DefaultSampleLines
	}
	if cfg.Input.Kafka.IdleTimeout <= 0 {
		cfg.Input.Kafka.IdleTimeout = DefaultKafkaIdleTimeout
	}
	if cfg.Analysis.AuthorizeThreshold <= 0 {
		cfg.Analysis.AuthorizeThreshold = DefaultAuthorizeThreshold
	}
	if cfg.Report.Format == "" {
		cfg.Report.Format = "text"
	}
	if len(cfg.Report.Percentiles) == 0 {
		cfg.Report.Percentiles = []float64{10, 25, 50, 75}
	}
	if cfg.Warnings.StoreLimit <= 0 {
		cfg.Warnings.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	switch cfg.Input.Source {
	case SourceLogs, SourceTable:
	case SourceKafka:
		if len(cfg.Input.Kafka.Brokers) == 0 || cfg.Input.Kafka.Topic == "" || cfg.Input.Kafka.GroupID == "" {
			return errors.New("input.kafka requires brokers, topic, group_id")
		}
	default:
		return fmt.Errorf("input.source must be one of logs, table, kafka: %q", cfg.Input.Source)
	}
	switch strings.ToLower(cfg.Input.Standard) {
	case "", "explicit", "verbose":
	default:
		return fmt.Errorf("input.standard %q is not a supported standard", cfg.Input.Standard)
	}
	switch cfg.Report.Format {
	case "text", "json":
	default:
		return fmt.Errorf("report.format must be text or json: %q", cfg.Report.Format)
	}
	for _, p := range cfg.Report.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("report.percentiles contains out-of-range rank: %v", p)
		}
	}
	if cfg.Storage.Enabled && cfg.Storage.DSN == "" {
		return errors.New("storage.dsn required when storage.enabled is true")
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
