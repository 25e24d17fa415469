package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"ocppkpi/internal/config"
	"ocppkpi/internal/warnings"
)

const maxConsecutiveKafkaErrors = 5

// KafkaSource drains a topic of decoded event rows. The batch ends once no
// message arrives within the idle timeout.
type KafkaSource struct {
	cfg      config.KafkaConfig
	warnings *warnings.Store
	logger   *slog.Logger
	reader   messageReader
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type kafkaRecord struct {
	DeviceID  int             `json:"device_id"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

func NewKafkaSource(cfg config.KafkaConfig, warn *warnings.Store, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{cfg: cfg, warnings: warn, logger: logger}
}

func (s *KafkaSource) Rows(ctx context.Context) ([]Row, error) {
	reader := s.reader
	if reader == nil {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  s.cfg.Brokers,
			Topic:    s.cfg.Topic,
			GroupID:  s.cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		})
	}
	defer reader.Close()
	if s.logger != nil {
		s.logger.Info("kafka ingest draining", "brokers", s.cfg.Brokers, "topic", s.cfg.Topic, "group_id", s.cfg.GroupID)
	}
	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		idle = config.DefaultKafkaIdleTimeout
	}
	var rows []Row
	failures := 0
	for {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		m, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			failures++
			if s.logger != nil {
				s.logger.Warn("kafka read error", "err", err)
			}
			if failures >= maxConsecutiveKafkaErrors {
				return nil, fmt.Errorf("kafka read: %w", err)
			}
			continue
		}
		failures = 0
		row, err := decodeKafkaRecord(m.Value)
		if err != nil {
			report(s.warnings, s.logger, "kafka", -1, fmt.Errorf("offset %d: %w", m.Offset, err))
			continue
		}
		rows = append(rows, row)
	}
	if s.logger != nil {
		s.logger.Info("kafka ingest drained", "rows", len(rows))
	}
	return rows, nil
}

// decodeKafkaRecord accepts the frame either as a JSON array or as a string
// holding the array text.
func decodeKafkaRecord(value []byte) (Row, error) {
	var rec kafkaRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return Row{}, err
	}
	msg := string(rec.Message)
	var quoted string
	if err := json.Unmarshal(rec.Message, &quoted); err == nil {
		msg = quoted
	}
	if rec.Timestamp == "" {
		return Row{}, errors.New("record has no timestamp")
	}
	return Row{DeviceID: rec.DeviceID, Message: msg, Timestamp: rec.Timestamp}, nil
}

