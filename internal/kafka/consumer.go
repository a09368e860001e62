// Package kafka consumes disaster reports published by AI and external
// detectors.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"relief-service/internal/apperr"
	"relief-service/internal/escalation"
	"relief-service/internal/logging"
	"relief-service/internal/models"
)

type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

// Reporter accepts a parsed report.
type Reporter interface {
	Report(ctx context.Context, r escalation.Report) (escalation.Result, error)
}

type Consumer struct {
	reader   *kafka.Reader
	reporter Reporter
	logger   *logging.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewConsumer(cfg Config, reporter Reporter, logger *logging.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.Broker},
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{reader: reader, reporter: reporter, logger: logger, ctx: ctx, cancel: cancel}
}

func (s *Consumer) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Infof("Kafka consumer started on topic %s", s.reader.Config().Topic)
		for {
			msg, err := s.reader.ReadMessage(s.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					s.logger.Infof("Kafka consumer stopped")
					return
				}
				s.logger.Errorf("Read message failed: %v", err)
				time.Sleep(time.Second)
				continue
			}
			if err := s.handle(s.ctx, msg.Value); err != nil {
				s.logger.Errorf("Dropping report at offset %d: %v", msg.Offset, err)
			}
		}
	}()
}

// message is the wire form of a detector report.
type message struct {
	Type       string          `json:"type"`
	Severity   models.Severity `json:"severity"`
	Source     models.Source   `json:"source"`
	Location   models.Location `json:"location"`
	Confidence float64         `json:"confidence"`
	ReporterID string          `json:"reporter_id"`
}

func decode(data []byte) (escalation.Report, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return escalation.Report{}, apperr.Validation("unmarshal message failed: %v", err)
	}
	if m.Source == "" {
		m.Source = models.SourceAI
	}
	if m.Source == models.SourceManual {
		return escalation.Report{}, apperr.Validation("manual reports are not accepted from the detector topic")
	}
	return escalation.Report{
		Type:       m.Type,
		Location:   m.Location,
		Severity:   m.Severity,
		Source:     m.Source,
		ReporterID: m.ReporterID,
		Confidence: m.Confidence,
	}, nil
}

func (s *Consumer) handle(ctx context.Context, data []byte) error {
	r, err := decode(data)
	if err != nil {
		return err
	}
	res, err := s.reporter.Report(ctx, r)
	if err != nil {
		return fmt.Errorf("report rejected: %w", err)
	}
	s.logger.Infof("Processed detector report: disaster=%s severity=%s", res.Disaster.ID, res.Disaster.Severity)
	return nil
}

func (s *Consumer) Close() {
	s.cancel()
	if err := s.reader.Close(); err != nil {
		s.logger.Errorf("Failed to close Kafka reader: %v", err)
	}
}
