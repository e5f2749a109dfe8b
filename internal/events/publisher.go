package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"plategate/internal/config"
	"plategate/internal/model"
)

const (
	TypePlateRead    = "plate_read"
	TypeGateDecision = "gate_decision"
)

// Envelope is the wire format for downstream consumers.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher emits plate reads and gate decisions to kafka, keyed by plate so
// one vehicle's history stays on one partition.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) *Publisher {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("event publishing disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("event publishing enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) PublishPlateRead(ctx context.Context, read model.PlateRead) error {
	return p.publish(ctx, TypePlateRead, read.Plate, read)
}

func (p *Publisher) PublishDecision(ctx context.Context, decision model.GateDecision) error {
	return p.publish(ctx, TypeGateDecision, decision.Plate, decision)
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, payload any) error {
	if p == nil || p.writer == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: envelope,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
