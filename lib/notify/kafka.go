// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/escalation"
)

// EventType is the kafka header naming the event.
const EventType = "escalation.opened"

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaConfig holds the parameters for NewKafka.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Clock   clock.Clock

	// Writer replaces the kafka.Writer built from Brokers and Topic.
	Writer MessageWriter
}

// Kafka publishes one JSON event per notification, keyed by request
// id so every event for a request lands on the same partition.
type Kafka struct {
	writer MessageWriter
	topic  string
	clock  clock.Clock
}

var _ escalation.Notifier = (*Kafka)(nil)

// Event is the message value.
type Event struct {
	Type      string             `json:"type"`
	Recipient string             `json:"recipient"`
	Subject   string             `json:"subject"`
	SentAt    time.Time          `json:"sent_at"`
	Request   escalation.Request `json:"request"`
}

// NewKafka returns a notifier publishing to cfg.Topic.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("notify: kafka topic is required")
	}
	writer := cfg.Writer
	if writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("notify: kafka brokers are required")
		}
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Kafka{writer: writer, topic: cfg.Topic, clock: clk}, nil
}

func (k *Kafka) Notify(ctx context.Context, recipient string, request escalation.Request) (escalation.Ack, error) {
	request.Ticket = nil
	now := k.clock.Now().UTC()
	value, err := json.Marshal(Event{
		Type:      EventType,
		Recipient: recipient,
		Subject:   Subject(request),
		SentAt:    now,
		Request:   request,
	})
	if err != nil {
		return escalation.Ack{}, fmt.Errorf("notify: encoding %s: %w", request.ID, err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(request.ID),
		Value:   value,
		Time:    now,
		Headers: []kafka.Header{{Key: "type", Value: []byte(EventType)}},
	})
	if err != nil {
		return escalation.Ack{}, fmt.Errorf("notify: publishing %s to %s: %w", request.ID, k.topic, err)
	}
	return escalation.Ack{Channel: "kafka", Recipient: recipient, MessageID: request.ID}, nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
