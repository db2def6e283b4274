package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

var errProducerNotInitialised = errors.New("event publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour the publisher
// requires.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// Publisher writes message events to the bus topic, keyed by message ID so
// events for one message stay ordered within a partition.
type Publisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewPublisher constructs a Publisher instance.
func NewPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *Publisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Publisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// Publish writes the supplied message event to the bus synchronously.
func (p *Publisher) Publish(_ context.Context, event models.MessageEvent) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event publisher: marshal message event: %w", err)
	}

	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}
	if event.TenantID != "" {
		headers["tenant-id"] = []byte(event.TenantID)
	}

	if err := p.producer.PublishSync(p.topic, []byte(event.MessageID), headers, payload); err != nil {
		return fmt.Errorf("event publisher: publish message event: %w", err)
	}
	return nil
}

// MemorySink collects events in memory. Used in place of the Kafka
// publisher in tests and local runs without a broker.
type MemorySink struct {
	mu     sync.Mutex
	events []models.MessageEvent
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Publish records the event.
func (s *MemorySink) Publish(_ context.Context, event models.MessageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []models.MessageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MessageEvent, len(s.events))
	copy(out, s.events)
	return out
}
