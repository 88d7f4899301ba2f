// Package events carries domain events into the engine and notification
// intents out of it over an in-process watermill bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
)

// Event is a domain event published on the event topic. Event triggers
// whose event_type equals Type start an execution with Data as its
// trigger data.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Data       map[string]any `json:"data"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Bus wraps a gochannel pub/sub and a router that drives its consumers.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	cfg    config.EventsConfig
	logger *zap.Logger
}

// NewBus creates a bus. Handlers are added before Run.
func NewBus(cfg config.EventsConfig, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wmLogger := NewZapLoggerAdapter(logger.Named("watermill"))

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.OutputChannelBuffer,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}
	return &Bus{pubsub: pubsub, router: router, cfg: cfg, logger: logger}, nil
}

// Publish sends payload to topic as JSON.
func (b *Bus) Publish(topic string, id string, payload any, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, data)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent publishes e on the event topic, filling in its id and time.
func (b *Bus) PublishEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	err := b.Publish(b.cfg.Topic, e.ID, e, map[string]string{
		"event_type": e.Type,
		"tenant_id":  e.TenantID,
	})
	return e, err
}

// Subscribe returns a raw subscription to topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// AddConsumer registers handler for every message on topic.
func (b *Bus) AddConsumer(name, topic string, handler message.NoPublishHandlerFunc) {
	b.router.AddNoPublisherHandler(name, topic, b.pubsub, handler)
}

// Run starts the router and blocks until ctx ends or the router stops.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once the router's handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("close event router: %w", err)
	}
	return b.pubsub.Close()
}

// HealthCheck fails until the router is running.
func (b *Bus) HealthCheck(context.Context) error {
	if !b.router.IsRunning() {
		return fmt.Errorf("event router not running")
	}
	return nil
}
