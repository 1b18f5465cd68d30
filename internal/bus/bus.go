// Package bus carries simulation events between the API, the async worker
// and external subscribers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
)

// MetadataTraceID is the message metadata key holding the originating trace ID.
const MetadataTraceID = "trace_id"

// workQueueTopics are consumed by exactly one worker per message. Every other
// topic is an event that fans out to all subscribers.
var workQueueTopics = map[string]bool{
	domain.TopicSimulationRequested: true,
}

// New creates a new event bus based on configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

type traceKey struct{}

// WithTraceID attaches a trace ID that published messages will carry.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace ID of a message, or "" when it has none.
func TraceID(msg *domain.Message) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	return msg.Metadata[MetadataTraceID]
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}

func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if traceID, ok := ctx.Value(traceKey{}).(string); ok {
		msg.Metadata[MetadataTraceID] = traceID
	}
	return msg
}
