package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// Every call is scoped to a namespace so several deployments can share a broker.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, namespace string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, namespace string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" mapstructure:"type"`

	// Namespace scopes every topic of this deployment.
	Namespace string `json:"namespace" mapstructure:"namespace"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" mapstructure:"channelbuffersize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" mapstructure:"natsurl"`
	NATSToken         string `json:"-" mapstructure:"natstoken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" mapstructure:"natsreconnectwait"` // seconds
}

// DefaultNamespace is used when EventBusConfig.Namespace is empty.
const DefaultNamespace = "default"

// Standard topic names for the scoring pipeline.
const (
	TopicDatasetIngested = "harrier.dataset.ingested"
	TopicBatchRequested  = "harrier.batch.requested"
	TopicBatchScored     = "harrier.batch.scored"
	TopicAlert           = "harrier.alert"
)

// DatasetEvent is the payload of dataset.ingested and batch.requested.
type DatasetEvent struct {
	DatasetID string `json:"datasetId"`
	TraceID   string `json:"traceId,omitempty"`
	Reason    string `json:"reason,omitempty"` // "ingest", "schedule", "api"
}

// ActorAlertEvent is the payload of harrier.alert, one per alerting actor.
type ActorAlertEvent struct {
	AssessmentID string      `json:"assessmentId"`
	DatasetID    string      `json:"datasetId"`
	Actor        ActorResult `json:"actor"`
}
