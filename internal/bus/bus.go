package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig, logger *zap.Logger) (domain.EventBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize, logger), nil

	case "nats":
		return NewNATSBus(cfg, logger)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Namespace returns the configured namespace or DefaultNamespace.
func Namespace(cfg domain.EventBusConfig) string {
	if cfg.Namespace == "" {
		return domain.DefaultNamespace
	}
	return cfg.Namespace
}

// PublishJSON encodes v and publishes it to topic.
func PublishJSON(ctx context.Context, b domain.EventBus, namespace, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, namespace, topic, payload)
}

// DecodeJSON decodes a message payload into v.
func DecodeJSON(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Topic, err)
	}
	return nil
}
