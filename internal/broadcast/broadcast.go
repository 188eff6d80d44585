// Package broadcast is the real-time collaborator: a named-channel
// publish/subscribe primitive used to stream execution progress. Delivery is
// best-effort; subscribers eventually observe what was published.
package broadcast

import (
	"context"
	"time"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/pkg/utils"
)

// Message is the payload carried on a channel.
type Message struct {
	EventType   string         `json:"eventType"`
	AggregateID string         `json:"aggregateId"`
	EventData   map[string]any `json:"eventData,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// FromEvent converts a domain event to a channel message.
func FromEvent(e events.Event) Message {
	return Message{
		EventType:   string(e.Type),
		AggregateID: e.AggregateID,
		EventData:   e.Data,
		UserID:      e.UserID,
		Timestamp:   e.Timestamp,
	}
}

// Encode serializes the message for the wire.
func (m Message) Encode() ([]byte, error) {
	return utils.Marshal(m)
}

// Decode parses a wire payload.
func Decode(data []byte) (Message, error) {
	return utils.FromJSONBytes[Message](data)
}

// Subscription is an open channel subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan Message
	Close() error
}

// Broadcaster publishes and subscribes on named channels.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, msg Message) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// ExecutionChannel returns the channel name for one execution.
func ExecutionChannel(prefix, executionID string) string {
	return prefix + "execution:" + executionID
}
