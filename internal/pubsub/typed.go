package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Topic[T] wraps a topic name and provides type-safe publishing and subscribing.
type Topic[T any] struct {
	name string
}

// NewTopic creates a typed topic.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func (t Topic[T]) Publish(ctx context.Context, p Publisher, userID string, payload T, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t.name, err)
	}

	return p.Publish(ctx, Message{
		Topic:    t.name,
		UserID:   userID,
		Payload:  data,
		Metadata: metadata,
	})
}

// Subscribe decodes every message on the topic into T before calling fn.
// Payloads that do not decode are reported as handler errors.
func (t Topic[T]) Subscribe(ctx context.Context, s Subscriber, fn func(ctx context.Context, payload T, msg Message) error) error {
	return s.Subscribe(ctx, t.name, func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", t.name, err)
		}
		return fn(ctx, payload, msg)
	})
}
