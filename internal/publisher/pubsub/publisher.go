// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type clientPublisher struct {
	publisher *pubsub.Publisher
}

func (c clientPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return c.publisher.Publish(ctx, msg)
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher topicPublisher
	stop      func()
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	if publisher == nil {
		return &Publisher{}
	}
	return &Publisher{publisher: clientPublisher{publisher: publisher}, stop: publisher.Stop}
}

// Connect creates a client for projectID and a publisher for topic.
func Connect(ctx context.Context, projectID, topic string) (*Publisher, *pubsub.Client, error) {
	if projectID == "" || topic == "" {
		return nil, nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client.Publisher(topic)), client, nil
}

// Publish marshals the payload to JSON, attaches trace context attributes and
// publishes it. The topic argument is ignored; the publisher is bound to one topic.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	if p.stop != nil {
		p.stop()
	}
	return nil
}
