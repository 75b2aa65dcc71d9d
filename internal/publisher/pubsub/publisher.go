// Package pubsub publishes run summaries to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"maps"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrNotConfigured is returned by Publish when no topic publisher is bound.
var ErrNotConfigured = errors.New("pubsub publisher is not configured")

// Publisher sends JSON run summaries to a single topic.
type Publisher struct {
	topic  *pubsub.Publisher
	client *pubsub.Client
}

// New binds a Publisher to an existing topic publisher. The caller keeps
// ownership of the client that produced it.
func New(topic *pubsub.Publisher) *Publisher {
	return &Publisher{topic: topic}
}

// Open dials Pub/Sub for projectID and binds the Publisher to topic.
func Open(ctx context.Context, projectID, topic string) (*Publisher, error) {
	switch {
	case projectID == "":
		return nil, errors.New("pubsub project id is required")
	case topic == "":
		return nil, errors.New("pubsub topic is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client for %s: %w", projectID, err)
	}
	return &Publisher{topic: client.Publisher(topic), client: client}, nil
}

// Publish sends payload with attrs and waits for the server-assigned id.
func (p *Publisher) Publish(ctx context.Context, attrs map[string]string, payload any) (string, error) {
	if p.topic == nil {
		return "", ErrNotConfigured
	}
	msg, err := newMessage(ctx, attrs, payload)
	if err != nil {
		return "", err
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish run summary: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases a client created by Open.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// newMessage encodes payload and carries the caller's trace context in the
// message attributes alongside attrs.
func newMessage(ctx context.Context, attrs map[string]string, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode run summary: %w", err)
	}
	carrier := make(propagation.MapCarrier, len(attrs)+2)
	maps.Copy(carrier, attrs)
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return &pubsub.Message{Data: data, Attributes: carrier}, nil
}
