// Package pubsub implements a Google Cloud Pub/Sub run publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/dailyfin/crawler/internal/news"
)

// Publisher emits run notifications on a Pub/Sub topic.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
}

var _ news.Publisher = (*Publisher)(nil)

// New creates a Publisher on an existing client. defaultTopic is used when a
// publish call passes an empty topic name.
func New(client *pubsub.Client, defaultTopic string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if defaultTopic == "" {
		return nil, fmt.Errorf("topic name is required")
	}
	return &Publisher{client: client, defaultTopic: defaultTopic}, nil
}

// Publish marshals the payload to JSON and publishes it, returning the
// server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	t := p.client.Topic(topic)
	defer t.Stop()

	id, err := t.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
