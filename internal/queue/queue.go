// Package queue carries ingestion jobs between the API and the worker
// over Pub/Sub.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
)

// Job identifies the document an ingestion stage should process.
type Job struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	DocumentID  uuid.UUID `json:"document_id"`
}

// Publisher enqueues extract and index jobs.
type Publisher struct {
	client       *pubsub.Client
	extractTopic *pubsub.Topic
	indexTopic   *pubsub.Topic
}

// NewPublisher builds a publisher over the two ingestion topics.
func NewPublisher(ctx context.Context, project, extractTopic, indexTopic string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("queue.NewPublisher: %w", err)
	}
	return &Publisher{
		client:       client,
		extractTopic: client.Topic(extractTopic),
		indexTopic:   client.Topic(indexTopic),
	}, nil
}

// Close flushes outstanding publishes and releases the connection.
func (p *Publisher) Close() error {
	p.extractTopic.Stop()
	p.indexTopic.Stop()
	return p.client.Close()
}

func publish(ctx context.Context, topic *pubsub.Topic, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishExtract enqueues the extract stage for a document.
func (p *Publisher) PublishExtract(ctx context.Context, job Job) error {
	if err := publish(ctx, p.extractTopic, job); err != nil {
		return fmt.Errorf("queue.PublishExtract: %w", err)
	}
	slog.Info("enqueued extract job", "workspace_id", job.WorkspaceID, "document_id", job.DocumentID)
	return nil
}

// PublishIndex enqueues the index stage for a document.
func (p *Publisher) PublishIndex(ctx context.Context, job Job) error {
	if err := publish(ctx, p.indexTopic, job); err != nil {
		return fmt.Errorf("queue.PublishIndex: %w", err)
	}
	slog.Info("enqueued index job", "workspace_id", job.WorkspaceID, "document_id", job.DocumentID)
	return nil
}

// Handler processes one decoded job. Returning an error nacks the
// message for redelivery.
type Handler func(ctx context.Context, job Job) error

// Consumer pulls jobs from one subscription and dispatches them.
type Consumer struct {
	sub    *pubsub.Subscription
	name   string
	logger *slog.Logger
}

// NewConsumer attaches to an existing subscription.
func NewConsumer(client *pubsub.Client, subscription string, logger *slog.Logger) *Consumer {
	return &Consumer{
		sub:    client.Subscription(subscription),
		name:   subscription,
		logger: logger,
	}
}

// Run blocks receiving messages until ctx is cancelled. Malformed
// payloads are acked and dropped; handler failures are nacked.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.logger.Error("dropping malformed job", "subscription", c.name, "error", err)
			msg.Ack()
			return
		}
		if err := handle(ctx, job); err != nil {
			c.logger.Error("job failed",
				"subscription", c.name,
				"workspace_id", job.WorkspaceID,
				"document_id", job.DocumentID,
				"error", err,
			)
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("queue.Consumer.Run: %w", err)
	}
	return nil
}
