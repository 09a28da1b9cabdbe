// Package webhook implements the Webhook Fan-out component (spec
// §4.8): a durable, at-least-once job queue with two classes —
// new_submission (fan out to matching subscribers) and send_webhook
// (deliver one payload to one endpoint, with retry and a DLQ). The
// queue, worker pool, and commit discipline are adapted from this
// codebase's internal/orchestrator package (kafka.go/handler.go).
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"fuzzysearch/internal/model"
)

// SendWebhookJob is one delivery attempt's worth of work: a payload and
// the single subscriber endpoint it is bound for.
type SendWebhookJob struct {
	Payload     model.WebhookPayload `json:"payload"`
	EndpointURL string                `json:"endpoint_url"`
}

// JobID identifies a send_webhook job for attempt-count bookkeeping,
// stable across redelivery after a crash.
func (j SendWebhookJob) JobID() string {
	return string(j.Payload.Site) + ":" + j.Payload.SiteID + ":" + j.EndpointURL
}

// Producer abstracts the Kafka writer behavior this package needs,
// mirroring internal/orchestrator/handler.go's own Producer interface
// so both packages can be tested against the same kind of fake.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher implements ingest.WebhookPublisher by writing a
// new_submission job to its topic.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

func (p *Publisher) PublishNewSubmission(ctx context.Context, payload model.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.producer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(string(payload.Site) + ":" + payload.SiteID),
		Value: body,
		Time:  time.Now(),
	})
}

func publishSendWebhook(ctx context.Context, producer Producer, topic string, job SendWebhookJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(job.JobID()),
		Value: body,
	})
}

func publishDLQ(ctx context.Context, producer Producer, topic string, job SendWebhookJob, reason string) error {
	env := struct {
		Job    SendWebhookJob `json:"job"`
		Reason string         `json:"reason"`
	}{Job: job, Reason: reason}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(job.JobID()), Value: body})
}
