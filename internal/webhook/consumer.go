package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/model"
)

const sendWebhookMaxAttempts = 3

// SubscriberLister is the one metadata-store query the new_submission
// consumer needs.
type SubscriberLister interface {
	ListWebhookSubscribers(ctx context.Context) ([]model.WebhookSubscriber, error)
}

// Config wires the topics, broker list, and worker pool size shared by
// both consumer loops, mirroring internal/orchestrator/kafka.go's
// reader configuration shape.
type Config struct {
	Brokers            []string
	GroupID            string
	NewSubmissionTopic string
	SendWebhookTopic   string
	DLQTopic           string
	WorkerCount        int
}

// RunNewSubmissionConsumer drains new_submission jobs, fanning each out
// to a send_webhook job per matching subscriber (DispatchNewSubmission).
func RunNewSubmissionConsumer(ctx context.Context, cfg Config, subscribers SubscriberLister, producer Producer) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.NewSubmissionTopic,
	})
	defer reader.Close()

	return runWorkerPool(ctx, reader, cfg.WorkerCount, func(ctx context.Context, msg kafka.Message) error {
		var payload model.WebhookPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			log.Error().Err(err).Msg("malformed new_submission payload, dropping")
			return nil
		}
		subs, err := subscribers.ListWebhookSubscribers(ctx)
		if err != nil {
			return err
		}
		return DispatchNewSubmission(ctx, payload, subs, func(ctx context.Context, job SendWebhookJob) error {
			return publishSendWebhook(ctx, producer, cfg.SendWebhookTopic, job)
		})
	})
}

// RunSendWebhookConsumer drains send_webhook jobs and delivers each one.
// A failed delivery below sendWebhookMaxAttempts is returned to the
// worker pool uncommitted, with no back-off delay; the attempt that
// reaches the limit publishes the job to the DLQ. The attempt count is
// tracked in attempts rather than in
// memory, so a crash mid-retry resumes the count on redelivery instead
// of starting over.
func RunSendWebhookConsumer(ctx context.Context, cfg Config, attempts AttemptStore, producer Producer, client *http.Client) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.SendWebhookTopic,
	})
	defer reader.Close()

	return runWorkerPool(ctx, reader, cfg.WorkerCount, func(ctx context.Context, msg kafka.Message) error {
		var job SendWebhookJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Error().Err(err).Msg("malformed send_webhook job, dropping")
			return nil
		}

		attempt, err := attempts.Increment(ctx, job.JobID())
		if err != nil {
			return err
		}

		if err := Deliver(ctx, client, job); err != nil {
			log.Warn().Err(err).Str("job_id", job.JobID()).Int("attempt", attempt).Msg("webhook delivery failed")
			if attempt < sendWebhookMaxAttempts {
				return err
			}
			if dlqErr := publishDLQ(ctx, producer, cfg.DLQTopic, job, err.Error()); dlqErr != nil {
				log.Error().Err(dlqErr).Str("job_id", job.JobID()).Msg("publish to DLQ failed")
			}
			_ = attempts.Reset(ctx, job.JobID())
			return nil
		}
		_ = attempts.Reset(ctx, job.JobID())
		return nil
	})
}

// runWorkerPool fetches messages into a buffered channel and drains it
// with a bounded pool of goroutines, committing each message only
// after handle returns — success or a terminal DLQ outcome, never a
// mid-retry error, which is returned to the caller so the consumer
// group redelivers it. Modeled on
// internal/orchestrator/kafka.go's StartKafkaConsumer.
func runWorkerPool(ctx context.Context, reader *kafka.Reader, workerCount int, handle func(context.Context, kafka.Message) error) error {
	if workerCount <= 0 {
		workerCount = 4
	}
	jobs := make(chan kafka.Message, workerCount*4)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if err := handle(ctx, msg); err != nil {
					log.Error().Err(err).Str("topic", msg.Topic).Msg("job handler failed, leaving uncommitted for redelivery")
					continue
				}
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error().Err(err).Str("topic", msg.Topic).Msg("commit failed")
				}
			}
		}()
	}

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}
