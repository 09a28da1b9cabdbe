package refresh

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/rs/zerolog/log"
)

// Job is the envelope carried on the refresh topic: exactly one of ID
// (furaffinity_load) or BatchSize (furaffinity_calculate_missing) is
// set, selected by Type.
type Job struct {
	Type      string `json:"type"`
	ID        int64  `json:"id,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

const (
	JobTypeLoad             = "furaffinity_load"
	JobTypeCalculateMissing = "furaffinity_calculate_missing"
)

// ConsumerConfig wires the Kafka reader used by RunConsumer.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	WorkerCount int
}

// RunConsumer drains the refresh topic, dispatching each job to
// HandleLoad or HandleCalculateMissing. A furaffinity_load job throttled
// with ErrThrottled is left uncommitted so the consumer group redelivers
// it once the upstream settles, matching internal/webhook's retry
// discipline. A throttled furaffinity_calculate_missing batch stops
// early without an error, so that job is committed.
func RunConsumer(ctx context.Context, cfg ConsumerConfig, w *Worker) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	defer reader.Close()

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 2
	}

	jobs := make(chan kafka.Message, workerCount*4)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if err := handle(ctx, w, msg.Value); err != nil {
					log.Error().Err(err).Msg("refresh job failed, leaving uncommitted for redelivery")
					continue
				}
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error().Err(err).Msg("refresh job commit failed")
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

func handle(ctx context.Context, w *Worker, raw []byte) error {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		log.Error().Err(err).Msg("malformed refresh job, dropping")
		return nil
	}
	switch job.Type {
	case JobTypeLoad:
		return w.HandleLoad(ctx, job.ID)
	case JobTypeCalculateMissing:
		return w.HandleCalculateMissing(ctx, job.BatchSize)
	default:
		log.Error().Str("type", job.Type).Msg("unknown refresh job type, dropping")
		return nil
	}
}
