// Command webhook runs the Webhook Fan-out component (spec §4.8): one
// consumer turns new_submission jobs into per-subscriber send_webhook
// jobs, the other delivers those jobs over HTTP with Kafka-redelivery
// retry.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"fuzzysearch/internal/config"
	"fuzzysearch/internal/metadata"
	"fuzzysearch/internal/observability"
	"fuzzysearch/internal/webhook"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel, cfg.LogFmt)

	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required for the webhook fan-out")
	}
	if cfg.Redis.Addr == "" {
		log.Fatal().Msg("REDIS_ADDR is required for webhook attempt tracking")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect failed")
	}
	defer pool.Close()

	store := metadata.New(pool)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema init failed")
	}

	attempts, err := webhook.NewRedisAttemptStore(cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}

	writer := &kafka.Writer{Addr: kafka.TCP(cfg.Kafka.Brokers...), Balancer: &kafka.LeastBytes{}}
	defer writer.Close()

	consumerCfg := webhook.Config{
		Brokers:            cfg.Kafka.Brokers,
		GroupID:            cfg.Kafka.GroupID,
		NewSubmissionTopic: cfg.Kafka.NewSubmissionTopic,
		SendWebhookTopic:   cfg.Kafka.SendWebhookTopic,
		DLQTopic:           cfg.Kafka.DLQTopic,
		WorkerCount:        cfg.Kafka.WorkerCount,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := webhook.RunNewSubmissionConsumer(ctx, consumerCfg, store, writer); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("new_submission consumer stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := webhook.RunSendWebhookConsumer(ctx, consumerCfg, attempts, writer, http.DefaultClient); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("send_webhook consumer stopped")
		}
	}()

	log.Info().Msg("webhook fan-out consumers started")
	wg.Wait()
}
