// Command refresh runs the Refresh Worker (spec §4.9): consumes
// furaffinity_load and furaffinity_calculate_missing jobs, throttled
// by a cached reading of FurAffinity's registered-online count.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/config"
	"fuzzysearch/internal/ingest"
	"fuzzysearch/internal/metadata"
	"fuzzysearch/internal/observability"
	"fuzzysearch/internal/phash"
	"fuzzysearch/internal/refresh"
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

	if cfg.Sources.FurAffinityA == "" || cfg.Sources.FurAffinityB == "" {
		log.Fatal().Msg("FA_A/FA_B are required for the refresh worker")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required for the refresh worker")
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

	source := ingest.NewFurAffinitySource(cfg.Sources.FurAffinityA, cfg.Sources.FurAffinityB, cfg.UserAgent, http.DefaultClient, store)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	}
	gauge := refresh.NewHealthGauge(redisClient, source)

	hasher := phash.New(cfg.HashConcurrency)
	worker := refresh.New(store, source, hasher, gauge, cfg.MaxOnline)

	consumerCfg := refresh.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		Topic:       cfg.Kafka.RefreshTopic,
		WorkerCount: cfg.Kafka.WorkerCount,
	}

	log.Info().Msg("refresh worker started")
	if err := refresh.RunConsumer(ctx, consumerCfg, worker); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("refresh consumer stopped")
	}
}
