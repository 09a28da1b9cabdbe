// Command ingest runs one crawl loop (spec §4.7) per configured
// upstream source, persisting newly found submissions and publishing
// new_submission jobs for the webhook fan-out.
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
	"fuzzysearch/internal/ingest"
	"fuzzysearch/internal/metadata"
	"fuzzysearch/internal/observability"
	"fuzzysearch/internal/phash"
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

	hasher := phash.New(cfg.HashConcurrency)
	httpClient := http.DefaultClient

	var publisher ingest.WebhookPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		writer := &kafka.Writer{Addr: kafka.TCP(cfg.Kafka.Brokers...), Balancer: &kafka.LeastBytes{}}
		defer writer.Close()
		publisher = webhook.NewPublisher(writer, cfg.Kafka.NewSubmissionTopic)
	}

	sources := buildSources(cfg, store, httpClient)
	if len(sources) == 0 {
		log.Fatal().Msg("no ingest sources configured")
	}

	sourcesFile, err := config.LoadSourcesFile(cfg.SourcesConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load sources pacing config")
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		src := src
		pacing := sourcesFile.Pacing(string(src.Site()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := ingest.New(src, store, hasher, publisher, pacing.FetchConcurrency, pacing.PollInterval)
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("site", string(src.Site())).Msg("ingest worker stopped")
			}
		}()
	}

	log.Info().Int("sources", len(sources)).Msg("ingest workers started")
	wg.Wait()
}

func buildSources(cfg config.Config, store *metadata.Store, httpClient *http.Client) []ingest.Source {
	var sources []ingest.Source

	if cfg.Sources.FurAffinityA != "" && cfg.Sources.FurAffinityB != "" {
		sources = append(sources, ingest.NewFurAffinitySource(cfg.Sources.FurAffinityA, cfg.Sources.FurAffinityB, cfg.UserAgent, httpClient, store))
	}
	if cfg.Sources.E621Login != "" && cfg.Sources.E621APIKey != "" {
		sources = append(sources, ingest.NewE621Source(cfg.Sources.E621Login, cfg.Sources.E621APIKey, cfg.UserAgent, httpClient))
	}
	if cfg.Sources.WeasylAPIKey != "" {
		sources = append(sources, ingest.NewWeasylSource(cfg.Sources.WeasylAPIKey, cfg.UserAgent, httpClient))
	}
	if cfg.Sources.TwitterBearer != "" && len(cfg.Sources.TwitterHandles) > 0 {
		sources = append(sources, ingest.NewTwitterSource(cfg.Sources.TwitterBearer, cfg.Sources.TwitterHandles, httpClient))
	}

	return sources
}
