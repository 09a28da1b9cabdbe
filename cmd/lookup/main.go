// Command lookup runs the Lookup Service: the public HTTP surface
// (spec §4.6/§6) backed by a live BK-tree index maintained from
// Postgres in the background.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/config"
	"fuzzysearch/internal/hashindex"
	"fuzzysearch/internal/hashinput"
	"fuzzysearch/internal/httpapi"
	"fuzzysearch/internal/indexmaintainer"
	"fuzzysearch/internal/lookup"
	"fuzzysearch/internal/metadata"
	"fuzzysearch/internal/observability"
	"fuzzysearch/internal/phash"
)

const defaultShutdownTimeout = 10 * time.Second

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

	tree := hashindex.New()
	maintainer := indexmaintainer.New(cfg.DatabaseURL, store, tree)
	go func() {
		if err := maintainer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("index maintainer stopped")
		}
	}()

	var hasher lookup.Hasher
	if cfg.HashInputEndpoint != "" {
		hasher = hashinput.NewClient(cfg.HashInputEndpoint, http.DefaultClient)
	} else {
		hasher = phash.New(cfg.HashConcurrency)
	}

	svc := lookup.New(store, tree, hasher)
	fetcher := lookup.NewImageFetcher(http.DefaultClient)
	server := httpapi.NewServer(svc, store, fetcher, lookup.DefaultDistance)

	httpSrv := &http.Server{Addr: ":8080", Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", httpSrv.Addr).Msg("lookup service listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
