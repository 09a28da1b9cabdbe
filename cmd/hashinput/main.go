// Command hashinput runs the optional Hash-Input Service (spec §4.5)
// as its own process, for deployments that want to scale perceptual
// hashing independently of the Lookup Service.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"fuzzysearch/internal/config"
	"fuzzysearch/internal/hashinput"
	"fuzzysearch/internal/observability"
	"fuzzysearch/internal/phash"
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

	hasher := phash.New(cfg.HashConcurrency)
	server := hashinput.NewServer(hasher)

	mux := http.NewServeMux()
	mux.Handle("POST /hash", server)

	httpSrv := &http.Server{Addr: ":8081", Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Info().Str("addr", httpSrv.Addr).Msg("hash-input service listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
