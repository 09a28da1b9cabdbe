// Package config loads process configuration from the environment,
// following the convention used across this codebase: read env vars with
// defaults applied afterward, validate required fields once, return a
// typed Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full set of settings recognized by any cmd/ binary in
// this repository. Binaries read only the sub-structs they need.
type Config struct {
	DatabaseURL string
	LogLevel    string
	LogFmt      string
	LogPath     string

	HashInputEndpoint string // ENDPOINT_HASH_INPUT
	BKAPIEndpoint     string // ENDPOINT_BKAPI, read but unused: lookup always uses the in-process tree
	MetricsHost       string

	HashConcurrency int // default 4

	Redis RedisConfig
	Kafka KafkaConfig

	UserAgent      string
	DownloadFolder string
	MaxOnline      int // MAX_ONLINE, refresh worker pacing threshold

	SourcesConfigPath string // SOURCES_CONFIG_PATH, see LoadSourcesFile

	Sources SourcesConfig
}

// RedisConfig configures the Redis client used for webhook job attempt
// bookkeeping and the refresh worker's cached upstream-health gauge.
type RedisConfig struct {
	Addr string
}

// KafkaConfig configures the webhook fan-out job queue.
type KafkaConfig struct {
	Brokers            []string
	NewSubmissionTopic string
	SendWebhookTopic   string
	DLQTopic           string
	RefreshTopic       string
	GroupID            string
	WorkerCount        int
}

// SourcesConfig holds per-source ingest credentials.
type SourcesConfig struct {
	WeasylAPIKey   string
	FurAffinityA   string
	FurAffinityB   string
	E621Login      string
	E621APIKey     string
	TwitterBearer  string
	TwitterHandles []string
}

// Load reads configuration from the environment (optionally via a .env
// file loaded by the caller). No defaults are embedded in individual
// reads; they are applied once, after all env vars are read, mirroring
// this codebase's config loader shape.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:          strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		LogFmt:            strings.TrimSpace(os.Getenv("LOG_FMT")),
		LogPath:           strings.TrimSpace(os.Getenv("LOG_PATH")),
		HashInputEndpoint: strings.TrimSpace(os.Getenv("ENDPOINT_HASH_INPUT")),
		BKAPIEndpoint:     strings.TrimSpace(os.Getenv("ENDPOINT_BKAPI")),
		MetricsHost:       strings.TrimSpace(os.Getenv("METRICS_HOST")),
		UserAgent:         strings.TrimSpace(os.Getenv("USER_AGENT")),
		DownloadFolder:    strings.TrimSpace(os.Getenv("DOWNLOAD_FOLDER")),
		SourcesConfigPath: strings.TrimSpace(os.Getenv("SOURCES_CONFIG_PATH")),
		Redis: RedisConfig{
			Addr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		},
		Kafka: KafkaConfig{
			Brokers:            splitCommaTrim(os.Getenv("KAFKA_BROKERS")),
			NewSubmissionTopic: strings.TrimSpace(os.Getenv("KAFKA_NEW_SUBMISSION_TOPIC")),
			SendWebhookTopic:   strings.TrimSpace(os.Getenv("KAFKA_SEND_WEBHOOK_TOPIC")),
			GroupID:            strings.TrimSpace(os.Getenv("KAFKA_GROUP_ID")),
		},
		Sources: SourcesConfig{
			WeasylAPIKey: strings.TrimSpace(os.Getenv("WEASYL_APIKEY")),
			FurAffinityA: strings.TrimSpace(os.Getenv("FA_A")),
			FurAffinityB: strings.TrimSpace(os.Getenv("FA_B")),
			E621Login:      strings.TrimSpace(os.Getenv("E621_LOGIN")),
			E621APIKey:     strings.TrimSpace(os.Getenv("E621_API_KEY")),
			TwitterBearer:  strings.TrimSpace(os.Getenv("TWITTER_BEARER_TOKEN")),
			TwitterHandles: splitCommaTrim(os.Getenv("TWITTER_HANDLES")),
		},
	}

	if v := strings.TrimSpace(os.Getenv("HASH_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse HASH_CONCURRENCY: %w", err)
		}
		cfg.HashConcurrency = n
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ONLINE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse MAX_ONLINE: %w", err)
		}
		cfg.MaxOnline = n
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_WORKER_COUNT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse KAFKA_WORKER_COUNT: %w", err)
		}
		cfg.Kafka.WorkerCount = n
	}

	// Defaults applied after all env vars are read.
	if cfg.HashConcurrency <= 0 {
		cfg.HashConcurrency = 4
	}
	if cfg.MaxOnline <= 0 {
		cfg.MaxOnline = 10_000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fuzzysearch/1.0"
	}
	if cfg.Kafka.NewSubmissionTopic == "" {
		cfg.Kafka.NewSubmissionTopic = "new_submission"
	}
	if cfg.Kafka.SendWebhookTopic == "" {
		cfg.Kafka.SendWebhookTopic = "send_webhook"
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = "webhook_dlq"
	}
	if cfg.Kafka.RefreshTopic == "" {
		cfg.Kafka.RefreshTopic = "furaffinity_refresh"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "fuzzysearch-webhook"
	}
	if cfg.Kafka.WorkerCount <= 0 {
		cfg.Kafka.WorkerCount = 2
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitCommaTrim(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
