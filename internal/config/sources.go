package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourcePacing describes how often one ingest worker polls its upstream
// and how it paces requests for a single poll tick.
type SourcePacing struct {
	Site            string        `yaml:"site"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	FetchConcurrency int          `yaml:"fetch_concurrency"`
}

// SourcesFile is the static YAML document at SOURCES_CONFIG_PATH
// (default config/sources.yaml) describing pacing for every ingest
// source. Unlike credentials (env vars, secrets), pacing is
// operational tuning that is convenient to check into version control.
type SourcesFile struct {
	Sources []SourcePacing `yaml:"sources"`
}

// DefaultSourcesConfigPath is used when SOURCES_CONFIG_PATH is unset.
const DefaultSourcesConfigPath = "config/sources.yaml"

// LoadSourcesFile reads and parses the pacing config file. A missing
// file is not an error: callers fall back to DefaultPacing.
func LoadSourcesFile(path string) (SourcesFile, error) {
	if path == "" {
		path = DefaultSourcesConfigPath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SourcesFile{}, nil
		}
		return SourcesFile{}, fmt.Errorf("read sources config %s: %w", path, err)
	}
	var f SourcesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return SourcesFile{}, fmt.Errorf("parse sources config %s: %w", path, err)
	}
	return f, nil
}

// DefaultPacing returns the spec's documented default pacing for a site
// when no entry for it exists in the sources file.
func DefaultPacing(site string) SourcePacing {
	switch site {
	case "FurAffinity":
		return SourcePacing{Site: site, PollInterval: 5 * time.Minute, FetchConcurrency: 4}
	default:
		return SourcePacing{Site: site, PollInterval: 60 * time.Second, FetchConcurrency: 4}
	}
}

// Pacing looks up the pacing entry for site, falling back to the
// documented default.
func (f SourcesFile) Pacing(site string) SourcePacing {
	for _, s := range f.Sources {
		if s.Site == site {
			if s.FetchConcurrency <= 0 {
				s.FetchConcurrency = 4
			}
			if s.PollInterval <= 0 {
				s.PollInterval = DefaultPacing(site).PollInterval
			}
			return s
		}
	}
	return DefaultPacing(site)
}
