// Package config builds the explicit runtime configuration for the
// pipeline. API keys are read from a key=value credentials file into
// the returned Config; they are never injected into the process
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider is one OpenAI-compatible completion endpoint.
type Provider struct {
	BaseURL string
	APIKey  string
}

// Config holds everything the pipeline needs for one run.
type Config struct {
	ResultsDir string
	SourcesDir string
	Models     []string
	Providers  map[string]Provider

	MaxAttempts int
	RetryDelay  time.Duration
}

// Base URLs for providers that expose OpenAI-compatible chat endpoints.
// Overridable via the providers section of the config file.
var defaultBaseURLs = map[string]string{
	"openai":  "https://api.openai.com/v1",
	"mistral": "https://api.mistral.ai/v1",
	"gemini":  "https://generativelanguage.googleapis.com/v1beta/openai",
}

// Load assembles a Config from the bound viper instance and the
// credentials file named by the keys-file setting. A provider's key is
// looked up as <PROVIDER>_API_KEY in that file.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ResultsDir:  v.GetString("results-dir"),
		SourcesDir:  v.GetString("sources-dir"),
		Models:      v.GetStringSlice("models"),
		Providers:   make(map[string]Provider),
		MaxAttempts: v.GetInt("retry-attempts"),
		RetryDelay:  v.GetDuration("retry-delay"),
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	keys, err := readKeys(v.GetString("keys-file"))
	if err != nil {
		return nil, err
	}

	baseURLs := make(map[string]string, len(defaultBaseURLs))
	for name, url := range defaultBaseURLs {
		baseURLs[name] = url
	}
	for name, url := range v.GetStringMapString("providers") {
		baseURLs[strings.ToLower(name)] = url
	}

	for name, url := range baseURLs {
		cfg.Providers[name] = Provider{
			BaseURL: url,
			APIKey:  keys[strings.ToUpper(name)+"_API_KEY"],
		}
	}

	return cfg, nil
}

// readKeys parses the credentials file. A missing file is not an
// error: runs against a local endpoint need no keys.
func readKeys(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("credentials file not found, proceeding without API keys", "path", path)
		return map[string]string{}, nil
	}
	keys, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file %s: %w", path, err)
	}
	return keys, nil
}
