package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variables consumed by Load,
// e.g. CONTRACTWATCH_DATABASE_URL maps to database.url.
const envPrefix = "CONTRACTWATCH"

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about. Secrets
	// and endpoints deliberately have no defaults, so Unmarshal would never
	// see their env values without an explicit binding.
	for _, key := range []string{
		"database.url",
		"extraction.api_url",
		"extraction.api_key",
		"extraction.gemini_api_key",
		"auth.jwt_secret",
		"indexer.gemini_api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags and returns an
// actionable error naming the offending fields. Configuration-level
// problems (missing credentials, bad endpoint) must surface here, before
// any driver starts, rather than as N per-document failures.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// setDefaults registers defaults mirroring the tuning the processing
// pipeline was operated with.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("documents.queue_dir", "queue_documents")
	v.SetDefault("documents.results_dir", "processed_queue_documents")
	v.SetDefault("documents.notifications_dir", "processed_queue_documents")
	v.SetDefault("documents.max_file_size_mb", 100)
	v.SetDefault("documents.download_timeout_seconds", 30)

	v.SetDefault("extraction.mode", "remote")
	v.SetDefault("extraction.base_timeout_seconds", 300)
	v.SetDefault("extraction.timeout_per_10mb_seconds", 120)
	v.SetDefault("extraction.max_timeout_seconds", 1800)
	v.SetDefault("extraction.analysis_model", "gemini-2.0-flash")

	v.SetDefault("queue.driver", "sequential")
	v.SetDefault("queue.request_delay_seconds", 5)
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.max_concurrent", 10)
	v.SetDefault("queue.stuck_threshold_minutes", 20)
	v.SetDefault("queue.claim_batch_size", 0)

	v.SetDefault("indexer.enabled", false)
	v.SetDefault("indexer.embedding_model", "gemini-embedding-001")
	v.SetDefault("indexer.dimensions", 768)
}
