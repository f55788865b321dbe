package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes validation, for tests to
// mutate one field at a time.
func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, LogLevel: "info"},
		Database: DatabaseConfig{URL: "postgres://localhost:5432/contracts"},
		Documents: DocumentsConfig{
			QueueDir:               "queue_documents",
			ResultsDir:             "processed_queue_documents",
			NotificationsDir:       "processed_queue_documents",
			MaxFileSizeMB:          100,
			DownloadTimeoutSeconds: 30,
		},
		Extraction: ExtractionConfig{
			Mode:                  "remote",
			APIURL:                "https://extract.example.com/api/documents",
			APIKey:                "test-key",
			BaseTimeoutSeconds:    300,
			TimeoutPer10MBSeconds: 120,
			MaxTimeoutSeconds:     1800,
		},
		Queue: QueueConfig{
			Driver:                "sequential",
			RequestDelaySeconds:   5,
			Workers:               5,
			MaxConcurrent:         10,
			StuckThresholdMinutes: 20,
		},
		Auth: AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, Validate(validConfig()))
	})

	t.Run("missing extraction credentials in remote mode", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Extraction.APIKey = ""
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "APIKey")
	})

	t.Run("direct mode does not require remote credentials", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Extraction.Mode = "direct"
		cfg.Extraction.APIURL = ""
		cfg.Extraction.APIKey = ""
		cfg.Extraction.GeminiAPIKey = "gk"
		require.NoError(t, Validate(cfg))
	})

	t.Run("unknown driver rejected", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Queue.Driver = "fibers"
		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Driver")
	})

	t.Run("short JWT secret rejected", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.Auth.JWTSecret = "too-short"
		assert.Error(t, Validate(cfg))
	})
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONTRACTWATCH_DATABASE_URL", "postgres://localhost:5432/contracts")
	t.Setenv("CONTRACTWATCH_EXTRACTION_API_URL", "https://extract.example.com/api/documents")
	t.Setenv("CONTRACTWATCH_EXTRACTION_API_KEY", "test-key")
	t.Setenv("CONTRACTWATCH_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	// Settings without defaults must still arrive from the environment.
	assert.Equal(t, "postgres://localhost:5432/contracts", cfg.Database.URL)
	assert.Equal(t, "https://extract.example.com/api/documents", cfg.Extraction.APIURL)
	assert.Equal(t, "test-key", cfg.Extraction.APIKey)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sequential", cfg.Queue.Driver)
	assert.Equal(t, 5, cfg.Queue.RequestDelaySeconds)
	assert.Equal(t, 10, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 20, cfg.Queue.StuckThresholdMinutes)
	assert.Equal(t, 300, cfg.Extraction.BaseTimeoutSeconds)
	assert.Equal(t, 1800, cfg.Extraction.MaxTimeoutSeconds)
}
