package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Documents  DocumentsConfig  `mapstructure:"documents"  validate:"required"`
	Extraction ExtractionConfig `mapstructure:"extraction" validate:"required"`
	Queue      QueueConfig      `mapstructure:"queue"      validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"       validate:"required"`
	Indexer    IndexerConfig    `mapstructure:"indexer"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// DocumentsConfig controls where downloaded documents, raw results and
// completion notifications are stored on the local filesystem.
type DocumentsConfig struct {
	QueueDir         string `mapstructure:"queue_dir"         validate:"required"`
	ResultsDir       string `mapstructure:"results_dir"       validate:"required"`
	NotificationsDir string `mapstructure:"notifications_dir" validate:"required"`
	// MaxFileSizeMB bounds a single document download; oversized downloads
	// are treated as soft failures.
	MaxFileSizeMB int `mapstructure:"max_file_size_mb" validate:"gt=0"`
	// DownloadTimeoutSeconds applies to fetching source documents, not to
	// extraction calls, which have their own size-scaled timeout.
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds" validate:"gt=0"`
}

// ExtractionConfig configures the external extraction service client.
// When Mode is "direct" the remote endpoint is bypassed and documents are
// extracted locally instead; APIURL and APIKey are then not required.
type ExtractionConfig struct {
	Mode   string `mapstructure:"mode"    validate:"required,oneof=remote direct"`
	APIURL string `mapstructure:"api_url" validate:"required_if=Mode remote,omitempty,url"`
	APIKey string `mapstructure:"api_key" validate:"required_if=Mode remote"`
	// BaseTimeoutSeconds is the floor of the per-request timeout;
	// TimeoutPer10MBSeconds is added for every 10MB of file size, capped
	// at MaxTimeoutSeconds.
	BaseTimeoutSeconds    int `mapstructure:"base_timeout_seconds"      validate:"gt=0"`
	TimeoutPer10MBSeconds int `mapstructure:"timeout_per_10mb_seconds"  validate:"gte=0"`
	MaxTimeoutSeconds     int `mapstructure:"max_timeout_seconds"       validate:"gt=0"`
	// AnalysisModel is the Gemini model used by the direct processor.
	AnalysisModel string `mapstructure:"analysis_model"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key" validate:"required_if=Mode direct"`
}

// QueueConfig selects and tunes the processing strategy.
type QueueConfig struct {
	// Driver selects the concurrency strategy: one of sequential, pool, async.
	Driver string `mapstructure:"driver" validate:"required,oneof=sequential pool async"`
	// RequestDelaySeconds is the pause between documents in the
	// sequential driver.
	RequestDelaySeconds int `mapstructure:"request_delay_seconds" validate:"gte=0"`
	// Workers sizes the thread-pool driver.
	Workers int `mapstructure:"workers" validate:"gt=0"`
	// MaxConcurrent bounds in-flight extraction calls in the async driver.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gt=0"`
	// StuckThresholdMinutes is how long a record may sit in processing
	// before the operator-facing stuck detection reports it.
	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes" validate:"gt=0"`
	// ClaimBatchSize bounds one claim; zero claims everything queued.
	ClaimBatchSize int `mapstructure:"claim_batch_size" validate:"gte=0"`
}

// AuthConfig contains authentication settings for the admin surface.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// IndexerConfig configures the optional pgvector result indexer.
type IndexerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	GeminiAPIKey   string `mapstructure:"gemini_api_key"   validate:"required_if=Enabled true"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	// Dimensions must match the vector column in the document_chunks table.
	Dimensions int `mapstructure:"dimensions" validate:"gte=0"`
}
