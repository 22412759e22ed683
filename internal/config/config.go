// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Images     ImagesConfig     `mapstructure:"images"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Sources    []SourceConfig   `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxUploadBytes caps request bodies for batch and image uploads.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SchedulerConfig controls the batch scheduler loop.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// CheckpointEvery persists import progress after this many items.
	CheckpointEvery int `mapstructure:"checkpoint_every"`
}

// ImagesConfig sizes the canonical image and its derivatives.
type ImagesConfig struct {
	WorkDir        string        `mapstructure:"work_dir"`
	ThumbSize      int           `mapstructure:"thumb_size"`
	ScaledSize     int           `mapstructure:"scaled_size"`
	MinSize        int           `mapstructure:"min_size"`
	JPEGQuality    int           `mapstructure:"jpeg_quality"`
	UploadAttempts int           `mapstructure:"upload_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// StorageConfig selects the durable blob store.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
	LocalBaseDir string `mapstructure:"local_base_dir"`
}

// DatabaseConfig selects the document store.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// SimilarityConfig selects the similarity engine.
type SimilarityConfig struct {
	Backend  string        `mapstructure:"backend"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MinScore float64       `mapstructure:"min_score"`
	Limit    int           `mapstructure:"limit"`
}

// PubSubConfig holds metadata for batch notifications. An empty project
// keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogSink        bool          `mapstructure:"log_sink"`
	MetricsSink    bool          `mapstructure:"metrics_sink"`
	WebsocketSink  bool          `mapstructure:"websocket_sink"`
}

// FetchConfig configures remote batch downloads.
type FetchConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Attempts    int           `mapstructure:"attempts"`
	MaxBodySize int           `mapstructure:"max_body_size"`

	// RatePerSecond limits downloads per host. Zero disables throttling.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SourceConfig seeds one archive source at boot.
type SourceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	Lang string `mapstructure:"lang"`
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendHTTP     = "http"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARTIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(512<<20))
	v.SetDefault("logging.development", true)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 5*time.Second)
	v.SetDefault("scheduler.checkpoint_every", 25)
	v.SetDefault("images.work_dir", "data")
	v.SetDefault("images.thumb_size", 220)
	v.SetDefault("images.scaled_size", 300)
	v.SetDefault("images.min_size", 150)
	v.SetDefault("images.jpeg_quality", 90)
	v.SetDefault("images.upload_attempts", 3)
	v.SetDefault("images.retry_base_delay", 250*time.Millisecond)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.cache_control", "public, max-age=31536000, immutable")
	v.SetDefault("storage.local_base_dir", "data/blobs")
	v.SetDefault("database.backend", BackendSQLite)
	v.SetDefault("database.dsn", "data/artimport.db")
	v.SetDefault("database.migrate", true)
	v.SetDefault("similarity.backend", BackendMemory)
	v.SetDefault("similarity.timeout", 30*time.Second)
	v.SetDefault("similarity.min_score", 0.75)
	v.SetDefault("pubsub.topic_name", "import-batches")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
	v.SetDefault("progress.log_sink", true)
	v.SetDefault("progress.metrics_sink", true)
	v.SetDefault("progress.websocket_sink", true)
	v.SetDefault("fetch.user_agent", "artimport/1.0")
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.attempts", 3)
	v.SetDefault("fetch.rate_per_second", 1.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("telemetry.service_name", "artimport")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0")
	}
	if strings.TrimSpace(c.Images.WorkDir) == "" {
		return fmt.Errorf("images.work_dir is required")
	}
	if c.Images.MinSize <= 0 {
		return fmt.Errorf("images.min_size must be > 0")
	}
	if c.Images.JPEGQuality <= 0 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpeg_quality must be within 1..100")
	}
	if c.Images.UploadAttempts <= 0 {
		return fmt.Errorf("images.upload_attempts must be > 0")
	}
	if err := oneOf("storage.backend", c.Storage.Backend, BackendMemory, BackendLocal, BackendGCS); err != nil {
		return err
	}
	if c.Storage.Backend == BackendGCS && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == BackendLocal && c.Storage.LocalBaseDir == "" {
		return fmt.Errorf("storage.local_base_dir must be set for the local backend")
	}
	if err := oneOf("database.backend", c.Database.Backend, BackendMemory, BackendPostgres, BackendSQLite); err != nil {
		return err
	}
	if c.Database.Backend != BackendMemory && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set for the %s backend", c.Database.Backend)
	}
	if err := oneOf("similarity.backend", c.Similarity.Backend, BackendMemory, BackendHTTP); err != nil {
		return err
	}
	if c.Similarity.Backend == BackendHTTP && c.Similarity.BaseURL == "" {
		return fmt.Errorf("similarity.base_url must be set for the http backend")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" || strings.Contains(s.ID, "/") {
			return fmt.Errorf("sources[%d].id %q is invalid", i, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}
