package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Remote backends understood by REMOTE_BACKEND.
const (
	BackendWebDAV = "webdav"
	BackendPutio  = "putio"
	BackendS3     = "s3"
)

// Config struct for environment variables.
type Config struct {
	MaxRunning         int           `envconfig:"MAX_RUNNING" default:"1"`
	SyntheticStepDelay time.Duration `envconfig:"SYNTHETIC_STEP_DELAY" default:"10ms"`

	RemoteBackend string `envconfig:"REMOTE_BACKEND" default:"webdav"`

	WebDAVBaseURL  string `envconfig:"WEBDAV_BASE_URL"`
	WebDAVUsername string `envconfig:"WEBDAV_USERNAME"`
	WebDAVPassword string `envconfig:"WEBDAV_PASSWORD"`

	PutioToken string `envconfig:"PUTIO_TOKEN"`

	S3Bucket         string `envconfig:"S3_BUCKET"`
	S3Region         string `envconfig:"S3_REGION"`
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3ForcePathStyle bool   `envconfig:"S3_FORCE_PATH_STYLE"`

	TargetDir         string        `envconfig:"TARGET_DIR" required:"true"`
	DBPath            string        `envconfig:"DB_PATH" default:"transfers.db"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"transferd"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the selected remote backend has what it needs.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxRunning < 1 {
		errs = append(errs, fmt.Errorf("MAX_RUNNING must be at least 1, got %d", c.MaxRunning))
	}

	if c.TargetDir == "" {
		errs = append(errs, errors.New("TARGET_DIR is required"))
	}

	if c.SyntheticStepDelay < 0 {
		errs = append(errs, errors.New("SYNTHETIC_STEP_DELAY must not be negative"))
	}

	switch c.RemoteBackend {
	case BackendWebDAV:
		if c.WebDAVBaseURL == "" {
			errs = append(errs, errors.New("WEBDAV_BASE_URL is required for the webdav backend"))
		}
	case BackendPutio:
		if c.PutioToken == "" {
			errs = append(errs, errors.New("PUTIO_TOKEN is required for the putio backend"))
		}
	case BackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid remote backend: %q", c.RemoteBackend))
	}

	if c.Web.Username != "" && c.Web.Password == "" {
		errs = append(errs, errors.New("WEB_PASSWORD is required when WEB_USERNAME is set"))
	}

	if c.KeepDownloadedFor > 0 && c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive when KEEP_DOWNLOADED_FOR is set"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
