// Package config provides configuration management for vlog using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultClaimLease       = 120 * time.Second
	defaultHeartbeatEvery   = 30 * time.Second
	defaultReapEvery        = 30 * time.Second
	defaultStaleCheckpoint  = 10 * time.Minute
	defaultPollInterval     = 10 * time.Second
	defaultMaxAttempts      = 3
	defaultSegmentQueueCap  = 10
	defaultSegmentStability = 2
	defaultSegmentPoll      = time.Second
	defaultSegmentRetries   = 3
	defaultSessionTTL       = 24 * time.Hour
	defaultSettingsCacheTTL = 30 * time.Second
	defaultRateLimitPerMin  = 30
	defaultRateLimitBurst   = 10
	defaultMaxUploadBytes   = 256 << 20 // 256MB per segment request
	defaultHealthCacheTTL   = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Transcoding TranscodingConfig `mapstructure:"transcoding"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Audit       AuditConfig       `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies are peers whose X-Forwarded-For header is honoured
	// when deriving the client IP for rate limiting and audit records.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig holds the event bus substrate configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// HealthCheckInterval bounds how often the bus pings the substrate.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// VideosDir is where transcoded HLS/CMAF output is persisted, one
	// subdirectory per video slug.
	VideosDir string `mapstructure:"videos_dir"`
	// SourcesDir is where uploaded source files live before transcoding.
	SourcesDir string `mapstructure:"sources_dir"`
	// MaxUploadBytes bounds a single segment upload request body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// HealthCacheTTL is how long a storage availability probe result is reused.
	HealthCacheTTL time.Duration `mapstructure:"health_cache_ttl"`
}

// TranscodingConfig holds coordinator-side transcoding policy.
type TranscodingConfig struct {
	ClaimLease      time.Duration `mapstructure:"claim_lease"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	StaleCheckpoint time.Duration `mapstructure:"stale_checkpoint"`
	// MinReadyQuality is the lowest variant that must complete for a video
	// to be marked ready when other variants fail.
	MinReadyQuality string `mapstructure:"min_ready_quality"`
	// HLSSegmentDuration is advisory for the encoder, seconds.
	HLSSegmentDuration int `mapstructure:"hls_segment_duration"`
}

// WorkerConfig holds worker agent configuration.
type WorkerConfig struct {
	CoordinatorURL    string        `mapstructure:"coordinator_url"`
	APIKey            string        `mapstructure:"api_key"`
	Name              string        `mapstructure:"name"`
	Type              string        `mapstructure:"type"` // local, remote
	StateFile         string        `mapstructure:"state_file"`
	WorkDir           string        `mapstructure:"work_dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SegmentQueueSize  int           `mapstructure:"segment_queue_size"`
	SegmentRetries    int           `mapstructure:"segment_retries"`
	FFmpegPath        string        `mapstructure:"ffmpeg_path"`
	FFprobePath       string        `mapstructure:"ffprobe_path"`
	HWAccel           string        `mapstructure:"hwaccel"` // none, qsv, nvenc
}

// SecurityConfig holds admin authentication and rate limiting configuration.
type SecurityConfig struct {
	// AdminSecret, when set, is accepted via the X-Admin-Secret header as an
	// alternative to a session cookie.
	AdminSecret      string        `mapstructure:"admin_secret"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_min"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	SettingsCacheTTL time.Duration `mapstructure:"settings_cache_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with VLOG_, using underscores for nesting.
// Example: VLOG_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vlog")
		v.AddConfigPath("$HOME/.vlog")
	}

	v.SetEnvPrefix("VLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.trusted_proxies", []string{})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vlog.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.health_check_interval", 30*time.Second)

	// Storage defaults
	v.SetDefault("storage.videos_dir", "./data/videos")
	v.SetDefault("storage.sources_dir", "./data/sources")
	v.SetDefault("storage.max_upload_bytes", defaultMaxUploadBytes)
	v.SetDefault("storage.health_cache_ttl", defaultHealthCacheTTL)

	// Transcoding defaults
	v.SetDefault("transcoding.claim_lease", defaultClaimLease)
	v.SetDefault("transcoding.max_attempts", defaultMaxAttempts)
	v.SetDefault("transcoding.reap_interval", defaultReapEvery)
	v.SetDefault("transcoding.stale_checkpoint", defaultStaleCheckpoint)
	v.SetDefault("transcoding.min_ready_quality", "480p")
	v.SetDefault("transcoding.hls_segment_duration", 6)

	// Worker defaults
	v.SetDefault("worker.coordinator_url", "http://localhost:8080")
	v.SetDefault("worker.api_key", "")
	v.SetDefault("worker.name", "")
	v.SetDefault("worker.type", "remote")
	v.SetDefault("worker.state_file", "./vlog-worker.json")
	v.SetDefault("worker.work_dir", "./work")
	v.SetDefault("worker.heartbeat_interval", defaultHeartbeatEvery)
	v.SetDefault("worker.poll_interval", defaultPollInterval)
	v.SetDefault("worker.segment_queue_size", defaultSegmentQueueCap)
	v.SetDefault("worker.segment_retries", defaultSegmentRetries)
	v.SetDefault("worker.ffmpeg_path", "ffmpeg")
	v.SetDefault("worker.ffprobe_path", "ffprobe")
	v.SetDefault("worker.hwaccel", "none")

	// Security defaults
	v.SetDefault("security.admin_secret", "")
	v.SetDefault("security.session_ttl", defaultSessionTTL)
	v.SetDefault("security.rate_limit_per_min", defaultRateLimitPerMin)
	v.SetDefault("security.rate_limit_burst", defaultRateLimitBurst)
	v.SetDefault("security.settings_cache_ttl", defaultSettingsCacheTTL)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Audit defaults
	v.SetDefault("audit.path", "./data/audit.log")
	v.SetDefault("audit.max_size_mb", 50)
	v.SetDefault("audit.max_backups", 5)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.VideosDir == "" {
		return fmt.Errorf("storage.videos_dir is required")
	}
	if c.Storage.SourcesDir == "" {
		return fmt.Errorf("storage.sources_dir is required")
	}

	if c.Transcoding.ClaimLease < 10*time.Second {
		return fmt.Errorf("transcoding.claim_lease must be at least 10s")
	}
	if c.Transcoding.MaxAttempts < 1 {
		return fmt.Errorf("transcoding.max_attempts must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validWorkerTypes := map[string]bool{"local": true, "remote": true}
	if !validWorkerTypes[c.Worker.Type] {
		return fmt.Errorf("worker.type must be one of: local, remote")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VideoPath returns the output directory for a video slug.
func (c *StorageConfig) VideoPath(slug string) string {
	return filepath.Join(c.VideosDir, slug)
}

// SourcePath returns the source file path for a video ID.
func (c *StorageConfig) SourcePath(videoID string) string {
	return filepath.Join(c.SourcesDir, videoID)
}

// OfflineAfter returns how long a worker may miss heartbeats before it is
// considered offline. Three consecutive missed heartbeats.
func (c *WorkerConfig) OfflineAfter() time.Duration {
	return 3 * c.HeartbeatInterval
}
