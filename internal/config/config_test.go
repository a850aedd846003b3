package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "test.db",
			LogLevel: "warn",
		},
		Storage: StorageConfig{
			VideosDir:  "./data/videos",
			SourcesDir: "./data/sources",
		},
		Transcoding: TranscodingConfig{
			ClaimLease:  120 * time.Second,
			MaxAttempts: 3,
		},
		Worker:  WorkerConfig{Type: "remote"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "vlog.db", cfg.Database.DSN)

	// Storage defaults
	assert.Equal(t, "./data/videos", cfg.Storage.VideosDir)
	assert.Equal(t, "./data/sources", cfg.Storage.SourcesDir)

	// Transcoding defaults
	assert.Equal(t, 120*time.Second, cfg.Transcoding.ClaimLease)
	assert.Equal(t, 3, cfg.Transcoding.MaxAttempts)
	assert.Equal(t, "480p", cfg.Transcoding.MinReadyQuality)

	// Worker defaults
	assert.Equal(t, "http://localhost:8080", cfg.Worker.CoordinatorURL)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Worker.PollInterval)

	// Security defaults
	assert.Equal(t, 24*time.Hour, cfg.Security.SessionTTL)
	assert.Equal(t, 30, cfg.Security.RateLimitPerMin)
	assert.Equal(t, 10, cfg.Security.RateLimitBurst)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
database:
  dsn: /tmp/custom.db
transcoding:
  claim_lease: 60s
  max_attempts: 5
worker:
  name: rack-7
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/custom.db", cfg.Database.DSN)
	assert.Equal(t, 60*time.Second, cfg.Transcoding.ClaimLease)
	assert.Equal(t, 5, cfg.Transcoding.MaxAttempts)
	assert.Equal(t, "rack-7", cfg.Worker.Name)

	// Values not in the file keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("VLOG_SERVER_PORT", "9999")
	t.Setenv("VLOG_SECURITY_ADMIN_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Security.AdminSecret)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "missing videos dir",
			mutate:  func(c *Config) { c.Storage.VideosDir = "" },
			wantErr: "storage.videos_dir",
		},
		{
			name:    "lease too short",
			mutate:  func(c *Config) { c.Transcoding.ClaimLease = time.Second },
			wantErr: "transcoding.claim_lease",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Transcoding.MaxAttempts = 0 },
			wantErr: "transcoding.max_attempts",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad worker type",
			mutate:  func(c *Config) { c.Worker.Type = "cloud" },
			wantErr: "worker.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfigAddress(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8443}
	assert.Equal(t, "127.0.0.1:8443", c.Address())
}

func TestWorkerConfigOfflineAfter(t *testing.T) {
	c := WorkerConfig{HeartbeatInterval: 30 * time.Second}
	assert.Equal(t, 90*time.Second, c.OfflineAfter())
}
