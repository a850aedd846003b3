// Package cmd implements the CLI commands for vlog.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/observability"
	"github.com/vlogmedia/vlog/internal/version"
	"github.com/vlogmedia/vlog/pkg/client"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vlog",
	Short:   "Self-hosted video platform with distributed transcoding",
	Version: version.Short(),
	Long: `vlog is a self-hosted video platform. The serve command runs the
coordinator: catalog API, worker control plane, and HLS/CMAF streaming.
The remaining commands talk to a running coordinator as an operator CLI.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// These flags are NOT bound to viper; Changed() overrides preserve the
	// priority CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/vlog, $HOME/.vlog)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
	rootCmd.PersistentFlags().String("server", "", "coordinator base URL for client commands (default http://localhost:8080)")
	rootCmd.PersistentFlags().String("admin-secret", "", "admin secret for client commands (or VLOG_SECURITY_ADMIN_SECRET)")
}

// initConfig reads in the config file and VLOG_ environment variables.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/vlog")
		viper.AddConfigPath("$HOME/.vlog")
	}

	viper.SetEnvPrefix("VLOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (VLOG_LOGGING_LEVEL, VLOG_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:      strings.ToLower(level),
		Format:     strings.ToLower(format),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLogger(logCfg)
	logger = observability.WithApp(logger, "vlog")
	observability.SetDefault(logger)

	return nil
}

// adminClient builds an API client for operator commands from the --server
// and --admin-secret flags, falling back to the config/env values.
func adminClient() (*client.Client, error) {
	baseURL, _ := rootCmd.PersistentFlags().GetString("server")
	if baseURL == "" {
		baseURL = viper.GetString("worker.coordinator_url")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	secret, _ := rootCmd.PersistentFlags().GetString("admin-secret")
	if secret == "" {
		secret = viper.GetString("security.admin_secret")
	}
	if secret == "" {
		return nil, fmt.Errorf("no admin secret: pass --admin-secret or set VLOG_SECURITY_ADMIN_SECRET")
	}

	return client.New(client.Config{BaseURL: baseURL, AdminSecret: secret})
}
