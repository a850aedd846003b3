package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/coordinator"
	internalhttp "github.com/vlogmedia/vlog/internal/http"
	"github.com/vlogmedia/vlog/internal/repository"
	"github.com/vlogmedia/vlog/internal/service"
	"github.com/vlogmedia/vlog/internal/storage"
	"github.com/vlogmedia/vlog/internal/version"

	"github.com/vlogmedia/vlog/internal/database"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vlog coordinator",
	Long: `Start the vlog coordinator: the public catalog API, the admin API,
the worker control plane, and static HLS/CMAF streaming.

OpenAPI documents are served at /openapi.yaml (public) and under
/api/admin (admin surface).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (overrides config)")
	serveCmd.Flags().String("videos-dir", "", "Directory for transcoded output (overrides config)")
	serveCmd.Flags().String("sources-dir", "", "Directory for uploaded sources (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := slog.Default()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	events, err := bus.New(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("initializing event bus: %w", err)
	}
	defer events.Close()

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	videoRepo := repository.NewVideoRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)
	segmentRepo := repository.NewSegmentRepository(db.DB)
	workerRepo := repository.NewWorkerRepository(db.DB)
	apiKeyRepo := repository.NewAPIKeyRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	settingRepo := repository.NewSettingRepository(db.DB)
	deploymentRepo := repository.NewDeploymentRepository(db.DB)

	audit := service.NewAuditLogger(cfg.Audit, logger)

	videoService := service.NewVideoService(videoRepo, jobRepo, segmentRepo, store,
		cfg.Transcoding.MaxAttempts, audit, logger)
	workerService := service.NewWorkerService(workerRepo, apiKeyRepo, deploymentRepo,
		events, cfg.Worker.OfflineAfter(), audit, logger)
	settingsService := service.NewSettingsService(settingRepo, cfg.Security.SettingsCacheTTL, logger)
	sessionService := service.NewSessionService(sessionRepo, cfg.Security.AdminSecret,
		cfg.Security.SessionTTL, audit, logger)

	coord := coordinator.New(videoRepo, jobRepo, segmentRepo, store, events,
		cfg.Transcoding, logger)

	reaper := coordinator.NewReaper(jobRepo, workerService, sessionService, events,
		audit, cfg.Transcoding, logger)

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	server.RegisterRoutes(internalhttp.Deps{
		DB:          db.DB,
		Events:      events,
		Store:       store,
		Coordinator: coord,
		Videos:      videoService,
		Workers:     workerService,
		Settings:    settingsService,
		Sessions:    sessionService,
		Audit:       audit,
		Config:      cfg,
		Version:     version.Version,
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("starting reaper: %w", err)
	}
	defer reaper.Stop()

	logger.Info("starting vlog coordinator",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)
	return server.ListenAndServe(ctx)
}

// applyServeFlags overrides loaded config with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("videos-dir") {
		cfg.Storage.VideosDir, _ = flags.GetString("videos-dir")
	}
	if flags.Changed("sources-dir") {
		cfg.Storage.SourcesDir, _ = flags.GetString("sources-dir")
	}
}
