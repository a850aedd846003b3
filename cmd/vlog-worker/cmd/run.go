package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vlogmedia/vlog/internal/agent"
	"github.com/vlogmedia/vlog/internal/agent/pipeline"
	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/observability"
	"github.com/vlogmedia/vlog/pkg/client"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker agent",
	Long: `Run the worker agent: register with the coordinator, heartbeat,
claim transcoding jobs, and execute them with FFmpeg.

The first SIGINT or SIGTERM drains the agent: the current job finishes and
no new work is claimed. A second signal aborts immediately.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("coordinator", "", "coordinator base URL (overrides config)")
	runCmd.Flags().String("name", "", "worker name (overrides config, defaults to hostname)")
	runCmd.Flags().String("work-dir", "", "transcode scratch directory (overrides config)")
	runCmd.Flags().Bool("no-control-channel", false, "disable the Redis control channel")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyRunFlags(cmd, cfg)

	logger := slog.Default()

	// Keep recent records in memory so operators can pull them with the
	// get_logs command.
	logs := agent.NewLogBuffer()
	logger = slog.New(logs.WrapHandler(logger.Handler()))
	observability.SetDefault(logger)

	c, err := client.New(client.Config{
		BaseURL: cfg.Worker.CoordinatorURL,
		APIKey:  cfg.Worker.APIKey,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator client: %w", err)
	}

	var events *bus.Bus
	noControl, _ := cmd.Flags().GetBool("no-control-channel")
	if !noControl {
		events, err = bus.New(cfg.Redis, logger)
		if err != nil {
			logger.Warn("control channel unavailable, continuing with HTTP only",
				slog.String("error", err.Error()),
			)
			events = nil
		} else {
			defer events.Close()
		}
	}

	caps := agent.DetectCapabilities(cmd.Context(), cfg.Worker.FFmpegPath, cfg.Worker.HWAccel)
	runner := pipeline.New(c, cfg.Worker, caps, cfg.Transcoding.HLSSegmentDuration, logger)
	a := agent.New(cfg.Worker, c, events, runner, logs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("draining on signal", slog.String("signal", sig.String()))
		a.Drain()

		sig = <-sigChan
		logger.Warn("second signal, aborting", slog.String("signal", sig.String()))
		cancel()
	}()

	return a.Run(ctx)
}

// applyRunFlags overrides loaded config with explicitly set CLI flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("coordinator") {
		cfg.Worker.CoordinatorURL, _ = flags.GetString("coordinator")
	}
	if flags.Changed("name") {
		cfg.Worker.Name, _ = flags.GetString("name")
	}
	if flags.Changed("work-dir") {
		cfg.Worker.WorkDir, _ = flags.GetString("work-dir")
	}
}
