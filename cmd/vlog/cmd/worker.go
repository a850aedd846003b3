package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/pkg/client"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage transcoding workers",
}

var workerRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Pre-register a worker and print its credentials",
	Long: `Register a worker identity ahead of deployment. The printed API key
is shown exactly once; pass it to the worker via VLOG_WORKER_API_KEY or let
the worker self-register on first run instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkerRegister,
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE:  runWorkerList,
}

var workerStatusCmd = &cobra.Command{
	Use:   "status <worker-id>",
	Short: "Show a worker's record and live metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerStatus,
}

var workerRevokeCmd = &cobra.Command{
	Use:   "revoke <worker-id>",
	Short: "Disable a worker and revoke its claims",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerRevoke,
}

var workerEnableCmd = &cobra.Command{
	Use:   "enable <worker-id>",
	Short: "Re-enable a disabled worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerEnable,
}

var workerRotateKeyCmd = &cobra.Command{
	Use:   "rotate-key <worker-id>",
	Short: "Issue a new API key for a worker, revoking the old one",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerRotateKey,
}

var workerLogsCmd = &cobra.Command{
	Use:   "logs <worker-id>",
	Short: "Fetch recent log lines from a worker over the control channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerLogs,
}

func init() {
	workerLogsCmd.Flags().Int("limit", 100, "maximum lines to fetch")

	workerRegisterCmd.Flags().String("type", "remote", "worker type (local, remote)")

	workerCmd.AddCommand(workerRegisterCmd, workerListCmd, workerStatusCmd,
		workerRevokeCmd, workerEnableCmd, workerRotateKeyCmd, workerLogsCmd)
	rootCmd.AddCommand(workerCmd)
}

func runWorkerRegister(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	workerType, _ := cmd.Flags().GetString("type")
	resp, err := c.Register(cmd.Context(), client.RegisterRequest{
		WorkerName: args[0],
		WorkerType: models.WorkerType(workerType),
	})
	if err != nil {
		return err
	}

	fmt.Printf("worker id: %s\napi key:   %s\n", resp.WorkerID, resp.APIKey)
	return nil
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	workers, err := c.ListWorkers(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tLAST HEARTBEAT")
	for _, worker := range workers {
		heartbeat := "never"
		if worker.LastHeartbeat != nil {
			heartbeat = time.Since(*worker.LastHeartbeat).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			worker.WorkerID, worker.WorkerName, worker.WorkerType, worker.Status, heartbeat)
	}
	return w.Flush()
}

func runWorkerStatus(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	worker, err := c.GetWorker(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(worker, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding worker: %w", err)
	}
	fmt.Println(string(out))

	// Live metrics are best-effort; the worker may be offline or on a
	// deployment without the control channel.
	result, err := c.SendWorkerCommand(cmd.Context(), args[0], bus.CommandGetMetrics, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "live metrics unavailable: %v\n", err)
		return nil
	}
	metrics, err := json.MarshalIndent(result.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	fmt.Println(string(metrics))
	return nil
}

func runWorkerRevoke(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}
	if err := c.DisableWorker(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("worker %s disabled\n", args[0])
	return nil
}

func runWorkerEnable(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}
	if err := c.EnableWorker(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("worker %s enabled\n", args[0])
	return nil
}

func runWorkerRotateKey(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}
	key, err := c.RotateWorkerKey(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	// The key is shown exactly once; only its hash is stored.
	fmt.Printf("new API key for %s:\n%s\n", args[0], key)
	return nil
}

func runWorkerLogs(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	result, err := c.SendWorkerCommand(cmd.Context(), args[0], bus.CommandGetLogs,
		map[string]string{"limit": fmt.Sprintf("%d", limit)})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("worker refused: %s", result.Error)
	}

	lines, _ := result.Result["lines"].([]any)
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
