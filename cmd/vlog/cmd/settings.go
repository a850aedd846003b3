package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vlogmedia/vlog/internal/models"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage runtime settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runtime settings",
	RunE:  runSettingsList,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting value",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsMigrateCmd = &cobra.Command{
	Use:   "migrate-from-env",
	Short: "Copy VLOG_ environment overrides into catalog settings",
	Long: `Copy the runtime-tunable settings currently supplied through VLOG_
environment variables into the catalog, so they survive restarts without the
environment and become editable through the admin API.`,
	RunE: runSettingsMigrate,
}

// migratableSettings are the runtime-tunable keys the coordinator resolves
// through the settings service, with their env fallbacks.
var migratableSettings = []string{
	"transcoding.claim_lease",
	"transcoding.max_attempts",
	"transcoding.stale_checkpoint",
	"transcoding.min_ready_quality",
	"transcoding.hls_segment_duration",
	"security.rate_limit_per_min",
	"security.rate_limit_burst",
	"security.session_ttl",
	"worker.heartbeat_interval",
}

func init() {
	settingsListCmd.Flags().String("category", "", "filter by category")
	settingsCmd.AddCommand(settingsListCmd, settingsGetCmd, settingsSetCmd, settingsMigrateCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	category, _ := cmd.Flags().GetString("category")
	settings, err := c.ListSettings(cmd.Context(), category)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tTYPE\tUPDATED BY")
	for _, s := range settings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Key, s.Value, s.Type, s.UpdatedBy)
	}
	return w.Flush()
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	setting, err := c.GetSetting(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s = %s (%s)\n", setting.Key, setting.Value, setting.Type)
	if setting.Category != "" {
		fmt.Printf("category: %s\n", setting.Category)
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	setting, err := c.PutSetting(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", setting.Key, setting.Value)
	return nil
}

func runSettingsMigrate(cmd *cobra.Command, args []string) error {
	c, err := adminClient()
	if err != nil {
		return err
	}

	migrated := 0
	for _, key := range migratableSettings {
		value, ok := os.LookupEnv(models.EnvName(key))
		if !ok {
			continue
		}
		if _, err := c.PutSetting(cmd.Context(), key, value); err != nil {
			return fmt.Errorf("migrating %s: %w", key, err)
		}
		fmt.Printf("migrated %s = %s\n", key, value)
		migrated++
	}

	if migrated == 0 {
		fmt.Println("no VLOG_ overrides found for migratable settings")
	}
	return nil
}
