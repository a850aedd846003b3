package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vlogmedia/vlog/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of vlog.",
	Run: func(cmd *cobra.Command, args []string) {
		if versionJSON {
			out, _ := json.MarshalIndent(version.Get(), "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(version.Full())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
