// Minecraft Server Panel
//
// Features:
// - Per-server sandboxed workspaces (create/list/delete)
// - File listing, folder creation, delete, streaming upload & download
// - Zip download of directories and zip-slip-safe unarchive
// - Snapshots to local disk or S3
// - SSE change events, JWT auth, per-operator rate limiting
// - Prometheus metrics & structured logging (zap)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/api"
)

var version = "dev"

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "panel",
	Short: "Server workspace panel",
	Long: `panel manages sandboxed Minecraft server workspaces.

Run "panel serve" to start the HTTP API. The workspace and operator
commands act on the same record store and base directory directly.
Configuration is read from the environment (see internal/config).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(operatorCmd)
}

func main() {
	rootCmd.Version = version
	api.Version = version

	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
