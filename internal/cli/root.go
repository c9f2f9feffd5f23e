// Package cli wires the command-line interface.
package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands.
type GlobalFlags struct {
	Config  string
	Verbose bool
	JSON    bool
}

var globalFlags GlobalFlags

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "quotapanel",
	Short: "QuotaPanel - Antigravity multi-account quota dashboard",
	Long: `QuotaPanel tracks Antigravity API quota across every stored Google
account: it refreshes OAuth tokens as they expire, polls the provider's
model-listing mirrors and serves the aggregate over a small HTTP API.

Use "quotapanel [command] --help" for more information about a command.`,
}

// InitRoot initializes the root command with global flags.
func InitRoot() {
	configPath := os.Getenv("QUOTAPANEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command with the given arguments and returns an
// exit code.
func Execute(args []string) int {
	RootCmd.SetArgs(args)
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of QuotaPanel",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("QuotaPanel Version: %s\n", version)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var version = "0.1.0"
