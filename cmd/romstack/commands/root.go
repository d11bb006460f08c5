// Package commands implements the CLI commands for romstack server management.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/romstack/romstack/cmd/romstack/commands/catalog"
	"github.com/romstack/romstack/cmd/romstack/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "romstack",
	Short: "romstack - ROM ingestion and catalog server",
	Long: `romstack ingests ROM files through chunked resumable uploads, verifies
and deduplicates them by content digest, enriches them with metadata, and
serves the resulting catalog over a REST API.

Use "romstack [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/romstack/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(catalog.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
