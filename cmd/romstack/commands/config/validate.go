package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/romstack/romstack/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the romstack configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  romstack config validate

  # Validate specific config file
  romstack config validate --config /etc/romstack/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Offload.Enabled && cfg.Offload.AccessKey == "" {
		warnings = append(warnings, "offload enabled without static credentials - the ambient AWS chain must provide them")
	}
	if len(cfg.Metadata.Sources) == 0 {
		warnings = append(warnings, "no metadata sources configured - enrichment will rely on filename heuristics")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Database type:   %s\n", cfg.Database.Type)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)
	fmt.Printf("  Temp dir:        %s\n", cfg.Ingest.TempDir)
	fmt.Printf("  Library dir:     %s\n", cfg.Ingest.RomDir)

	return nil
}
