package cli

import (
	"fmt"

	"github.com/lucasnoah/cashout/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect the cashout configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults and environment merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// Never print credentials.
		redact := func(s *string) {
			if *s != "" {
				*s = "********"
			}
		}
		redact(&cfg.Providers.Compliance.APIKey)
		redact(&cfg.Providers.Custody.APIKey)
		redact(&cfg.Providers.Swap.APIKey)
		redact(&cfg.Providers.Pool.APIKey)
		redact(&cfg.Providers.Offramp.APIKey)
		redact(&cfg.Providers.Offramp.SecretKey)
		redact(&cfg.Store.PostgresURL)

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List the locations searched for a config file",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range config.SearchPaths() {
			cmd.Println(p)
		}
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathsCmd)
}
