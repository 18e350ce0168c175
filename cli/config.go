package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pluginmind/pluginmind/pkg/config"
)

// ConfigCmd groups configuration helpers.
func ConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			cmd.Printf("Configuration OK (server %s:%d, %d job workers)\n",
				cfg.Server.Host, cfg.Server.Port, cfg.Jobs.Workers)
			return nil
		},
	})
	return configCmd
}
