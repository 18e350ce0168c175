package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pluginmind/pluginmind/pkg/logger"
	"github.com/pluginmind/pluginmind/pkg/version"
)

// RootCmd builds the pluginmind command tree.
func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "pluginmind",
		Short:   "PluginMind - AI analysis gateway",
		Long:    "A multi-tenant HTTP gateway that routes analysis requests through pluggable AI providers.",
		Version: version.Get().Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Missing .env is fine; the environment may carry everything.
			_ = godotenv.Load()
			logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
			if err != nil {
				return err
			}
			logger.SetupLogger(logLevel, logJSON, logSource)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().Bool("log-source", false, "Include source locations in logs")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(ConfigCmd())
	return rootCmd
}
