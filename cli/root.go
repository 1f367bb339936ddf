package cli

import (
	"context"
	"strings"

	"github.com/jgoldverg/gspeed/internal"
	"github.com/spf13/cobra"
)

type ctxKey string

const configPathKey ctxKey = "configPath"
const logLevelKey ctxKey = "logLevel"

func NewRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "gspeed",
		Short: "gspeed measures UDP and TCP throughput on a local network",
		Long: `gspeed runs a speed test server that advertises itself by broadcast, and a client
that discovers it and fires concurrent UDP and TCP transfers at it, reporting
completion time, throughput and UDP delivery ratio for every transfer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if lvl := strings.TrimSpace(logLevel); lvl != "" {
				if err := internal.ConfigureLogger(lvl); err != nil {
					internal.Warn("invalid --log-level, defaulting to info", internal.Fields{
						internal.FieldError: err.Error(),
					})
				}
			}
			ctx := context.WithValue(cmd.Context(), configPathKey, configPath)
			ctx = context.WithValue(ctx, logLevelKey, logLevel)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (TOML); defaults to ~/.gspeed/<role>_config.toml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(ServerCommand())
	rootCmd.AddCommand(ClientCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

func getConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(configPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}

// applyLogLevel configures the logger from the config file unless --log-level
// was given.
func applyLogLevel(cmd *cobra.Command, fromConfig string) {
	if v, ok := cmd.Context().Value(logLevelKey).(string); ok && strings.TrimSpace(v) != "" {
		return
	}
	if err := internal.ConfigureLogger(fromConfig); err != nil {
		internal.Warn("invalid log level in config, defaulting to info", internal.Fields{
			internal.FieldError: err.Error(),
		})
	}
}
