package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jgoldverg/gspeed/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update gspeed configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(configShowCommand())
	cmd.AddCommand(configSetCommand())
	return cmd
}

func configShowCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective client or server configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := configTarget(target)
			if err != nil {
				return err
			}
			path := resolveConfigPath(cmd, scope)
			cfg, err := loadConfig(scope, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			return writeTOML(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVar(&target, "target", "client", "Which config to show: client or server")
	return cmd
}

func configSetCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update one key of the client or server configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := configTarget(target)
			if err != nil {
				return err
			}
			path := resolveConfigPath(cmd, scope)
			if err := setConfigValue(scope, path, args[0], args[1]); err != nil {
				return err
			}
			internal.Info("configuration updated", internal.Fields{
				internal.FieldKey("key"):   strings.ToLower(args[0]),
				internal.FieldKey("value"): args[1],
				internal.ConfigPath:        path,
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "client", "Which config to update: client or server")
	return cmd
}

func configTarget(target string) (string, error) {
	scope := strings.ToLower(strings.TrimSpace(target))
	if scope == "" {
		scope = "client"
	}
	if scope != "client" && scope != "server" {
		return "", fmt.Errorf("--target must be either client or server")
	}
	return scope, nil
}

func resolveConfigPath(cmd *cobra.Command, scope string) string {
	if path := strings.TrimSpace(getConfigPath(cmd)); path != "" {
		return path
	}
	return defaultConfigPath(scope)
}

func defaultConfigPath(scope string) string {
	name := scope + "_config.toml"
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".gspeed", name)
}

// loadConfig returns the typed config for scope, writing defaults to path if
// the file does not exist yet.
func loadConfig(scope, path string) (any, error) {
	if scope == "server" {
		return internal.LoadServerConfig(path)
	}
	return internal.LoadClientConfig(path)
}

func writeTOML(w io.Writer, cfg any) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// setConfigValue rewrites path with key set to value. Unknown keys and values
// that fail validation leave the file untouched.
func setConfigValue(scope, path, key, value string) error {
	if _, err := loadConfig(scope, path); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if !slices.Contains(v.AllKeys(), key) {
		return fmt.Errorf("unknown %s config key %q", scope, key)
	}
	v.Set(key, value)

	if scope == "server" {
		var cfg internal.ServerConfig
		if err := v.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		_, err := cfg.Save(path)
		return err
	}
	var cfg internal.ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := cfg.Save(path)
	return err
}
