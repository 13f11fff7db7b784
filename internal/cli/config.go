// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/sous/internal/config"
)

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
		Long: `Show and edit the sous configuration file (default ~/.sous/config.toml).

Keys use dot notation, for example tiers.mid.model or server.rate_limit.
Environment variables (SOUS_*) override the file at load time.`,
	}
	cmd.AddCommand(
		newConfigShowCmd(root),
		newConfigInitCmd(root),
		newConfigGetCmd(root),
		newConfigSetCmd(root),
		newConfigPathCmd(root),
	)
	return cmd
}

// configFile returns --config or the default TOML path.
func (o *rootOptions) configFile() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.ConfigPathTOML()
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.setup(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "config show",
				func() (interface{}, error) { return json.RawMessage(cfg.String()), nil },
				func(data interface{}) error {
					_, err := fmt.Fprintln(out, string(data.(json.RawMessage)))
					return err
				})
		},
	}
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := root.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := writeConfigFile(path, config.Default()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "config init",
				func() (interface{}, error) { return map[string]string{"path": path}, nil },
				func(interface{}) error {
					fmt.Fprintln(out, SuccessStyle.Render("Wrote ")+path)
					fmt.Fprintln(out, DimStyle.Render("Set your gateway key: sous config set cloud.openrouter_key <key>"))
					return nil
				})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Example: `  sous config get tiers.top.model
  sous config get routing.history_limit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.setup(true)
			if err != nil {
				return err
			}
			key := args[0]
			value, err := cfg.Get(key)
			if err != nil {
				return err
			}
			value = displayValue(key, value)

			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "config get",
				func() (interface{}, error) { return map[string]interface{}{"key": key, "value": value}, nil },
				func(interface{}) error {
					_, err := fmt.Fprintln(out, value)
					return err
				})
		},
	}
}

// displayValue hides credentials, showing only whether they are set.
func displayValue(key string, value interface{}) interface{} {
	if !config.IsSecretKey(key) {
		return value
	}
	if s, ok := value.(string); ok && s != "" {
		return "[REDACTED]"
	}
	return "(not set)"
}

func newConfigSetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one configuration value in the file",
		Example: `  sous config set tiers.mid.model openai/gpt-4o
  sous config set server.rate_limit 10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := root.configFile()
			if err != nil {
				return err
			}
			if err := setConfigValue(path, args[0], args[1]); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "config set",
				func() (interface{}, error) {
					return map[string]interface{}{"key": args[0], "value": displayValue(args[0], args[1]), "path": path}, nil
				},
				func(interface{}) error {
					fmt.Fprintf(out, "%s %s = %v\n", SuccessStyle.Render("Set"), args[0], displayValue(args[0], args[1]))
					return nil
				})
		},
	}
}

// setConfigValue edits one key of a TOML config file. The file is read
// without environment overrides so they are never written back.
func setConfigValue(path, key, value string) error {
	if strings.HasSuffix(path, ".json") {
		return errors.New("config set only edits TOML files")
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := cfg.Set(key, value); err != nil {
		return err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeConfigFile(path, cfg)
}

func writeConfigFile(path string, cfg *config.Config) error {
	if path == "" {
		return errors.New("no config path")
	}
	if p, err := config.ConfigPathTOML(); err == nil && p == path {
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
	}
	return config.SaveTOML(cfg, path)
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := root.configFile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return OutputJSON(out, root.jsonOutput, "config path",
				func() (interface{}, error) { return map[string]string{"path": path}, nil },
				func(interface{}) error {
					_, err := fmt.Fprintln(out, path)
					return err
				})
		},
	}
}
