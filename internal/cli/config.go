package cli

import (
	"fmt"
	"strings"

	"bos-cli/internal/format"
	"bos-cli/internal/store"

	"github.com/spf13/cobra"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the config file",
	}
	cmd.AddCommand(newConfigShowCmd(app))
	cmd.AddCommand(newConfigSetCmd(app))
	return cmd
}

func newConfigShowCmd(app *App) *cobra.Command {
	var effective bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the config file (or, with --effective, the config after env overrides)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := store.ConfigPath()
			if err != nil {
				return writeErr(cmd, err)
			}
			cfg := app.cfg
			if !effective {
				fileCfg, err := store.LoadConfig()
				if err != nil {
					return writeErr(cmd, err)
				}
				cfg = *fileCfg
			}
			cfg.Positioning = cfg.Positioning.WithDefaults()
			return writeOut(cmd, app, map[string]any{
				"data": cfg,
				"meta": map[string]any{"path": path, "database": app.DBPath},
			})
		},
	}
	cmd.Flags().BoolVar(&effective, "effective", false, "Apply BOS_* environment overrides")
	return cmd
}

func newConfigSetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one config key",
		Long:  "Keys: " + strings.Join(store.ConfigKeys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := store.LoadConfig()
			if err != nil {
				return writeErr(cmd, err)
			}
			if strings.TrimSpace(args[0]) == "format" && !format.Valid(args[1]) {
				return writeErr(cmd, fmt.Errorf("unknown format: %s (want one of %s)", args[1], strings.Join(format.Formats, "|")))
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return writeErr(cmd, err)
			}
			if err := store.SaveConfig(cfg); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": cfg})
		},
	}
	return cmd
}
