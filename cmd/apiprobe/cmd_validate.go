package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/y0f/apiprobe/internal/runner"
	"github.com/y0f/apiprobe/internal/transport"
)

func newValidateCmd(a *app) *cobra.Command {
	var catalogs, presets, vars []string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check catalogs for configuration errors without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("catalog") {
				cfg.Run.Catalogs = catalogs
			}
			if cmd.Flags().Changed("preset") {
				cfg.Run.Presets = presets
			}
			cat, err := loadCatalog(cfg.Run.Catalogs, cfg.Run.Presets, mergeVars(cfg.Run.Vars, vars))
			if err != nil {
				return usageError(err)
			}
			checks, err := cat.Checks(transport.New(transport.Options{}))
			if err != nil {
				return usageError(err)
			}
			if err := runner.Validate(checks); err != nil {
				return usageError(err)
			}
			fmt.Fprintf(a.stdout, "catalog ok: %d checks\n", len(checks))
			for _, name := range cat.Names() {
				fmt.Fprintf(a.stdout, "  %s\n", name)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&catalogs, "catalog", nil, "catalog file (repeatable)")
	f.StringSliceVarP(&presets, "preset", "p", nil, "built-in preset name (repeatable)")
	f.StringArrayVar(&vars, "var", nil, "catalog variable as key=value (repeatable)")
	return cmd
}
