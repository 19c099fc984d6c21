package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/y0f/apiprobe/internal/catalog"
)

func newPresetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "presets [name]",
		Short: "List built-in presets, or the checks of one preset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				doc, err := catalog.LoadPreset(args[0])
				if err != nil {
					return usageError(err)
				}
				for _, def := range doc.Checks {
					fmt.Fprintf(a.stdout, "%-40s %s\n", def.Name, def.Description)
				}
				return nil
			}
			for _, name := range catalog.PresetNames() {
				doc, err := catalog.LoadPreset(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%-20s %d checks\n", name, len(doc.Checks))
			}
			return nil
		},
	}
}
