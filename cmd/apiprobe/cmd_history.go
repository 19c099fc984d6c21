package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/y0f/apiprobe/internal/diff"
	"github.com/y0f/apiprobe/internal/report"
	"github.com/y0f/apiprobe/internal/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTARGET\tOVERALL\tPASS\tFAIL\tINCONCLUSIVE\tSKIPPED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Target, r.Overall,
					r.Pass, r.Fail, r.Inconc, r.Skipped, r.Errored)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a recorded run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := getRun(cmd, store, args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return report.WriteJSON(a.stdout, rep)
			}
			return report.WriteText(a.stdout, rep)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "report format: text or json")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare [baseline] [current]",
		Short: "Diff verdicts between two recorded runs",
		Long: `Diff verdicts between two recorded runs. With one argument the run is
compared against the previous run of the same target; with none, the most
recent run is used. Exits 1 when a passing check regressed.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var baseline, current *report.RunReport
			switch len(args) {
			case 2:
				if baseline, err = getRun(cmd, store, args[0]); err != nil {
					return err
				}
				if current, err = getRun(cmd, store, args[1]); err != nil {
					return err
				}
			default:
				if len(args) == 1 {
					current, err = getRun(cmd, store, args[0])
				} else {
					current, err = latestRun(cmd, store)
				}
				if err != nil {
					return err
				}
				baseline, err = store.LatestRun(cmd.Context(), current.Target, current.ID)
				if errors.Is(err, sql.ErrNoRows) {
					return usageError(fmt.Errorf("no earlier run against %s to compare with", current.Target))
				}
				if err != nil {
					return err
				}
			}

			cmp := diff.Runs(baseline, current)
			fmt.Fprint(a.stdout, cmp.String())
			if len(cmp.Regressions()) > 0 {
				return &exitError{code: exitFail}
			}
			return nil
		},
	}
}

func getRun(cmd *cobra.Command, store storage.Store, id string) (*report.RunReport, error) {
	rep, err := store.GetRun(cmd.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usageError(fmt.Errorf("run %q not found", id))
	}
	if err != nil {
		return nil, usageError(err)
	}
	return rep, nil
}

func latestRun(cmd *cobra.Command, store storage.Store) (*report.RunReport, error) {
	runs, err := store.ListRuns(cmd.Context(), 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, usageError(errors.New("no recorded runs"))
	}
	return getRun(cmd, store, runs[0].ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
