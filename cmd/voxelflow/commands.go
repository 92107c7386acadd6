package main

import (
	"fmt"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/voxelflow/pkg/config"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

func newFiltersCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "filters [NAME]",
		Short: "List the available filters, or the parameters of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f, err := a.registry.Create(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a, struct {
						Info       filter.Info        `json:"info"`
						Parameters []filter.Parameter `json:"parameters"`
					}{f.Info(), f.Parameters()})
				}
				info := f.Info()
				fmt.Fprintf(a.stdout, "%s (%s)\n", info.ClassName, info.HumanLabel)
				if info.Description != "" {
					fmt.Fprintf(a.stdout, "%s\n", info.Description)
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\nKEY\tKIND\tDEFAULT\tREQUIRED")
				for _, p := range f.Parameters() {
					def := ""
					if p.Default != nil {
						def = fmt.Sprint(p.Default)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.Key, p.Kind, def, p.Required)
				}
				return tw.Flush()
			}

			infos := a.registry.Infos()
			if asJSON {
				return writeJSON(a, infos)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILTER\tGROUP\tLABEL")
			for _, info := range infos {
				group := info.Group
				if info.SubGroup != "" {
					group += "/" + info.SubGroup
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ClassName, group, info.HumanLabel)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openHistory(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("run history is disabled")
			}
			defer store.Close()

			if len(args) == 1 {
				run, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a, run)
				}
				fmt.Fprintf(a.stdout, "run:       %s\npipeline:  %s\noutcome:   %s\ncode:      %d\nstarted:   %s\nduration:  %s\ncompleted: %d\n",
					run.RunID, run.Pipeline, run.Outcome, run.Code,
					run.StartedAt.Format(time.RFC3339), run.Duration.Round(time.Millisecond), run.Completed)
				for _, m := range run.Messages {
					fmt.Fprintf(a.stdout, "  %s\n", m)
				}
				return nil
			}

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a, runs)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tPIPELINE\tOUTCOME\tCODE\tSTARTED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.RunID, r.Pipeline, r.Outcome, r.Code,
					r.StartedAt.Format(time.RFC3339), r.Duration.Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list (0 lists all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Write(a.stdout, a.cfg)
		},
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "voxelflow v%s\n", version)
			fmt.Fprintf(a.stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(a.stdout, "Filters: %s\n", strings.Join(a.registry.Names(), ", "))
		},
	}
}

func writeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
