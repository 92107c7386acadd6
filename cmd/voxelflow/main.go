// Command voxelflow runs filter pipelines over volumetric data without a
// graphical host.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

var version = "0.1.0"

// exitSetupFailed is returned when the command fails before a pipeline result
// exists: bad flags, configuration or pipeline files.
const exitSetupFailed = 4

// exitError carries a process exit code out of a command.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	a.teardown()

	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return exitSetupFailed
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "voxelflow",
		Short: "voxelflow - headless filter pipelines for volumetric data",
		Long: `voxelflow loads a pipeline file, checks it with a preflight pass and
executes its filters in order against an in-memory data store.

Settings come from a YAML file (--config), VOXELFLOW_* environment variables
and the flags below, in increasing priority.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "Path to a YAML configuration file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-encoding", "console", "Log encoding (console, json)")
	pf.Bool("metrics", false, "Serve Prometheus metrics while running")
	pf.String("metrics-addr", ":9090", "Metrics listen address")
	pf.Bool("tracing", false, "Export OpenTelemetry spans")
	pf.Float64("memory-fraction", 0.8, "Largest share of available memory a single array may take (0 disables)")
	pf.String("compression", "zstd", "Default snapshot compression")
	pf.Bool("history", true, "Record runs in the history database")
	pf.String("history-db", "voxelflow-history.db", "Path of the history database")

	root.AddCommand(
		newRunCommand(a),
		newPreflightCommand(a),
		newFiltersCommand(a),
		newHistoryCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}
