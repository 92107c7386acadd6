package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/internal/pipeline"
	"github.com/ajitpratap0/voxelflow/pkg/compression"
	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/performance"
	"github.com/ajitpratap0/voxelflow/pkg/snapshot"
)

type runOptions struct {
	load       string
	save       string
	timeout    time.Duration
	profiles   []string
	profileDir string
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run PIPELINE",
		Short: "Preflight and execute a pipeline file",
		Long: `Run preflights the pipeline and, when that succeeds, executes it.

The exit status is 0 on success, 1 when preflight fails, 2 when a filter
fails during execution and 3 when the run is cancelled (SIGINT, SIGTERM or
--timeout).

Example:
  voxelflow run segment.yaml --load s3://bucket/scan.vxs --save result.vxs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := a.run(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if code != pipeline.ExitSuccess {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.load, "load", "", "Snapshot to load into the data store before running")
	cmd.Flags().StringVar(&opts.save, "save", "", "Snapshot location to write the data store to after a successful run")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the run after this long (0 means no limit)")
	cmd.Flags().StringSliceVar(&opts.profiles, "profile", nil, "Profiles to collect: cpu, memory, block, mutex, goroutine, trace or all")
	cmd.Flags().StringVar(&opts.profileDir, "profile-dir", "profiles", "Directory for collected profiles")
	return cmd
}

func newPreflightCommand(a *app) *cobra.Command {
	var load string
	cmd := &cobra.Command{
		Use:   "preflight PIPELINE",
		Short: "Check a pipeline without executing it",
		Long: `Preflight validates every filter in order and prints the data store the
pipeline would produce.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := a.preflight(cmd.Context(), args[0], load)
			if err != nil {
				return err
			}
			if code != pipeline.ExitSuccess {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&load, "load", "", "Snapshot whose manifest seeds the data store")
	return cmd
}

// buildPipeline reads and instantiates a pipeline file. Placeholder
// messages are logged; the placeholders themselves fail preflight.
func (a *app) buildPipeline(path string, observers ...pipeline.Observer) (*pipeline.Pipeline, error) {
	def, err := pipeline.ReadDefinition(path)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{pipeline.WithLogger(a.log)}
	for _, o := range observers {
		opts = append(opts, pipeline.WithObserver(o))
	}
	p, msgs, err := def.Build(a.registry, opts...)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		a.log.Warn("pipeline entry could not be instantiated",
			zap.Int("index", m.FilterIndex),
			zap.String("filter", m.FilterClass),
			zap.String("reason", m.Text))
	}
	return p, nil
}

// loadStore returns a guarded data store, seeded from a snapshot when uri
// is set. With manifestOnly the arrays are zero-filled from the manifest.
func (a *app) loadStore(ctx context.Context, uri string, manifestOnly bool) (*datamodel.DataContainerArray, error) {
	if uri == "" {
		return a.newStore(), nil
	}
	var (
		dca *datamodel.DataContainerArray
		err error
	)
	if manifestOnly {
		var m *snapshot.Manifest
		if m, err = a.snapshots.LoadManifest(ctx, uri); err == nil {
			dca, err = m.Skeleton(nil)
		}
	} else {
		dca, _, err = a.snapshots.Load(ctx, uri, nil)
	}
	if err != nil {
		return nil, err
	}
	dca.SetAllocationGuard(a.guard)
	return dca, nil
}

func (a *app) run(parent context.Context, path string, opts runOptions) (int, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	monitor := performance.NewResourceMonitor()
	p, err := a.buildPipeline(path, a.messageObserver())
	if err != nil {
		return 0, err
	}
	dca, err := a.loadStore(ctx, opts.load, false)
	if err != nil {
		return 0, err
	}

	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	if len(opts.profiles) > 0 {
		types, err := performance.ParseProfileTypes(opts.profiles)
		if err != nil {
			return 0, err
		}
		profiler := performance.NewProfiler(performance.ProfileConfig{Types: types, OutputDir: opts.profileDir}, a.log)
		if err := profiler.Start(); err != nil {
			return 0, err
		}
		defer func() {
			if files, err := profiler.Stop(); err == nil {
				for _, f := range files {
					fmt.Fprintf(a.stdout, "profile written: %s\n", f)
				}
			}
		}()
	}

	runner := pipeline.NewRunner(p)
	if err := runner.Start(context.Background(), dca); err != nil {
		return 0, err
	}
	select {
	case <-runner.Done():
	case <-ctx.Done():
		a.log.Warn("cancelling run", zap.Error(context.Cause(ctx)))
		runner.Cancel()
	}
	res, err := runner.Wait()
	if err != nil {
		return 0, err
	}

	if res.Outcome == pipeline.OutcomeSuccess && opts.save != "" {
		if err := a.save(context.Background(), opts.save, dca); err != nil {
			return 0, err
		}
	}
	a.record(res)
	printResult(a.stdout, res)
	if a.cfg.Execution.ReportResources {
		a.log.Info("resource usage", append(monitor.Usage().Fields(),
			zap.Int64("store_bytes", dca.TotalBytes()),
			zap.Int64("guard_refused", a.guard.Refused()))...)
	}
	return res.ExitCode(), nil
}

func (a *app) preflight(ctx context.Context, path, load string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := a.buildPipeline(path, a.messageObserver())
	if err != nil {
		return 0, err
	}
	dca, err := a.loadStore(ctx, load, true)
	if err != nil {
		return 0, err
	}
	code, err := p.Preflight(ctx, dca)
	if err != nil {
		return 0, err
	}
	if code < 0 {
		fmt.Fprintf(a.stdout, "preflight failed with code %d\n", code)
		return pipeline.ExitPreflightFailed, nil
	}
	fmt.Fprintln(a.stdout, "preflight passed")
	printStore(a.stdout, dca)
	return pipeline.ExitSuccess, nil
}

func (a *app) save(ctx context.Context, uri string, dca *datamodel.DataContainerArray) error {
	alg, err := compression.ParseAlgorithm(a.cfg.Snapshot.Compression)
	if err != nil {
		return err
	}
	m, err := a.snapshots.Save(ctx, uri, dca, snapshot.Options{
		Compression: alg,
		Level:       compression.Level(a.cfg.Snapshot.Level),
	})
	if err != nil {
		return err
	}
	a.log.Info("saved data store",
		zap.String("location", uri),
		zap.Int("containers", len(m.Containers)),
		zap.Int64("bytes", m.TotalBytes()))
	return nil
}

// record stores res in the history database. Failures are logged only; the
// run itself already finished.
func (a *app) record(res pipeline.Result) {
	ctx := context.Background()
	store, err := a.openHistory(ctx)
	if err != nil {
		a.log.Warn("run history unavailable", zap.Error(err))
		return
	}
	if store == nil {
		return
	}
	defer store.Close()
	if _, err := store.Record(ctx, res); err != nil {
		a.log.Warn("failed to record run", zap.Error(err))
	}
}

// serveMetrics starts the Prometheus endpoint when enabled and returns its
// shutdown.
func (a *app) serveMetrics() func() {
	if !a.cfg.Metrics.Enabled {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("address", srv.Addr), zap.String("path", a.cfg.Metrics.Path))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// messageObserver logs pipeline messages as they are delivered.
func (a *app) messageObserver() pipeline.Observer {
	field := func(m filter.Message) []zap.Field {
		fields := []zap.Field{zap.Int("index", m.FilterIndex)}
		if m.FilterClass != "" {
			fields = append(fields, zap.String("filter", m.FilterClass))
		}
		if m.Code != 0 {
			fields = append(fields, zap.Int("code", m.Code))
		}
		return fields
	}
	return pipeline.ObserverFuncs{
		Status:   func(m filter.Message) { a.log.Info(m.Text, field(m)...) },
		Progress: func(m filter.Message) { a.log.Debug(m.Text, append(field(m), zap.Int("progress", m.Progress))...) },
		Warning:  func(m filter.Message) { a.log.Warn(m.Text, field(m)...) },
		Error:    func(m filter.Message) { a.log.Error(m.Text, field(m)...) },
	}
}

func printResult(w io.Writer, res pipeline.Result) {
	fmt.Fprintf(w, "run %s: %s", res.RunID, res.Outcome)
	if res.Code != 0 {
		fmt.Fprintf(w, " (code %d", res.Code)
		if res.FailedClass != "" {
			fmt.Fprintf(w, " in filter %d %s", res.FailedIndex+1, res.FailedClass)
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintf(w, ", %d filter(s) completed in %s\n", res.Completed, res.Duration.Round(time.Millisecond))
	for _, m := range res.Errors() {
		fmt.Fprintf(w, "  %s\n", m)
	}
}

// printStore writes the container, matrix and array tree of dca.
func printStore(w io.Writer, dca *datamodel.DataContainerArray) {
	for _, dcName := range dca.DataContainerNames() {
		dc, err := dca.DataContainer(dcName)
		if err != nil {
			continue
		}
		line := dcName
		if g := dc.Geometry(); g != nil {
			line += fmt.Sprintf(" [image %dx%dx%d]", g.Dimensions[0], g.Dimensions[1], g.Dimensions[2])
		}
		fmt.Fprintln(w, line)
		for _, amName := range dc.AttributeMatrixNames() {
			am, err := dc.AttributeMatrix(amName)
			if err != nil {
				continue
			}
			dims := make([]string, 0, len(am.TupleDimensions()))
			for _, d := range am.TupleDimensions() {
				dims = append(dims, fmt.Sprint(d))
			}
			fmt.Fprintf(w, "  %s (%s, tuples %s)\n", amName, am.Type(), strings.Join(dims, "x"))
			for _, arrName := range am.ArrayNames() {
				arr, _ := am.Array(arrName)
				fmt.Fprintf(w, "    %s %s x%d\n", arrName, arr.Type(), arr.NumComponents())
			}
		}
	}
}
