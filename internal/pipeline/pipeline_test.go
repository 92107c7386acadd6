package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

const probeClass = "ProbeFilter"

type probeParams struct {
	Path   datamodel.DataArrayPath `mapstructure:"Path" json:"Path"`
	Create bool                    `mapstructure:"Create" json:"Create"`
}

// probeFilter creates (Create) or requires an int32 array at Path.
type probeFilter struct {
	filter.Base
	params probeParams

	mu         sync.Mutex
	preflights int
	executes   int
	handle     *datamodel.Array[int32]

	preflightCode int
	onExecute     func(ctx context.Context, f *probeFilter, dca *datamodel.DataContainerArray)
}

func newProbe(label string, path datamodel.DataArrayPath, create bool) *probeFilter {
	f := &probeFilter{params: probeParams{Path: path, Create: create}}
	f.Init(filter.Info{ClassName: probeClass, HumanLabel: label, Group: "Test"})
	return f
}

func (f *probeFilter) Parameters() []filter.Parameter { return nil }

func (f *probeFilter) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *probeFilter) ParameterValues() map[string]any { return filter.EncodeParameters(f.params) }

func (f *probeFilter) dataCheck(dca *datamodel.DataContainerArray) {
	m, err := dca.AttributeMatrix(f.params.Path)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	arr, err := datamodel.GetOrCreateArray[int32](m, f.params.Path.DataArray, 1, !f.params.Create, 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	f.mu.Lock()
	f.handle = arr
	f.mu.Unlock()
}

func (f *probeFilter) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.mu.Lock()
	f.preflights++
	f.mu.Unlock()
	if f.preflightCode < 0 {
		f.SetErrorCondition(f.preflightCode, "configured to fail")
		return
	}
	f.dataCheck(dca)
}

func (f *probeFilter) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.mu.Lock()
	f.executes++
	f.mu.Unlock()
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}
	if f.onExecute != nil {
		f.onExecute(ctx, f, dca)
	}
}

func (f *probeFilter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preflights, f.executes
}

// collector records every notification.
type collector struct {
	mu         sync.Mutex
	messages   []filter.Message
	preflights []int
	finished   []Result
}

func (c *collector) record(m filter.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

func (c *collector) observer() Observer {
	return ObserverFuncs{
		Status:   c.record,
		Progress: c.record,
		Warning:  c.record,
		Error:    c.record,
		PreflightFinished: func(code int) {
			c.mu.Lock()
			c.preflights = append(c.preflights, code)
			c.mu.Unlock()
		},
		PipelineFinished: func(r Result) {
			c.mu.Lock()
			c.finished = append(c.finished, r)
			c.mu.Unlock()
		},
	}
}

func (c *collector) texts(index int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.messages {
		if m.FilterIndex == index {
			out = append(out, m.Text)
		}
	}
	return out
}

var cellPath = datamodel.MustPath("ImageDataContainer", "CellData", "FeatureIds")

func newStore(t *testing.T, tuples int) *datamodel.DataContainerArray {
	t.Helper()
	dca := datamodel.NewDataContainerArray()
	dc, err := dca.CreateDataContainer(cellPath.DataContainer)
	require.NoError(t, err)
	_, err = dc.CreateAttributeMatrix(cellPath.AttributeMatrix, []int{tuples}, datamodel.MatrixCell)
	require.NoError(t, err)
	return dca
}

func newPipeline(t *testing.T, c *collector, filters ...filter.Filter) *Pipeline {
	t.Helper()
	var opts []Option
	opts = append(opts, WithLogger(zap.NewNop()))
	if c != nil {
		opts = append(opts, WithObserver(c.observer()))
	}
	p := New("test", opts...)
	for _, f := range filters {
		require.NoError(t, p.PushBack(f))
	}
	return p
}

func TestPreflightSequentialCreation(t *testing.T) {
	dca := newStore(t, 1000)
	x := newProbe("Create FeatureIds", cellPath, true)
	y := newProbe("Use FeatureIds", cellPath, false)
	c := &collector{}
	p := newPipeline(t, c, x, y)

	code, err := p.Preflight(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	require.NotNil(t, y.handle)
	assert.Equal(t, 1000, y.handle.NumTuples())
	assert.Equal(t, 1, y.handle.NumComponents())
	assert.Equal(t, []int{0}, c.preflights)
	assert.Equal(t, StateIdle, p.State())
}

func TestPreflightMissingPrerequisiteStopsEarly(t *testing.T) {
	dca := newStore(t, 1000)
	x := newProbe("Create FeatureIds", cellPath, true)
	y := newProbe("Use FeatureIds", cellPath, false)
	p := newPipeline(t, nil, y, x)

	code, err := p.Preflight(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, errors.CodeMissingPrerequisiteArray, code)
	assert.Equal(t, errors.CodeMissingPrerequisiteArray, y.Status().ErrorCode)
	pre, _ := x.counts()
	assert.Zero(t, pre)
	assert.Equal(t, StatePreflightFailed, p.State())
}

func TestPreflightFailFast(t *testing.T) {
	for failAt := 0; failAt < 4; failAt++ {
		probes := make([]*probeFilter, 4)
		filters := make([]filter.Filter, 4)
		for i := range probes {
			probes[i] = newProbe("probe", cellPath, true)
			filters[i] = probes[i]
		}
		probes[failAt].preflightCode = -4242

		p := newPipeline(t, nil, filters...)
		code, err := p.Preflight(context.Background(), newStore(t, 5))
		require.NoError(t, err)
		assert.Equal(t, -4242, code)
		for i, pr := range probes {
			pre, _ := pr.counts()
			if i <= failAt {
				assert.Equal(t, 1, pre, "filter %d", i)
			} else {
				assert.Zero(t, pre, "filter %d", i)
			}
		}
	}
}

func TestPreflightIdempotent(t *testing.T) {
	dca := newStore(t, 10)
	x := newProbe("Create FeatureIds", cellPath, true)
	p := newPipeline(t, nil, x)

	first, err := p.Preflight(context.Background(), dca)
	require.NoError(t, err)
	m, err := dca.AttributeMatrix(cellPath)
	require.NoError(t, err)
	names := m.ArrayNames()

	for i := 0; i < 3; i++ {
		code, err := p.Preflight(context.Background(), dca)
		require.NoError(t, err)
		assert.Equal(t, first, code)
		assert.Equal(t, names, m.ArrayNames())
	}
}

func TestExecuteSequentialVisibility(t *testing.T) {
	dca := newStore(t, 8)
	x := newProbe("Create FeatureIds", cellPath, true)
	x.onExecute = func(_ context.Context, f *probeFilter, _ *datamodel.DataContainerArray) {
		for i := range f.handle.Values() {
			f.handle.Values()[i] = int32(i * 3)
		}
	}
	var seen []int32
	y := newProbe("Use FeatureIds", cellPath, false)
	y.onExecute = func(_ context.Context, f *probeFilter, _ *datamodel.DataContainerArray) {
		seen = append(seen, f.handle.Values()...)
	}
	c := &collector{}
	p := newPipeline(t, c, x, y)

	res, err := p.Execute(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, res.ExitCode())
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, []int32{0, 3, 6, 9, 12, 15, 18, 21}, seen)
	require.Len(t, c.finished, 1)
	assert.Equal(t, res.RunID, c.finished[0].RunID)
	assert.Equal(t, StateFinished, p.State())
}

func TestExecuteElementwiseTransform(t *testing.T) {
	input := datamodel.MustPath("ImageDataContainer", "CellData", "Input")
	output := input.WithArray("Output")
	dca := newStore(t, 50)
	m, err := dca.AttributeMatrix(input)
	require.NoError(t, err)
	in, err := datamodel.CreateArray[int32](m, "Input", 1, 0)
	require.NoError(t, err)
	for i := range in.Values() {
		in.Values()[i] = int32(i - 25)
	}
	f := func(v int32) int32 { return v*v + 1 }

	transform := newProbe("Transform", output, true)
	transform.onExecute = func(_ context.Context, p *probeFilter, dca *datamodel.DataContainerArray) {
		src, err := datamodel.GetPrereqArrayFromPath[int32](dca, input, 1)
		if err != nil {
			p.SetErrorFromErr(err)
			return
		}
		for i, v := range src.Values() {
			p.handle.Values()[i] = f(v)
		}
	}
	p := newPipeline(t, nil, transform)

	res, err := p.Run(context.Background(), dca)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)

	out, err := datamodel.GetPrereqArrayFromPath[int32](dca, output, 1)
	require.NoError(t, err)
	for i, v := range in.Values() {
		assert.Equal(t, f(v), out.Values()[i])
	}
}

func TestExecuteFailFast(t *testing.T) {
	dca := newStore(t, 4)
	first := newProbe("first", cellPath, true)
	failing := newProbe("failing", cellPath, false)
	failing.onExecute = func(_ context.Context, f *probeFilter, _ *datamodel.DataContainerArray) {
		f.SetErrorCondition(errors.CodeComputationFailed, "degenerate input")
	}
	last := newProbe("last", cellPath, false)
	c := &collector{}
	p := newPipeline(t, c, first, failing, last)

	res, err := p.Execute(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuteFailed, res.Outcome)
	assert.Equal(t, errors.CodeComputationFailed, res.Code)
	assert.Equal(t, 1, res.FailedIndex)
	assert.Equal(t, "failing", res.FailedLabel)
	assert.Equal(t, ExitExecuteFailed, res.ExitCode())
	_, executed := last.counts()
	assert.Zero(t, executed)

	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "failing", errs[0].FilterLabel)
	assert.Equal(t, 1, errs[0].FilterIndex)
	assert.Len(t, c.finished, 1)
}

func TestExecuteRecoversPanic(t *testing.T) {
	dca := newStore(t, 4)
	boom := newProbe("boom", cellPath, true)
	boom.onExecute = func(context.Context, *probeFilter, *datamodel.DataContainerArray) {
		panic("index out of range")
	}
	p := newPipeline(t, nil, boom)

	res, err := p.Execute(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuteFailed, res.Outcome)
	assert.Equal(t, errors.CodeComputationFailed, res.Code)
	require.Len(t, res.Errors(), 1)
	assert.Contains(t, res.Errors()[0].Text, "index out of range")
}

func TestDisabledFilterSkipped(t *testing.T) {
	dca := newStore(t, 4)
	x := newProbe("create", cellPath, true)
	off := newProbe("off", cellPath.WithArray("Nope"), false)
	off.SetEnabled(false)
	p := newPipeline(t, nil, x, off)

	res, err := p.Run(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	pre, exe := off.counts()
	assert.Zero(t, pre)
	assert.Zero(t, exe)
}

func TestRunPreflightFailureLeavesStoreUntouched(t *testing.T) {
	dca := newStore(t, 4)
	x := newProbe("create", cellPath, true)
	missing := newProbe("missing", cellPath.WithArray("Absent"), false)
	c := &collector{}
	p := newPipeline(t, c, x, missing)

	res, err := p.Run(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomePreflightFailed, res.Outcome)
	assert.Equal(t, errors.CodeMissingPrerequisiteArray, res.Code)
	assert.Equal(t, 1, res.FailedIndex)
	assert.Equal(t, ExitPreflightFailed, res.ExitCode())

	m, err := dca.AttributeMatrix(cellPath)
	require.NoError(t, err)
	assert.Empty(t, m.ArrayNames())
	_, executed := x.counts()
	assert.Zero(t, executed)

	assert.Equal(t, []int{errors.CodeMissingPrerequisiteArray}, c.preflights)
	assert.Len(t, c.finished, 1)
	assert.Equal(t, StatePreflightFailed, p.State())
}

func TestRunCreatesOutputs(t *testing.T) {
	dca := newStore(t, 12)
	p := newPipeline(t, nil, newProbe("create", cellPath, true), newProbe("use", cellPath, false))

	res, err := p.Run(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	arr, err := datamodel.GetPrereqArrayFromPath[int32](dca, cellPath, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, arr.NumTuples())
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	dca := newStore(t, 4)
	chatty := newProbe("chatty", cellPath, true)
	chatty.onExecute = func(_ context.Context, f *probeFilter, _ *datamodel.DataContainerArray) {
		for _, s := range []string{"a", "b", "c", "d"} {
			f.NotifyStatus(s)
		}
		f.SetWarningCondition(-1, "careful")
	}
	c1, c2 := &collector{}, &collector{}
	p := newPipeline(t, c1, chatty)
	p.AddObserver(c2.observer())

	res, err := p.Execute(context.Background(), dca)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)

	want := []string{"a", "b", "c", "d", "careful"}
	assert.Equal(t, want, c1.texts(0))
	assert.Equal(t, want, c2.texts(0))
	assert.Len(t, c1.finished, 1)
	assert.Len(t, c2.finished, 1)

	// pipeline-level messages bracket the filter messages
	pipelineTexts := c1.texts(-1)
	require.NotEmpty(t, pipelineTexts)
	assert.Equal(t, "Pipeline started", pipelineTexts[0])
	assert.Equal(t, "Pipeline finished", pipelineTexts[len(pipelineTexts)-1])
}

func TestObserverPanicDoesNotStopDelivery(t *testing.T) {
	dca := newStore(t, 4)
	c := &collector{}
	p := newPipeline(t, nil, newProbe("create", cellPath, true))
	p.AddObserver(ObserverFuncs{Status: func(filter.Message) { panic("observer bug") }})
	p.AddObserver(c.observer())

	res, err := p.Execute(context.Background(), dca)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Len(t, c.finished, 1)
}

func TestCancelBetweenFilters(t *testing.T) {
	const n = 4
	for cancelAt := 0; cancelAt < n; cancelAt++ {
		dca := newStore(t, 4)
		c := &collector{}
		p := newPipeline(t, c)
		probes := make([]*probeFilter, n)
		for i := range probes {
			probes[i] = newProbe("probe", cellPath, true)
			require.NoError(t, p.PushBack(probes[i]))
		}
		probes[cancelAt].onExecute = func(context.Context, *probeFilter, *datamodel.DataContainerArray) {
			p.Cancel()
		}

		res, err := p.Execute(context.Background(), dca)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCancelled, res.Outcome, "cancel at %d", cancelAt)
		assert.Equal(t, errors.CodeCancelled, res.Code)
		assert.Equal(t, ExitCancelled, res.ExitCode())
		for i := cancelAt + 1; i < n; i++ {
			_, executed := probes[i].counts()
			assert.Zero(t, executed, "filter %d ran after cancel", i)
		}
		require.Len(t, c.finished, 1)
		assert.Equal(t, OutcomeCancelled, c.finished[0].Outcome)
		assert.Equal(t, StateCancelled, p.State())
	}
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	p := newPipeline(t, nil, newProbe("create", cellPath, true))
	p.Cancel()

	res, err := p.Run(context.Background(), newStore(t, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestRunnerCancel(t *testing.T) {
	dca := newStore(t, 4)
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := newProbe("blocking", cellPath, true)
	blocking.onExecute = func(ctx context.Context, _ *probeFilter, _ *datamodel.DataContainerArray) {
		close(started)
		<-release
	}
	after := newProbe("after", cellPath, false)
	c := &collector{}
	p := newPipeline(t, c, blocking, after)
	r := NewRunner(p)

	require.NoError(t, r.Start(context.Background(), dca))
	assert.ErrorIs(t, r.Start(context.Background(), dca), ErrBusy)

	<-started
	r.Cancel()
	close(release)

	res, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, filter.StateCancelled, blocking.Status().State)
	_, executed := after.counts()
	assert.Zero(t, executed)
	require.Len(t, c.finished, 1)
	assert.Equal(t, OutcomeCancelled, c.finished[0].Outcome)
	assert.False(t, r.Running())
}

func TestRunnerCancelBeforeFirstFilter(t *testing.T) {
	dca := newStore(t, 4)
	release := make(chan struct{})
	gate := newProbe("gate", cellPath, true)
	gate.onExecute = func(context.Context, *probeFilter, *datamodel.DataContainerArray) { <-release }
	c := &collector{}
	p := newPipeline(t, c, gate)
	r := NewRunner(p)

	require.NoError(t, r.Start(context.Background(), dca))
	r.Cancel()
	close(release)

	res, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Len(t, c.finished, 1)
}

func TestRunnerSuccess(t *testing.T) {
	p := newPipeline(t, nil, newProbe("create", cellPath, true))
	r := NewRunner(p)
	require.NoError(t, r.Start(context.Background(), newStore(t, 3)))

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	res, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestEditWhileRunningIsRejected(t *testing.T) {
	dca := newStore(t, 4)
	var pushErr, runErr error
	x := newProbe("create", cellPath, true)
	p := newPipeline(t, nil, x)
	x.onExecute = func(context.Context, *probeFilter, *datamodel.DataContainerArray) {
		pushErr = p.PushBack(newProbe("late", cellPath, true))
		_, runErr = p.Execute(context.Background(), dca)
	}

	_, err := p.Execute(context.Background(), dca)
	require.NoError(t, err)
	assert.ErrorIs(t, pushErr, ErrBusy)
	assert.ErrorIs(t, runErr, ErrBusy)
	assert.Equal(t, 1, p.Len())
}

func TestInsertRemove(t *testing.T) {
	a := newProbe("a", cellPath, true)
	b := newProbe("b", cellPath, true)
	c := newProbe("c", cellPath, true)
	p := newPipeline(t, nil, a, c)

	require.NoError(t, p.Insert(1, b))
	labels := func() []string {
		var out []string
		for _, f := range p.Filters() {
			out = append(out, f.Info().HumanLabel)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, labels())

	removed, err := p.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.Info().HumanLabel)
	assert.Equal(t, []string{"b", "c"}, labels())

	assert.True(t, errors.IsType(p.Insert(5, a), errors.ErrorTypeIndex))
	_, err = p.Remove(-1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIndex))
}
