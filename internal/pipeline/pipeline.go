// Package pipeline orchestrates an ordered list of filters over one
// DataContainerArray.
//
// # Overview
//
// A Pipeline validates and then executes its filters strictly in sequence:
//
//	Idle -> Preflighting -> PreflightFailed
//	                     -> Running -> Finished | Cancelled
//
// Preflight stops at the first filter reporting a negative code. Execute is
// fail-fast in the same way and checks for cancellation before every filter.
// Each Execute or Run ends with exactly one OnPipelineFinished notification,
// whatever the outcome.
//
// # Notifications
//
// Filters report through a Notifier that only enqueues. A dispatcher
// goroutine delivers the queue to every Observer in emission order, and each
// public call drains the queue before returning, so an observer has seen
// everything by the time Run returns.
//
// # Basic Usage
//
//	reg := registry.New(log)
//	filters.RegisterBuiltins(reg, filters.Options{})
//
//	def, err := pipeline.ReadDefinition("segment.json")
//	p, loadMsgs, err := def.Build(reg, pipeline.WithLogger(log))
//
//	res, err := p.Run(ctx, datamodel.NewDataContainerArray())
//	os.Exit(res.ExitCode())
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
	"github.com/ajitpratap0/voxelflow/pkg/metrics"
	"github.com/ajitpratap0/voxelflow/pkg/observability"
)

// ErrBusy is returned when a pipeline is asked to start while a previous call
// is still in progress, or is edited while running.
var ErrBusy = errors.New(errors.ErrorTypeInternal, "pipeline is already running")

// State is the pipeline lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePreflighting
	StatePreflightFailed
	StateRunning
	StateCancelled
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreflighting:
		return "preflighting"
	case StatePreflightFailed:
		return "preflight_failed"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger. The process logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver attaches o at construction.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// Pipeline is an ordered list of filters sharing one data store.
type Pipeline struct {
	name      string
	mu        sync.Mutex
	filters   []filter.Filter
	observers []Observer
	logger    *zap.Logger
	collector *metrics.Collector
	state     State
	active    *session
}

// New creates an empty pipeline.
func New(name string, opts ...Option) *Pipeline {
	p := &Pipeline{name: name}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get()
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	p.collector = metrics.NewCollector(name)
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Len returns the number of filters.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.filters)
}

// Filters returns a copy of the filter list.
func (p *Pipeline) Filters() []filter.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]filter.Filter(nil), p.filters...)
}

// PushBack appends f.
func (p *Pipeline) PushBack(f filter.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return ErrBusy
	}
	p.filters = append(p.filters, f)
	p.state = StateIdle
	return nil
}

// Insert places f at index, shifting later filters back.
func (p *Pipeline) Insert(index int, f filter.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return ErrBusy
	}
	if index < 0 || index > len(p.filters) {
		return errors.Newf(errors.ErrorTypeIndex, "insert index %d out of range [0, %d]", index, len(p.filters))
	}
	p.filters = append(p.filters, nil)
	copy(p.filters[index+1:], p.filters[index:])
	p.filters[index] = f
	p.state = StateIdle
	return nil
}

// Remove deletes and returns the filter at index.
func (p *Pipeline) Remove(index int) (filter.Filter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrBusy
	}
	if index < 0 || index >= len(p.filters) {
		return nil, errors.Newf(errors.ErrorTypeIndex, "remove index %d out of range [0, %d)", index, len(p.filters))
	}
	f := p.filters[index]
	p.filters = append(p.filters[:index], p.filters[index+1:]...)
	p.state = StateIdle
	return f, nil
}

// AddObserver attaches o. Observers added during a run see the next one.
func (p *Pipeline) AddObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Cancel requests cooperative cancellation of the call in progress. It is a
// no-op when nothing is running or the outcome is already decided, and safe
// to call from any goroutine.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.active
	if s == nil || s.settled {
		return
	}
	s.cancelRequested = true
	s.cancel()
	p.logger.Info("pipeline cancellation requested", zap.String("run_id", s.runID))
}

// session holds the state of one Preflight, Execute or Run call.
type session struct {
	runID   string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	disp    *dispatcher
	log     *zap.Logger

	// guarded by Pipeline.mu
	cancelRequested bool
	settled         bool

	msgMu    sync.Mutex
	messages []filter.Message
}

// Notify records m and queues it for observers.
func (s *session) Notify(m filter.Message) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	s.msgMu.Lock()
	s.messages = append(s.messages, m)
	s.msgMu.Unlock()
	s.disp.push(event{kind: eventMessage, msg: m})
}

func (s *session) snapshot() []filter.Message {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	return append([]filter.Message(nil), s.messages...)
}

func (s *session) pipelineMessage(kind filter.MessageKind, text string, code int) {
	s.Notify(filter.Message{Kind: kind, FilterIndex: -1, Text: text, Code: code})
}

func (p *Pipeline) begin(ctx context.Context, state State) (*session, []filter.Filter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		runID:   uuid.NewString(),
		cancel:  cancel,
		started: time.Now(),
	}
	s.ctx = logger.WithRun(runCtx, s.runID, p.name)
	s.log = logger.WithContext(s.ctx, p.logger)
	s.disp = newDispatcher(append([]Observer(nil), p.observers...), p.collector, s.log)
	p.active = s
	p.state = state
	return s, append([]filter.Filter(nil), p.filters...), nil
}

// settle fixes the outcome of s. A cancellation requested before this point
// wins over whatever stopped the run, after it Cancel has no effect.
func (p *Pipeline) settle(s *session, outcome Outcome) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.cancelRequested || s.ctx.Err() != nil {
		outcome = OutcomeCancelled
	}
	s.settled = true
	switch outcome {
	case OutcomeSuccess, OutcomeExecuteFailed:
		p.state = StateFinished
	case OutcomePreflightFailed:
		p.state = StatePreflightFailed
	case OutcomeCancelled:
		p.state = StateCancelled
	}
	return outcome
}

func (p *Pipeline) end(s *session, state State) {
	s.disp.close()
	s.cancel()
	p.mu.Lock()
	if state >= 0 {
		p.state = state
	}
	p.active = nil
	p.mu.Unlock()
}

func (p *Pipeline) cancelled(s *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return s.cancelRequested || s.ctx.Err() != nil
}

// Preflight validates every filter in order against dca, stopping at the
// first negative code, which it returns. dca receives the placeholder arrays
// filters create, so callers that intend to execute afterwards usually pass
// a clone. A cancelled preflight returns errors.CodeCancelled.
func (p *Pipeline) Preflight(ctx context.Context, dca *datamodel.DataContainerArray) (int, error) {
	if dca == nil {
		return errors.CodeInternal, errors.New(errors.ErrorTypeInternal, "nil data container array")
	}
	s, filters, err := p.begin(ctx, StatePreflighting)
	if err != nil {
		return errors.CodeInternal, err
	}
	code, _ := p.preflight(s, filters, dca)

	next := StateIdle
	if code < 0 {
		next = StatePreflightFailed
	}
	p.end(s, next)
	return code, nil
}

// preflight runs the preflight phase and returns the resulting code and the
// index of the failing filter, or -1.
func (p *Pipeline) preflight(s *session, filters []filter.Filter, dca *datamodel.DataContainerArray) (int, int) {
	ctx, span := observability.StartPipelineSpan(s.ctx, metrics.PhasePreflight, p.name, s.runID, len(filters))
	defer span.End()

	s.log.Debug("preflight started", zap.Int("filters", len(filters)))
	code, failed := errors.CodeOK, -1
	for i, f := range filters {
		if p.cancelled(s) {
			code = errors.CodeCancelled
			break
		}
		if !f.Enabled() {
			continue
		}
		st := p.invoke(ctx, s, i, f, metrics.PhasePreflight, dca)
		if st.ErrorCode < 0 {
			code, failed = st.ErrorCode, i
			s.log.Info("preflight failed",
				zap.Int("index", i),
				zap.String("filter", f.Info().ClassName),
				zap.Int("code", st.ErrorCode),
				zap.String("error", st.ErrorMessage))
			break
		}
	}
	s.disp.push(event{kind: eventPreflightFinished, code: code})
	return code, failed
}

// Execute runs every enabled filter in order against dca without a preflight
// pass. Each filter re-validates its inputs at the top of its own execute.
func (p *Pipeline) Execute(ctx context.Context, dca *datamodel.DataContainerArray) (Result, error) {
	if dca == nil {
		return Result{}, errors.New(errors.ErrorTypeInternal, "nil data container array")
	}
	s, filters, err := p.begin(ctx, StateRunning)
	if err != nil {
		return Result{}, err
	}
	p.collector.RunStarted()
	res := p.execute(s, filters, dca)
	return p.finish(s, res, dca), nil
}

// Run preflights a clone of dca and, when that succeeds, executes against
// dca itself. A preflight failure leaves dca untouched.
func (p *Pipeline) Run(ctx context.Context, dca *datamodel.DataContainerArray) (Result, error) {
	if dca == nil {
		return Result{}, errors.New(errors.ErrorTypeInternal, "nil data container array")
	}
	s, filters, err := p.begin(ctx, StatePreflighting)
	if err != nil {
		return Result{}, err
	}
	p.collector.RunStarted()

	code, failed := p.preflight(s, filters, dca.Clone())
	switch {
	case code == errors.CodeCancelled:
		return p.finish(s, Result{Outcome: OutcomeCancelled, FailedIndex: -1}, dca), nil
	case code < 0:
		res := Result{Outcome: OutcomePreflightFailed, Code: code, FailedIndex: failed}
		res.FailedClass, res.FailedLabel = describe(filters[failed])
		return p.finish(s, res, dca), nil
	}

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()
	return p.finish(s, p.execute(s, filters, dca), dca), nil
}

func (p *Pipeline) execute(s *session, filters []filter.Filter, dca *datamodel.DataContainerArray) Result {
	ctx, span := observability.StartPipelineSpan(s.ctx, metrics.PhaseExecute, p.name, s.runID, len(filters))
	defer span.End()

	s.log.Info("pipeline execution started", zap.Int("filters", len(filters)))
	s.pipelineMessage(filter.MessageStatus, "Pipeline started", 0)

	res := Result{Outcome: OutcomeSuccess, FailedIndex: -1}
	enabled := 0
	for _, f := range filters {
		if f.Enabled() {
			enabled++
		}
	}
	for i, f := range filters {
		if p.cancelled(s) {
			res.Outcome = OutcomeCancelled
			return res
		}
		if !f.Enabled() {
			continue
		}
		st := p.invoke(ctx, s, i, f, metrics.PhaseExecute, dca)
		switch {
		case st.ErrorCode < 0:
			res.Outcome = OutcomeExecuteFailed
			res.Code = st.ErrorCode
			res.FailedIndex = i
			res.FailedClass, res.FailedLabel = describe(f)
			return res
		case st.State == filter.StateCancelled || st.ErrorCode == errors.CodeCancelled:
			res.Outcome = OutcomeCancelled
			return res
		}
		res.Completed++
		s.Notify(filter.Message{
			Kind:        filter.MessageProgress,
			FilterIndex: -1,
			Text:        fmt.Sprintf("Completed %d of %d filters", res.Completed, enabled),
			Progress:    res.Completed * 100 / enabled,
		})
	}
	return res
}

// invoke runs one filter phase under a span, recovering a panic into a
// computation failure.
func (p *Pipeline) invoke(ctx context.Context, s *session, i int, f filter.Filter, phase string, dca *datamodel.DataContainerArray) (st filter.Status) {
	class, label := describe(f)
	ctx, span := observability.StartFilterSpan(ctx, phase, class, i)
	ctx = context.WithValue(ctx, logger.FilterKey, class)
	f.Attach(s, i)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			text := fmt.Sprintf("filter panicked: %v", r)
			s.log.Error("filter panicked",
				zap.Int("index", i),
				zap.String("filter", class),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			s.Notify(filter.Message{
				Kind:        filter.MessageError,
				FilterClass: class,
				FilterLabel: label,
				FilterIndex: i,
				Text:        text,
				Code:        errors.CodeComputationFailed,
			})
			state := filter.StateExecuteFailed
			if phase == metrics.PhasePreflight {
				state = filter.StatePreflightFailed
			}
			st = filter.Status{State: state, ErrorCode: errors.CodeComputationFailed, ErrorMessage: text}
		}
		d := time.Since(start)
		p.collector.ObserveFilter(class, phase, d, st.ErrorCode)
		observability.EndFilterSpan(span, st.ErrorCode, st.ErrorMessage)
		if phase == metrics.PhaseExecute {
			s.log.Debug("filter executed",
				zap.Int("index", i),
				zap.String("filter", class),
				zap.Int("code", st.ErrorCode),
				zap.Duration("duration", d))
		}
	}()

	if phase == metrics.PhasePreflight {
		f.Preflight(ctx, dca)
	} else {
		f.Execute(ctx, dca)
	}
	return f.Status()
}

func (p *Pipeline) finish(s *session, res Result, dca *datamodel.DataContainerArray) Result {
	res.Outcome = p.settle(s, res.Outcome)
	if res.Outcome == OutcomeCancelled {
		res.Code = errors.CodeCancelled
	}
	res.RunID = s.runID
	res.Pipeline = p.name
	res.StartedAt = s.started
	res.Duration = time.Since(s.started)

	switch res.Outcome {
	case OutcomeSuccess:
		s.pipelineMessage(filter.MessageStatus, "Pipeline finished", 0)
	case OutcomeCancelled:
		s.pipelineMessage(filter.MessageStatus, "Pipeline cancelled", errors.CodeCancelled)
	default:
		s.pipelineMessage(filter.MessageStatus,
			fmt.Sprintf("Pipeline stopped at filter %d (%s) with code %d", res.FailedIndex+1, res.FailedLabel, res.Code),
			res.Code)
	}
	res.Messages = s.snapshot()

	p.collector.RunFinished(res.Outcome.String(), res.Duration)
	p.collector.ObserveStoreBytes(dca.TotalBytes())
	s.log.Info("pipeline finished",
		zap.String("outcome", res.Outcome.String()),
		zap.Int("code", res.Code),
		zap.Int("completed", res.Completed),
		zap.Duration("duration", res.Duration))

	s.disp.push(event{kind: eventPipelineFinished, result: res})
	p.end(s, -1)
	return res
}

func describe(f filter.Filter) (string, string) {
	info := f.Info()
	return info.ClassName, info.HumanLabel
}
