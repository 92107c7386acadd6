package pipeline

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/metrics"
)

// Observer receives pipeline notifications. Calls are made from a dispatcher
// goroutine, never from a filter's stack, one at a time and in emission
// order.
type Observer interface {
	OnStatusMessage(m filter.Message)
	OnProgress(m filter.Message)
	OnWarning(m filter.Message)
	OnError(m filter.Message)
	// OnPreflightFinished reports the preflight result code: 0, the first
	// negative filter code, or errors.CodeCancelled.
	OnPreflightFinished(code int)
	// OnPipelineFinished is called exactly once per Execute or Run.
	OnPipelineFinished(r Result)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are
// ignored.
type ObserverFuncs struct {
	Status            func(filter.Message)
	Progress          func(filter.Message)
	Warning           func(filter.Message)
	Error             func(filter.Message)
	PreflightFinished func(code int)
	PipelineFinished  func(r Result)
}

func (o ObserverFuncs) OnStatusMessage(m filter.Message) {
	if o.Status != nil {
		o.Status(m)
	}
}

func (o ObserverFuncs) OnProgress(m filter.Message) {
	if o.Progress != nil {
		o.Progress(m)
	}
}

func (o ObserverFuncs) OnWarning(m filter.Message) {
	if o.Warning != nil {
		o.Warning(m)
	}
}

func (o ObserverFuncs) OnError(m filter.Message) {
	if o.Error != nil {
		o.Error(m)
	}
}

func (o ObserverFuncs) OnPreflightFinished(code int) {
	if o.PreflightFinished != nil {
		o.PreflightFinished(code)
	}
}

func (o ObserverFuncs) OnPipelineFinished(r Result) {
	if o.PipelineFinished != nil {
		o.PipelineFinished(r)
	}
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventPreflightFinished
	eventPipelineFinished
)

type event struct {
	kind   eventKind
	msg    filter.Message
	code   int
	result Result
}

// dispatcher delivers events to observers on its own goroutine through an
// unbounded FIFO, so emitting never blocks the filter and nothing is
// dropped. close drains the queue before returning.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []event
	closed    bool
	done      chan struct{}
	observers []Observer
	collector *metrics.Collector
	logger    *zap.Logger
}

func newDispatcher(observers []Observer, collector *metrics.Collector, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		done:      make(chan struct{}),
		observers: observers,
		collector: collector,
		logger:    logger,
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) push(e event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("event emitted after dispatcher closed", zap.Int("kind", int(e.kind)))
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()
	d.cond.Signal()
}

// close stops accepting events and waits until every queued event has been
// delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Signal()
	<-d.done
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, e := range batch {
			d.deliver(e)
		}
	}
}

func (d *dispatcher) deliver(e event) {
	if e.kind == eventMessage && d.collector != nil {
		d.collector.ObserveMessage(e.msg.Kind.String())
	}
	for _, o := range d.observers {
		d.deliverOne(o, e)
	}
}

func (d *dispatcher) deliverOne(o Observer, e event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	switch e.kind {
	case eventPreflightFinished:
		o.OnPreflightFinished(e.code)
	case eventPipelineFinished:
		o.OnPipelineFinished(e.result)
	default:
		switch e.msg.Kind {
		case filter.MessageError:
			o.OnError(e.msg)
		case filter.MessageWarning:
			o.OnWarning(e.msg)
		case filter.MessageProgress:
			o.OnProgress(e.msg)
		default:
			o.OnStatusMessage(e.msg)
		}
	}
}
