package pipeline

import (
	"context"
	"sync"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
)

// Runner executes a pipeline on its own goroutine so the caller is never
// blocked. One Runner drives one run at a time.
type Runner struct {
	pipeline *Pipeline

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	result  Result
	err     error
}

// NewRunner wraps p.
func NewRunner(p *Pipeline) *Runner {
	done := make(chan struct{})
	close(done)
	return &Runner{pipeline: p, done: done}
}

// Start launches Run on a new goroutine. The host must not touch dca until
// Done is closed.
func (r *Runner) Start(ctx context.Context, dca *datamodel.DataContainerArray) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.result, r.err = Result{}, nil

	done := r.done
	go func() {
		res, err := r.pipeline.Run(runCtx, dca)
		cancel()
		r.mu.Lock()
		r.result, r.err = res, err
		r.running = false
		r.mu.Unlock()
		close(done)
	}()
	return nil
}

// Cancel requests cancellation of the current run. A cancel issued before
// the run has reached its first filter still yields a Cancelled outcome.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	running := r.running
	r.mu.Unlock()
	if !running {
		return
	}
	r.pipeline.Cancel()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the current run has finished and every notification
// has been delivered.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Wait blocks until the current run finishes and returns its result.
func (r *Runner) Wait() (Result, error) {
	<-r.Done()
	return r.Result()
}

// Result returns the result of the last finished run.
func (r *Runner) Result() (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
