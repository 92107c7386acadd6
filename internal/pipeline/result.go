package pipeline

import (
	"time"

	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

// Outcome is the terminal classification of a run.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePreflightFailed
	OutcomeExecuteFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePreflightFailed:
		return "preflight_failed"
	case OutcomeExecuteFailed:
		return "execute_failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Process exit codes for headless hosts.
const (
	ExitSuccess         = 0
	ExitPreflightFailed = 1
	ExitExecuteFailed   = 2
	ExitCancelled       = 3
)

// Result describes a finished Execute or Run.
type Result struct {
	RunID    string
	Pipeline string
	Outcome  Outcome
	// Code is 0 on success, the failing filter's negative code on failure
	// and errors.CodeCancelled when cancelled.
	Code int
	// FailedIndex is the position of the failing filter, or -1.
	FailedIndex int
	FailedClass string
	FailedLabel string
	// Completed counts filters whose execute finished successfully.
	Completed int
	Messages  []filter.Message
	StartedAt time.Time
	Duration  time.Duration
}

// ExitCode maps the outcome to a process exit code.
func (r Result) ExitCode() int {
	switch r.Outcome {
	case OutcomeSuccess:
		return ExitSuccess
	case OutcomePreflightFailed:
		return ExitPreflightFailed
	case OutcomeCancelled:
		return ExitCancelled
	default:
		return ExitExecuteFailed
	}
}

// Errors returns the error messages of the run.
func (r Result) Errors() []filter.Message {
	var out []filter.Message
	for _, m := range r.Messages {
		if m.Kind == filter.MessageError {
			out = append(out, m)
		}
	}
	return out
}
