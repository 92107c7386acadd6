// Package filter defines the contract every pipeline stage implements and the
// Base helper concrete filters embed.
//
// # Lifecycle
//
// A filter is configured with SetParameters, then preflighted (structural
// validation against a scratch copy of the data store, no heavy computation)
// and finally executed against the real store:
//
//	Configured -> Preflighting -> PreflightOK | PreflightFailed
//	PreflightOK -> Executing -> ExecuteOK | ExecuteFailed | Cancelled
//
// Filters never return errors. They record an error code (negative on
// failure) and emit messages through the Notifier the pipeline attaches; the
// pipeline inspects Status after every call.
package filter

import (
	"context"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
)

// State is the lifecycle state of a filter.
type State int

const (
	StateConfigured State = iota
	StatePreflighting
	StatePreflightOK
	StatePreflightFailed
	StateExecuting
	StateExecuteOK
	StateExecuteFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StatePreflighting:
		return "preflighting"
	case StatePreflightOK:
		return "preflight_ok"
	case StatePreflightFailed:
		return "preflight_failed"
	case StateExecuting:
		return "executing"
	case StateExecuteOK:
		return "execute_ok"
	case StateExecuteFailed:
		return "execute_failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Info describes a filter class.
type Info struct {
	ClassName   string `json:"class_name"`
	HumanLabel  string `json:"human_label"`
	Group       string `json:"group"`
	SubGroup    string `json:"subgroup,omitempty"`
	Description string `json:"description,omitempty"`
}

// Status is a snapshot of the filter outcome fields.
type Status struct {
	State        State
	ErrorCode    int
	WarningCode  int
	ErrorMessage string
}

// Failed reports whether the last phase recorded a negative error code.
func (s Status) Failed() bool { return s.ErrorCode < 0 }

// Filter is one stage of a pipeline.
type Filter interface {
	Info() Info
	// Parameters describes the accepted parameters for hosts building UIs
	// or validating files. The engine never reads it.
	Parameters() []Parameter
	// SetParameters decodes values into the filter configuration.
	SetParameters(values map[string]any) error
	// ParameterValues returns the configuration in the form SetParameters
	// accepts.
	ParameterValues() map[string]any

	Preflight(ctx context.Context, dca *datamodel.DataContainerArray)
	Execute(ctx context.Context, dca *datamodel.DataContainerArray)

	Status() Status
	// Attach routes the filter messages to n, tagged with the filter
	// position in its pipeline.
	Attach(n Notifier, index int)

	Enabled() bool
	SetEnabled(enabled bool)
	SetHumanLabel(label string)
}

// Cancelled reports whether ctx has been cancelled. Long loops poll it at
// coarse intervals.
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
