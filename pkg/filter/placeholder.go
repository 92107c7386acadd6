package filter

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// Placeholder stands in for a filter a pipeline file names but the registry
// cannot build, or for an index missing from the file. It keeps the original
// parameters so the pipeline can be written back unchanged, and fails
// preflight so the pipeline never runs with it.
type Placeholder struct {
	Base
	code   int
	text   string
	params map[string]any
}

// NewUnknown builds the placeholder for an unregistered class name.
func NewUnknown(className string, params map[string]any) *Placeholder {
	p := &Placeholder{
		code:   errors.CodeUnknownFilter,
		text:   fmt.Sprintf("filter %q is not registered; the pipeline cannot run until it is available", className),
		params: copyParams(params),
	}
	p.Init(Info{
		ClassName:  className,
		HumanLabel: "UNKNOWN FILTER: " + className,
		Group:      "Unknown",
	})
	return p
}

// NewMissing builds the placeholder for a pipeline index with no filter entry.
func NewMissing(index int) *Placeholder {
	p := &Placeholder{
		code:   errors.CodeMissingFilter,
		text:   fmt.Sprintf("pipeline entry %d is missing", index),
		params: map[string]any{},
	}
	p.Init(Info{ClassName: "", HumanLabel: "MISSING FILTER", Group: "Unknown"})
	return p
}

// Code is the error code the placeholder reports.
func (p *Placeholder) Code() int { return p.code }

// Message is the error text the placeholder reports.
func (p *Placeholder) Message() string { return p.text }

func (p *Placeholder) Parameters() []Parameter { return nil }

// SetParameters stores values verbatim.
func (p *Placeholder) SetParameters(values map[string]any) error {
	p.params = copyParams(values)
	return nil
}

func (p *Placeholder) ParameterValues() map[string]any { return copyParams(p.params) }

func (p *Placeholder) Preflight(_ context.Context, _ *datamodel.DataContainerArray) {
	p.BeginPreflight()
	defer p.EndPreflight()
	p.SetErrorCondition(p.code, p.text)
}

func (p *Placeholder) Execute(ctx context.Context, _ *datamodel.DataContainerArray) {
	p.BeginExecute()
	defer p.EndExecute(ctx)
	p.SetErrorCondition(p.code, p.text)
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
