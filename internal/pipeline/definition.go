package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/registry"
)

// Keys of the indexed JSON pipeline layout.
const (
	builderKey       = "PipelineBuilder"
	builderName      = "Name"
	builderVersion   = "Version"
	builderCount     = "Number_Filters"
	filterNameKey    = "Filter_Name"
	filterLabelKey   = "Filter_Human_Label"
	filterEnabledKey = "Filter_Enabled"
	filterUUIDKey    = "Filter_Uuid"
)

// DefinitionVersion is written to new pipeline files.
const DefinitionVersion = 6

// Definition is the serializable form of a pipeline.
type Definition struct {
	Name    string        `yaml:"name"`
	Version int           `yaml:"version"`
	Filters []FilterEntry `yaml:"filters"`
}

// FilterEntry is one pipeline position. Missing marks an index the file
// skipped.
type FilterEntry struct {
	ClassName  string         `yaml:"filter"`
	HumanLabel string         `yaml:"label,omitempty"`
	Enabled    *bool          `yaml:"enabled,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	Missing    bool           `yaml:"-"`
}

// IsEnabled reports whether the entry runs. Entries default to enabled.
func (e FilterEntry) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// ReadDefinition loads a pipeline file, choosing the layout by extension:
// .yaml and .yml are YAML, anything else is the indexed JSON layout.
func ReadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read pipeline file")
	}
	var def *Definition
	if isYAML(path) {
		def, err = ParseYAML(data)
	} else {
		def, err = ParseJSON(data)
	}
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

// WriteDefinition saves def using the layout implied by the extension.
func WriteDefinition(path string, def *Definition) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = def.EncodeYAML()
	} else {
		data, err = def.EncodeJSON()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write pipeline file")
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// MaxFilters bounds the number of entries a pipeline file may declare.
const MaxFilters = 10000

// ParseJSON decodes the indexed layout:
//
//	{"PipelineBuilder": {"Name": "...", "Version": 6, "Number_Filters": 2},
//	 "0": {"Filter_Name": "...", "Filter_Human_Label": "...", ...params},
//	 "1": {...}}
//
// Indexes below Number_Filters with no entry become Missing entries.
func ParseJSON(data []byte) (*Definition, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pipeline JSON")
	}

	def := &Definition{Version: DefinitionVersion}
	count := -1
	if raw, ok := root[builderKey]; ok {
		var builder map[string]any
		if err := json.Unmarshal(raw, &builder); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid PipelineBuilder section")
		}
		if name, ok := builder[builderName].(string); ok {
			def.Name = name
		}
		if v, ok := asInt(builder[builderVersion]); ok {
			def.Version = v
		}
		if n, ok := asInt(builder[builderCount]); ok {
			count = n
		}
	}

	indexes := make(map[int]json.RawMessage)
	maxIndex := -1
	for key, raw := range root {
		if key == builderKey {
			continue
		}
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			continue
		}
		indexes[idx] = raw
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if count < 0 {
		count = maxIndex + 1
	}
	if count > MaxFilters {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"pipeline declares %d filters; at most %d are supported", count, MaxFilters)
	}

	def.Filters = make([]FilterEntry, 0, count)
	for i := 0; i < count; i++ {
		raw, ok := indexes[i]
		if !ok {
			def.Filters = append(def.Filters, FilterEntry{Missing: true})
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid filter entry %d", i))
		}
		def.Filters = append(def.Filters, entryFromObject(obj))
	}
	return def, nil
}

func entryFromObject(obj map[string]any) FilterEntry {
	e := FilterEntry{Parameters: make(map[string]any, len(obj))}
	for k, v := range obj {
		switch k {
		case filterNameKey:
			e.ClassName, _ = v.(string)
		case filterLabelKey:
			e.HumanLabel, _ = v.(string)
		case filterEnabledKey:
			if b, ok := asBool(v); ok {
				e.Enabled = &b
			}
		case filterUUIDKey:
		default:
			e.Parameters[k] = v
		}
	}
	return e
}

// EncodeJSON renders the indexed layout.
func (d *Definition) EncodeJSON() ([]byte, error) {
	root := make(map[string]any, len(d.Filters)+1)
	root[builderKey] = map[string]any{
		builderName:    d.Name,
		builderVersion: d.Version,
		builderCount:   len(d.Filters),
	}
	for i, e := range d.Filters {
		if e.Missing {
			continue
		}
		obj := make(map[string]any, len(e.Parameters)+3)
		for k, v := range e.Parameters {
			obj[k] = v
		}
		obj[filterNameKey] = e.ClassName
		obj[filterLabelKey] = e.HumanLabel
		obj[filterEnabledKey] = e.IsEnabled()
		root[strconv.Itoa(i)] = obj
	}
	data, err := json.MarshalIndent(root, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode pipeline JSON")
	}
	return data, nil
}

// ParseYAML decodes the list layout.
func ParseYAML(data []byte) (*Definition, error) {
	def := &Definition{Version: DefinitionVersion}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pipeline YAML")
	}
	return def, nil
}

// EncodeYAML renders the list layout.
func (d *Definition) EncodeYAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode pipeline YAML")
	}
	return data, nil
}

// Build instantiates the definition through reg, preserving order. Unknown
// class names and missing entries become placeholders that fail preflight;
// the returned messages describe them. Invalid parameters for a known filter
// are an error.
func (d *Definition) Build(reg *registry.Registry, opts ...Option) (*Pipeline, []filter.Message, error) {
	p := New(d.Name, opts...)
	var msgs []filter.Message

	for i, e := range d.Filters {
		var f filter.Filter
		switch {
		case e.Missing || e.ClassName == "":
			ph := filter.NewMissing(i)
			msgs = append(msgs, placeholderMessage(ph, i))
			f = ph
		case !reg.Has(e.ClassName):
			ph := filter.NewUnknown(e.ClassName, e.Parameters)
			msgs = append(msgs, placeholderMessage(ph, i))
			p.logger.Warn("pipeline names an unregistered filter",
				zap.Int("index", i),
				zap.String("filter", e.ClassName))
			f = ph
		default:
			created, err := reg.Create(e.ClassName)
			if err != nil {
				return nil, msgs, err
			}
			if err := created.SetParameters(e.Parameters); err != nil {
				return nil, msgs, errors.Wrap(err, errors.ErrorTypeInvalidParameter,
					fmt.Sprintf("filter %d (%s)", i, e.ClassName)).
					WithDetail("index", i)
			}
			f = created
		}
		if e.HumanLabel != "" {
			f.SetHumanLabel(e.HumanLabel)
		}
		f.SetEnabled(e.IsEnabled())
		p.filters = append(p.filters, f)
	}
	return p, msgs, nil
}

func placeholderMessage(ph *filter.Placeholder, index int) filter.Message {
	info := ph.Info()
	return filter.Message{
		Kind:        filter.MessageError,
		FilterClass: info.ClassName,
		FilterLabel: info.HumanLabel,
		FilterIndex: index,
		Text:        ph.Message(),
		Code:        ph.Code(),
	}
}

// DefinitionOf captures the current filters and their parameters.
func DefinitionOf(p *Pipeline) *Definition {
	def := &Definition{Name: p.Name(), Version: DefinitionVersion}
	for _, f := range p.Filters() {
		info := f.Info()
		enabled := f.Enabled()
		e := FilterEntry{
			ClassName:  info.ClassName,
			HumanLabel: info.HumanLabel,
			Parameters: f.ParameterValues(),
		}
		if !enabled {
			e.Enabled = &enabled
		}
		if ph, ok := f.(*filter.Placeholder); ok && ph.Code() == errors.CodeMissingFilter {
			e = FilterEntry{Missing: true}
		}
		def.Filters = append(def.Filters, e)
	}
	return def
}

// ClassNames lists the class names in order, for logs and the CLI.
func (d *Definition) ClassNames() []string {
	out := make([]string, len(d.Filters))
	for i, e := range d.Filters {
		out[i] = e.ClassName
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}
