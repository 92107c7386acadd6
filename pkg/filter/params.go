package filter

import (
	"reflect"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
)

// ParameterKind tells hosts how to present and validate a parameter.
type ParameterKind string

const (
	KindInt             ParameterKind = "int"
	KindFloat           ParameterKind = "float"
	KindBool            ParameterKind = "bool"
	KindString          ParameterKind = "string"
	KindChoice          ParameterKind = "choice"
	KindArrayPath       ParameterKind = "array_path"
	KindMatrixPath      ParameterKind = "matrix_path"
	KindContainerName   ParameterKind = "container_name"
	KindElementType     ParameterKind = "element_type"
	KindMatrixType      ParameterKind = "matrix_type"
	KindDimensions      ParameterKind = "dimensions"
	KindFloatVector     ParameterKind = "float_vector"
	KindInputFile       ParameterKind = "input_file"
	KindOutputFile      ParameterKind = "output_file"
	KindDataPathList    ParameterKind = "array_path_list"
	KindComparisonChain ParameterKind = "comparison_list"
)

// Parameter describes one configurable value of a filter.
type Parameter struct {
	Key      string        `json:"key"`
	Label    string        `json:"label"`
	Kind     ParameterKind `json:"kind"`
	Default  any           `json:"default,omitempty"`
	Choices  []string      `json:"choices,omitempty"`
	Required bool          `json:"required,omitempty"`
	Help     string        `json:"help,omitempty"`
}

// pathKeys are the object keys pipeline files use for a serialized path.
var pathKeys = [3]string{"Data Container Name", "Attribute Matrix Name", "Data Array Name"}

var pathType = reflect.TypeOf(datamodel.DataArrayPath{})

// pathFromObjectHook accepts the object form of a DataArrayPath.
func pathFromObjectHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != pathType || from.Kind() != reflect.Map {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return datamodel.DataArrayPath{
		DataContainer:   str(pathKeys[0]),
		AttributeMatrix: str(pathKeys[1]),
		DataArray:       str(pathKeys[2]),
	}, nil
}

// DecodeParameters decodes values into target, a pointer to a struct tagged
// with `mapstructure`. Numbers given as strings, paths given as "a|b|c" or as
// objects, and element and matrix types given by name are all accepted.
// Keys not present in values keep the target's current value.
func DecodeParameters(values map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			pathFromObjectHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "build parameter decoder")
	}
	if err := dec.Decode(values); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInvalidParameter, "decode parameters")
	}
	return nil
}

// EncodeParameters turns a parameter struct into the map form
// DecodeParameters reads back. Paths and types are encoded as text. An
// encoding failure is logged and yields an empty map.
func EncodeParameters(source any) map[string]any {
	out, err := MarshalParameters(source)
	if err != nil {
		logger.Get().Error("encode filter parameters",
			zap.String("type", reflect.TypeOf(source).String()), zap.Error(err))
		return map[string]any{}
	}
	return out
}

// MarshalParameters is EncodeParameters with the error returned.
func MarshalParameters(source any) (map[string]any, error) {
	raw, err := json.Marshal(source)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidParameter, "encode parameters")
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidParameter, "encode parameters")
	}
	return out, nil
}
