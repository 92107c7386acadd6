package datamodel

import (
	"strings"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// PathSeparator joins the three names of a serialized DataArrayPath.
const PathSeparator = "|"

// DataArrayPath addresses an array as (data container, attribute matrix,
// array). Trailing names may be empty when the path addresses a container or
// a matrix.
type DataArrayPath struct {
	DataContainer   string
	AttributeMatrix string
	DataArray       string
}

// NewDataArrayPath builds a full array path and validates it.
func NewDataArrayPath(dc, am, da string) (DataArrayPath, error) {
	p := DataArrayPath{DataContainer: dc, AttributeMatrix: am, DataArray: da}
	if err := p.Validate(); err != nil {
		return DataArrayPath{}, err
	}
	return p, nil
}

// MustPath is NewDataArrayPath for literals in code and tests.
func MustPath(dc, am, da string) DataArrayPath {
	p, err := NewDataArrayPath(dc, am, da)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseDataArrayPath parses "dc|am|array". One or two names are accepted for
// container and matrix paths.
func ParseDataArrayPath(s string) (DataArrayPath, error) {
	if s == "" {
		return DataArrayPath{}, nil
	}
	parts := strings.Split(s, PathSeparator)
	if len(parts) > 3 {
		return DataArrayPath{}, errors.Newf(errors.ErrorTypeInvalidPath, "path %q has more than three names", s)
	}
	var p DataArrayPath
	p.DataContainer = parts[0]
	if len(parts) > 1 {
		p.AttributeMatrix = parts[1]
	}
	if len(parts) > 2 {
		p.DataArray = parts[2]
	}
	return p, nil
}

func (p DataArrayPath) String() string {
	switch {
	case p.DataArray != "":
		return p.DataContainer + PathSeparator + p.AttributeMatrix + PathSeparator + p.DataArray
	case p.AttributeMatrix != "":
		return p.DataContainer + PathSeparator + p.AttributeMatrix
	default:
		return p.DataContainer
	}
}

// IsEmpty reports whether no name is set.
func (p DataArrayPath) IsEmpty() bool {
	return p.DataContainer == "" && p.AttributeMatrix == "" && p.DataArray == ""
}

// Validate requires all three names to be set and free of the separator.
func (p DataArrayPath) Validate() error {
	if p.IsEmpty() {
		return errors.New(errors.ErrorTypeInvalidPath, "path is empty").WithCode(errors.CodeEmptyPath)
	}
	if err := p.ValidateMatrix(); err != nil {
		return err
	}
	if p.DataArray == "" {
		return errors.Newf(errors.ErrorTypeInvalidPath, "path %q has no array name", p.String())
	}
	if strings.Contains(p.DataArray, PathSeparator) {
		return errors.Newf(errors.ErrorTypeInvalidPath, "array name %q contains %q", p.DataArray, PathSeparator)
	}
	return nil
}

// ValidateMatrix requires the container and matrix names only.
func (p DataArrayPath) ValidateMatrix() error {
	if p.IsEmpty() {
		return errors.New(errors.ErrorTypeInvalidPath, "path is empty").WithCode(errors.CodeEmptyPath)
	}
	if p.DataContainer == "" || p.AttributeMatrix == "" {
		return errors.Newf(errors.ErrorTypeInvalidPath, "path %q needs a data container and an attribute matrix", p.String())
	}
	for _, n := range []string{p.DataContainer, p.AttributeMatrix} {
		if strings.Contains(n, PathSeparator) {
			return errors.Newf(errors.ErrorTypeInvalidPath, "name %q contains %q", n, PathSeparator)
		}
	}
	return nil
}

// MatrixPath drops the array name.
func (p DataArrayPath) MatrixPath() DataArrayPath {
	return DataArrayPath{DataContainer: p.DataContainer, AttributeMatrix: p.AttributeMatrix}
}

// WithArray returns p addressing another array of the same matrix.
func (p DataArrayPath) WithArray(name string) DataArrayPath {
	p.DataArray = name
	return p
}

// SameMatrix reports whether both paths address the same attribute matrix.
func (p DataArrayPath) SameMatrix(o DataArrayPath) bool {
	return p.DataContainer == o.DataContainer && p.AttributeMatrix == o.AttributeMatrix
}

func (p DataArrayPath) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *DataArrayPath) UnmarshalText(b []byte) error {
	parsed, err := ParseDataArrayPath(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
