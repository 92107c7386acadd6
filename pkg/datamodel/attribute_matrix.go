package datamodel

import (
	"math"
	"strconv"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// MatrixType classifies what the tuples of an AttributeMatrix describe.
type MatrixType int

const (
	MatrixVertex MatrixType = iota
	MatrixEdge
	MatrixFace
	MatrixCell
	MatrixVertexFeature
	MatrixEdgeFeature
	MatrixFaceFeature
	MatrixCellFeature
	MatrixVertexEnsemble
	MatrixEdgeEnsemble
	MatrixFaceEnsemble
	MatrixCellEnsemble
	MatrixMetaData
	MatrixGeneric
	MatrixUnknown MatrixType = 999
)

var matrixTypeNames = map[MatrixType]string{
	MatrixVertex:         "Vertex",
	MatrixEdge:           "Edge",
	MatrixFace:           "Face",
	MatrixCell:           "Cell",
	MatrixVertexFeature:  "VertexFeature",
	MatrixEdgeFeature:    "EdgeFeature",
	MatrixFaceFeature:    "FaceFeature",
	MatrixCellFeature:    "CellFeature",
	MatrixVertexEnsemble: "VertexEnsemble",
	MatrixEdgeEnsemble:   "EdgeEnsemble",
	MatrixFaceEnsemble:   "FaceEnsemble",
	MatrixCellEnsemble:   "CellEnsemble",
	MatrixMetaData:       "MetaData",
	MatrixGeneric:        "Generic",
	MatrixUnknown:        "Unknown",
}

func (t MatrixType) String() string {
	if n, ok := matrixTypeNames[t]; ok {
		return n
	}
	return "MatrixType(" + strconv.Itoa(int(t)) + ")"
}

// IsFeature reports whether the matrix holds per-feature data.
func (t MatrixType) IsFeature() bool {
	return t >= MatrixVertexFeature && t <= MatrixCellFeature
}

// IsEnsemble reports whether the matrix holds per-ensemble data.
func (t MatrixType) IsEnsemble() bool {
	return t >= MatrixVertexEnsemble && t <= MatrixCellEnsemble
}

// ParseMatrixType accepts the names printed by String and the numeric values.
func ParseMatrixType(s string) (MatrixType, error) {
	for t, n := range matrixTypeNames {
		if n == s {
			return t, nil
		}
	}
	if v, err := strconv.Atoi(s); err == nil {
		if _, ok := matrixTypeNames[MatrixType(v)]; ok {
			return MatrixType(v), nil
		}
	}
	return MatrixUnknown, errors.Newf(errors.ErrorTypeInvalidParameter, "unknown attribute matrix type %q", s)
}

func (t MatrixType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MatrixType) UnmarshalText(b []byte) error {
	parsed, err := ParseMatrixType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AnyComponents disables the component check of GetPrereqArray.
const AnyComponents = 0

// AttributeMatrix is an ordered set of arrays that all share one tuple
// count, the product of the tuple dimensions.
type AttributeMatrix struct {
	name      string
	kind      MatrixType
	tupleDims []int
	arrays    map[string]DataArray
	order     []string
	guard     AllocationGuard
}

// NewAttributeMatrix creates an empty matrix. Every tuple dimension must be
// non-negative.
func NewAttributeMatrix(name string, tupleDims []int, kind MatrixType) (*AttributeMatrix, error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeInvalidParameter, "attribute matrix name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	if _, err := tupleCount(tupleDims); err != nil {
		return nil, err
	}
	return &AttributeMatrix{
		name:      name,
		kind:      kind,
		tupleDims: append([]int(nil), tupleDims...),
		arrays:    make(map[string]DataArray),
	}, nil
}

func tupleCount(dims []int) (int, error) {
	if len(dims) == 0 {
		return 0, nil
	}
	n := 1
	for _, d := range dims {
		if d < 0 {
			return 0, errors.Newf(errors.ErrorTypeInvalidParameter, "negative tuple dimension in %v", dims)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errors.Newf(errors.ErrorTypeAllocation, "tuple dimensions %v overflow", dims)
		}
		n *= d
	}
	return n, nil
}

func (m *AttributeMatrix) Name() string     { return m.name }
func (m *AttributeMatrix) Type() MatrixType { return m.kind }
func (m *AttributeMatrix) NumArrays() int   { return len(m.order) }

// SetType reclassifies the matrix without touching its arrays.
func (m *AttributeMatrix) SetType(t MatrixType) {
	m.kind = t
}

// TupleDimensions returns a copy of the tuple dimensions.
func (m *AttributeMatrix) TupleDimensions() []int {
	return append([]int(nil), m.tupleDims...)
}

// NumTuples is the product of the tuple dimensions, or 0 when there are none.
func (m *AttributeMatrix) NumTuples() int {
	n, _ := tupleCount(m.tupleDims)
	return n
}

// ArrayNames returns the array names in insertion order.
func (m *AttributeMatrix) ArrayNames() []string {
	return append([]string(nil), m.order...)
}

// Arrays returns the arrays in insertion order.
func (m *AttributeMatrix) Arrays() []DataArray {
	out := make([]DataArray, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.arrays[n])
	}
	return out
}

func (m *AttributeMatrix) HasArray(name string) bool {
	_, ok := m.arrays[name]
	return ok
}

// Array looks up an array by name.
func (m *AttributeMatrix) Array(name string) (DataArray, bool) {
	a, ok := m.arrays[name]
	return a, ok
}

// AddArray inserts arr, replacing an array of the same name in place. The
// array tuple count must equal the matrix tuple count.
func (m *AttributeMatrix) AddArray(arr DataArray) error {
	if arr == nil || arr.Name() == "" {
		return errors.New(errors.ErrorTypeInvalidParameter, "array name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	if arr.NumTuples() != m.NumTuples() {
		return errors.Newf(errors.ErrorTypeTypeMismatch,
			"array %q has %d tuples but attribute matrix %q has %d", arr.Name(), arr.NumTuples(), m.name, m.NumTuples()).
			WithCode(errors.CodeTupleCountMismatch)
	}
	if _, exists := m.arrays[arr.Name()]; !exists {
		m.order = append(m.order, arr.Name())
	}
	m.arrays[arr.Name()] = arr
	return nil
}

// RemoveArray detaches and returns the named array.
func (m *AttributeMatrix) RemoveArray(name string) (DataArray, bool) {
	a, ok := m.arrays[name]
	if !ok {
		return nil, false
	}
	delete(m.arrays, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return a, true
}

// RenameArray renames an array keeping its position. With overwrite set an
// existing array named newName is dropped first.
func (m *AttributeMatrix) RenameArray(oldName, newName string, overwrite bool) error {
	a, ok := m.arrays[oldName]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "array %q not found in attribute matrix %q", oldName, m.name)
	}
	if newName == "" {
		return errors.New(errors.ErrorTypeInvalidParameter, "new array name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := m.arrays[newName]; exists {
		if !overwrite {
			return errors.Newf(errors.ErrorTypeAlreadyExists, "array %q already exists in attribute matrix %q", newName, m.name)
		}
		m.RemoveArray(newName)
	}
	delete(m.arrays, oldName)
	a.setName(newName)
	m.arrays[newName] = a
	for i, n := range m.order {
		if n == oldName {
			m.order[i] = newName
			break
		}
	}
	return nil
}

// SetTupleDimensions changes the tuple dimensions and resizes every array to
// the new tuple count.
func (m *AttributeMatrix) SetTupleDimensions(dims []int) error {
	n, err := tupleCount(dims)
	if err != nil {
		return err
	}
	if m.guard != nil {
		var grow int64
		for _, a := range m.arrays {
			if d := n - a.NumTuples(); d > 0 {
				grow += int64(d) * int64(a.NumComponents()) * int64(a.Type().Size())
			}
		}
		if grow > 0 {
			if err := m.guard.Reserve(grow); err != nil {
				return err
			}
		}
	}
	for _, name := range m.order {
		if err := m.arrays[name].Resize(n); err != nil {
			return errors.Wrap(err, errors.ErrorTypeAllocation, "resize attribute matrix "+m.name)
		}
	}
	m.tupleDims = append([]int(nil), dims...)
	return nil
}

// ValidateArraySizes checks that every array holds NumTuples tuples.
func (m *AttributeMatrix) ValidateArraySizes() error {
	want := m.NumTuples()
	for _, name := range m.order {
		if got := m.arrays[name].NumTuples(); got != want {
			return errors.Newf(errors.ErrorTypeTypeMismatch,
				"array %q has %d tuples, attribute matrix %q expects %d", name, got, m.name, want).
				WithCode(errors.CodeTupleValidation)
		}
	}
	return nil
}

// RemoveInactiveObjects drops the tuples whose active flag is false from every
// array of a feature or ensemble matrix and renumbers ids, an element-level
// array of feature ids, so surviving features stay contiguous. Tuple 0 is
// always kept. Elements that pointed at a removed feature are set to 0.
func (m *AttributeMatrix) RemoveInactiveObjects(active []bool, ids *Array[int32]) error {
	if !m.kind.IsFeature() && !m.kind.IsEnsemble() {
		return errors.Newf(errors.ErrorTypeInvalidParameter,
			"attribute matrix %q is of type %s; only feature and ensemble matrices can drop objects", m.name, m.kind)
	}
	total := m.NumTuples()
	if len(active) != total {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "active list has %d entries, attribute matrix %q has %d tuples",
			len(active), m.name, total).WithCode(errors.CodeTupleCountMismatch)
	}

	var vals []int32
	if ids != nil {
		vals = ids.Values()
		for i, id := range vals {
			if id < 0 || int(id) >= total {
				return errors.Newf(errors.ErrorTypeIndex, "feature id %d at element %d is outside [0, %d)", id, i, total)
			}
		}
	}

	remap := make([]int32, total)
	var drop []int
	next := int32(0)
	for i := 0; i < total; i++ {
		if i == 0 || active[i] {
			remap[i] = next
			next++
			continue
		}
		remap[i] = 0
		drop = append(drop, i)
	}
	if len(drop) == 0 {
		return nil
	}

	for _, name := range m.order {
		if err := m.arrays[name].EraseTuples(drop); err != nil {
			return err
		}
	}
	// the remaining dims collapse to a flat list
	m.tupleDims = []int{total - len(drop)}

	for i, id := range vals {
		vals[i] = remap[id]
	}
	return nil
}

// Clone deep-copies the matrix and its arrays.
func (m *AttributeMatrix) Clone() *AttributeMatrix {
	c := &AttributeMatrix{
		name:      m.name,
		kind:      m.kind,
		tupleDims: append([]int(nil), m.tupleDims...),
		arrays:    make(map[string]DataArray, len(m.arrays)),
		order:     append([]string(nil), m.order...),
		guard:     m.guard,
	}
	for n, a := range m.arrays {
		c.arrays[n] = a.Clone()
	}
	return c
}

func (m *AttributeMatrix) reserve(bytes int64) error {
	if m.guard == nil || bytes <= 0 {
		return nil
	}
	return m.guard.Reserve(bytes)
}

// GetPrereqArray returns the named array as *Array[T]. A missing array is a
// missing prerequisite; a wrong element type, tuple count or component count
// (unless comps is AnyComponents) is a type mismatch carrying -501, -502 or
// -503.
func GetPrereqArray[T Element](m *AttributeMatrix, name string, comps int) (*Array[T], error) {
	raw, ok := m.arrays[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeMissingPrerequisite,
			"array %q does not exist in attribute matrix %q", name, m.name).WithDetail("array", name)
	}
	typed, ok := raw.(*Array[T])
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeTypeMismatch,
			"array %q in attribute matrix %q holds %s, expected %s", name, m.name, raw.Type(), ElementTypeOf[T]()).
			WithCode(errors.CodeTypeMismatch)
	}
	if typed.NumTuples() != m.NumTuples() {
		return nil, errors.Newf(errors.ErrorTypeTypeMismatch,
			"array %q has %d tuples but attribute matrix %q has %d", name, typed.NumTuples(), m.name, m.NumTuples()).
			WithCode(errors.CodeTupleCountMismatch)
	}
	if comps != AnyComponents && typed.NumComponents() != comps {
		return nil, errors.Newf(errors.ErrorTypeTypeMismatch,
			"array %q has %d components, expected %d", name, typed.NumComponents(), comps).
			WithCode(errors.CodeComponentMismatch)
	}
	return typed, nil
}

// CreateArray allocates a new array sized to the matrix tuple count, filled
// with fill, and inserts it. An existing array of the same name is replaced.
func CreateArray[T Element](m *AttributeMatrix, name string, comps int, fill T) (*Array[T], error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeInvalidParameter, "array name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	n := m.NumTuples()
	if err := m.reserve(int64(n) * int64(comps) * int64(ElementTypeOf[T]().Size())); err != nil {
		return nil, err
	}
	arr, err := NewArrayWithFill(name, n, comps, fill)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "create array "+name).
			WithCode(errors.CodeArrayCreateFailed)
	}
	if err := m.AddArray(arr); err != nil {
		return nil, err
	}
	return arr, nil
}

// GetOrCreateArray resolves name as a prerequisite when prereq is set and
// creates it otherwise.
func GetOrCreateArray[T Element](m *AttributeMatrix, name string, comps int, prereq bool, fill T) (*Array[T], error) {
	if prereq {
		return GetPrereqArray[T](m, name, comps)
	}
	return CreateArray(m, name, comps, fill)
}

// CreateDataArray is CreateArray for a runtime-selected element type. fill is
// narrowed to the element type and kept for tuples added by later resizes.
func (m *AttributeMatrix) CreateDataArray(t ElementType, name string, comps int, fill float64) (DataArray, error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeInvalidParameter, "array name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	n := m.NumTuples()
	if err := m.reserve(int64(n) * int64(comps) * int64(t.Size())); err != nil {
		return nil, err
	}
	arr, err := NewDataArrayWithFill(t, name, n, comps, fill)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "create array "+name).
			WithCode(errors.CodeArrayCreateFailed)
	}
	if err := m.AddArray(arr); err != nil {
		return nil, err
	}
	return arr, nil
}
