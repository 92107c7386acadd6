package datamodel

import (
	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// ImageGeometry describes a regular grid. The engine treats it as opaque
// metadata; filters that need spatial layout read it.
type ImageGeometry struct {
	Dimensions [3]int     `json:"dimensions" yaml:"dimensions"`
	Spacing    [3]float64 `json:"spacing" yaml:"spacing"`
	Origin     [3]float64 `json:"origin" yaml:"origin"`
}

// NumElements is the number of cells of the grid.
func (g ImageGeometry) NumElements() int {
	return g.Dimensions[0] * g.Dimensions[1] * g.Dimensions[2]
}

// TupleDimensions returns the grid dimensions in x, y, z order.
func (g ImageGeometry) TupleDimensions() []int {
	return []int{g.Dimensions[0], g.Dimensions[1], g.Dimensions[2]}
}

// DataContainer is a named group of attribute matrices with an optional
// geometry.
type DataContainer struct {
	name     string
	geometry *ImageGeometry
	matrices map[string]*AttributeMatrix
	order    []string
	guard    AllocationGuard
}

// NewDataContainer creates an empty container.
func NewDataContainer(name string) (*DataContainer, error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeInvalidParameter, "data container name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	return &DataContainer{name: name, matrices: make(map[string]*AttributeMatrix)}, nil
}

func (c *DataContainer) Name() string { return c.name }

// Geometry returns the grid, or nil when the container has none.
func (c *DataContainer) Geometry() *ImageGeometry { return c.geometry }

func (c *DataContainer) SetGeometry(g *ImageGeometry) { c.geometry = g }

// AttributeMatrixNames returns the matrix names in insertion order.
func (c *DataContainer) AttributeMatrixNames() []string {
	return append([]string(nil), c.order...)
}

func (c *DataContainer) HasAttributeMatrix(name string) bool {
	_, ok := c.matrices[name]
	return ok
}

// AttributeMatrix looks up a matrix by name.
func (c *DataContainer) AttributeMatrix(name string) (*AttributeMatrix, error) {
	m, ok := c.matrices[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeMissingAttributeMatrix,
			"attribute matrix %q does not exist in data container %q", name, c.name)
	}
	return m, nil
}

// CreateAttributeMatrix returns the existing matrix of that name unchanged,
// or creates it.
func (c *DataContainer) CreateAttributeMatrix(name string, tupleDims []int, kind MatrixType) (*AttributeMatrix, error) {
	if m, ok := c.matrices[name]; ok {
		return m, nil
	}
	m, err := NewAttributeMatrix(name, tupleDims, kind)
	if err != nil {
		return nil, err
	}
	c.AddAttributeMatrix(m)
	return m, nil
}

// AddAttributeMatrix inserts m, replacing a matrix of the same name in place.
func (c *DataContainer) AddAttributeMatrix(m *AttributeMatrix) {
	if _, exists := c.matrices[m.name]; !exists {
		c.order = append(c.order, m.name)
	}
	m.guard = c.guard
	c.matrices[m.name] = m
}

// RemoveAttributeMatrix detaches and returns the named matrix.
func (c *DataContainer) RemoveAttributeMatrix(name string) (*AttributeMatrix, bool) {
	m, ok := c.matrices[name]
	if !ok {
		return nil, false
	}
	delete(c.matrices, name)
	c.order = removeName(c.order, name)
	return m, true
}

// RenameAttributeMatrix renames a matrix keeping its position.
func (c *DataContainer) RenameAttributeMatrix(oldName, newName string) error {
	m, ok := c.matrices[oldName]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "attribute matrix %q not found in data container %q", oldName, c.name)
	}
	if newName == "" {
		return errors.New(errors.ErrorTypeInvalidParameter, "new attribute matrix name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := c.matrices[newName]; exists {
		return errors.Newf(errors.ErrorTypeAlreadyExists, "attribute matrix %q already exists in data container %q", newName, c.name)
	}
	delete(c.matrices, oldName)
	m.name = newName
	c.matrices[newName] = m
	for i, n := range c.order {
		if n == oldName {
			c.order[i] = newName
		}
	}
	return nil
}

// Clone deep-copies the container.
func (c *DataContainer) Clone() *DataContainer {
	out := &DataContainer{
		name:     c.name,
		matrices: make(map[string]*AttributeMatrix, len(c.matrices)),
		order:    append([]string(nil), c.order...),
		guard:    c.guard,
	}
	if c.geometry != nil {
		g := *c.geometry
		out.geometry = &g
	}
	for n, m := range c.matrices {
		out.matrices[n] = m.Clone()
	}
	return out
}

func (c *DataContainer) setGuard(g AllocationGuard) {
	c.guard = g
	for _, m := range c.matrices {
		m.guard = g
	}
}

// DataContainerArray is the root of the data store a pipeline operates on.
type DataContainerArray struct {
	containers map[string]*DataContainer
	order      []string
	guard      AllocationGuard
}

// Option configures a DataContainerArray.
type Option func(*DataContainerArray)

// WithAllocationGuard makes every matrix of the store consult g before
// allocating.
func WithAllocationGuard(g AllocationGuard) Option {
	return func(a *DataContainerArray) { a.guard = g }
}

// NewDataContainerArray creates an empty store.
func NewDataContainerArray(opts ...Option) *DataContainerArray {
	a := &DataContainerArray{containers: make(map[string]*DataContainer)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetAllocationGuard replaces the guard on the store and everything in it.
func (a *DataContainerArray) SetAllocationGuard(g AllocationGuard) {
	a.guard = g
	for _, c := range a.containers {
		c.setGuard(g)
	}
}

// DataContainerNames returns container names in insertion order.
func (a *DataContainerArray) DataContainerNames() []string {
	return append([]string(nil), a.order...)
}

func (a *DataContainerArray) HasDataContainer(name string) bool {
	_, ok := a.containers[name]
	return ok
}

// DataContainer looks up a container by name.
func (a *DataContainerArray) DataContainer(name string) (*DataContainer, error) {
	c, ok := a.containers[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeMissingDataContainer,
			"data container %q does not exist", name)
	}
	return c, nil
}

// CreateDataContainer returns the existing container of that name, or
// creates it.
func (a *DataContainerArray) CreateDataContainer(name string) (*DataContainer, error) {
	if c, ok := a.containers[name]; ok {
		return c, nil
	}
	c, err := NewDataContainer(name)
	if err != nil {
		return nil, err
	}
	a.AddDataContainer(c)
	return c, nil
}

// AddDataContainer inserts c, replacing a container of the same name in place.
func (a *DataContainerArray) AddDataContainer(c *DataContainer) {
	if _, exists := a.containers[c.name]; !exists {
		a.order = append(a.order, c.name)
	}
	c.setGuard(a.guard)
	a.containers[c.name] = c
}

// RemoveDataContainer detaches and returns the named container.
func (a *DataContainerArray) RemoveDataContainer(name string) (*DataContainer, bool) {
	c, ok := a.containers[name]
	if !ok {
		return nil, false
	}
	delete(a.containers, name)
	a.order = removeName(a.order, name)
	return c, true
}

// RenameDataContainer renames a container keeping its position.
func (a *DataContainerArray) RenameDataContainer(oldName, newName string) error {
	c, ok := a.containers[oldName]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "data container %q not found", oldName)
	}
	if newName == "" {
		return errors.New(errors.ErrorTypeInvalidParameter, "new data container name is empty").
			WithCode(errors.CodeInvalidArrayName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := a.containers[newName]; exists {
		return errors.Newf(errors.ErrorTypeAlreadyExists, "data container %q already exists", newName)
	}
	delete(a.containers, oldName)
	c.name = newName
	a.containers[newName] = c
	for i, n := range a.order {
		if n == oldName {
			a.order[i] = newName
		}
	}
	return nil
}

// AttributeMatrix resolves the container and matrix named by path.
func (a *DataContainerArray) AttributeMatrix(path DataArrayPath) (*AttributeMatrix, error) {
	if err := path.ValidateMatrix(); err != nil {
		return nil, err
	}
	c, err := a.DataContainer(path.DataContainer)
	if err != nil {
		return nil, err
	}
	return c.AttributeMatrix(path.AttributeMatrix)
}

// DataArray resolves the array named by path.
func (a *DataContainerArray) DataArray(path DataArrayPath) (DataArray, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	m, err := a.AttributeMatrix(path)
	if err != nil {
		return nil, err
	}
	arr, ok := m.Array(path.DataArray)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeMissingPrerequisite, "array %q does not exist", path.String())
	}
	return arr, nil
}

// TotalBytes sums the footprint of every array in the store.
func (a *DataContainerArray) TotalBytes() int64 {
	var total int64
	for _, c := range a.containers {
		for _, m := range c.matrices {
			for _, arr := range m.arrays {
				total += arr.Bytes()
			}
		}
	}
	return total
}

// Clone deep-copies the whole store. Pipelines preflight against a clone so
// structural edits made during preflight never reach the real store.
func (a *DataContainerArray) Clone() *DataContainerArray {
	out := &DataContainerArray{
		containers: make(map[string]*DataContainer, len(a.containers)),
		order:      append([]string(nil), a.order...),
		guard:      a.guard,
	}
	for n, c := range a.containers {
		out.containers[n] = c.Clone()
	}
	return out
}

// GetPrereqArrayFromPath resolves path to *Array[T] with the codes used by
// path-addressed lookups: -80000 empty path, -80001 malformed path, -80002
// missing container or array, -80003 missing matrix, and -501/-502/-503 for
// mismatches.
func GetPrereqArrayFromPath[T Element](a *DataContainerArray, path DataArrayPath, comps int) (*Array[T], error) {
	if path.IsEmpty() {
		return nil, errors.New(errors.ErrorTypeInvalidPath, "path is empty").WithCode(errors.CodeEmptyPath)
	}
	if err := path.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidPath, "invalid array path").WithCode(errors.CodeInvalidPath)
	}
	c, err := a.DataContainer(path.DataContainer)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMissingDataContainer, "resolve "+path.String()).
			WithCode(errors.CodePathMissingArray)
	}
	m, err := c.AttributeMatrix(path.AttributeMatrix)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMissingAttributeMatrix, "resolve "+path.String()).
			WithCode(errors.CodePathMissingMatrix)
	}
	arr, err := GetPrereqArray[T](m, path.DataArray, comps)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeMissingPrerequisite) {
			return nil, errors.Wrap(err, errors.ErrorTypeMissingPrerequisite, "resolve "+path.String()).
				WithCode(errors.CodePathMissingArray)
		}
		return nil, err
	}
	return arr, nil
}

// CreateArrayFromPath creates (or replaces) the array named by path inside an
// existing matrix.
func CreateArrayFromPath[T Element](a *DataContainerArray, path DataArrayPath, comps int, fill T) (*Array[T], error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	m, err := a.AttributeMatrix(path)
	if err != nil {
		return nil, err
	}
	return CreateArray(m, path.DataArray, comps, fill)
}

func removeName(order []string, name string) []string {
	for i, n := range order {
		if n == name {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
