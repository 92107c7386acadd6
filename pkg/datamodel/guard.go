package datamodel

// AllocationGuard is consulted before arrays are allocated or grown through
// an attribute matrix. Reserve returns an allocation error to refuse.
type AllocationGuard interface {
	Reserve(bytes int64) error
}

// AllocationGuardFunc adapts a function to AllocationGuard.
type AllocationGuardFunc func(bytes int64) error

func (f AllocationGuardFunc) Reserve(bytes int64) error { return f(bytes) }
