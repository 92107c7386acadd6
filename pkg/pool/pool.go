// Package pool recycles scratch memory used while streaming array data.
//
//	buf := pool.Buffers.Get(64 << 10)
//	defer pool.Buffers.Put(buf)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed sync.Pool that counts its allocations.
type Pool[T any] struct {
	pool      sync.Pool
	reset     func(T)
	allocated atomic.Int64
	inUse     atomic.Int64
}

// New creates a pool. reset, when not nil, runs on every Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.allocated.Add(1)
		return newFn()
	}
	return p
}

func (p *Pool[T]) Get() T {
	p.inUse.Add(1)
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats returns the number of objects ever created and currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return p.allocated.Load(), p.inUse.Load()
}

// BufferPool hands out byte slices from power-of-four size classes.
// Requests above the largest class are allocated directly.
type BufferPool struct {
	sizes []int
	pools []*Pool[*[]byte]
}

// Buffers is the process-wide buffer pool.
var Buffers = NewBufferPool()

// NewBufferPool creates classes of 4KB, 16KB, 64KB, 256KB and 1MB.
func NewBufferPool() *BufferPool {
	sizes := []int{4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20}
	bp := &BufferPool{sizes: sizes, pools: make([]*Pool[*[]byte], len(sizes))}
	for i, size := range sizes {
		bp.pools[i] = New(func() *[]byte {
			b := make([]byte, size)
			return &b
		}, nil)
	}
	return bp
}

// Get returns a slice of length size. Its capacity may be larger.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			return (*p.pools[i].Get())[:size]
		}
	}
	return make([]byte, size)
}

// Put recycles buf when its capacity matches a size class.
func (p *BufferPool) Put(buf []byte) {
	for i, s := range p.sizes {
		if cap(buf) == s {
			buf = buf[:s]
			p.pools[i].Put(&buf)
			return
		}
	}
}

// MaxSize is the largest pooled request.
func (p *BufferPool) MaxSize() int { return p.sizes[len(p.sizes)-1] }
