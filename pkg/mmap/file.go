// Package mmap gives read-only, memory-mapped access to large input files.
// Platforms without mmap fall back to reading the file into memory.
package mmap

import (
	"io"
	"os"
	"sync"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// File is a read-only view of a whole file.
type File struct {
	data   []byte
	mapped bool

	mu     sync.Mutex
	closed bool
}

// Open maps path into memory. An empty file yields an empty view.
func Open(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is a filter parameter
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open file").WithDetail("path", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat file").WithDetail("path", path)
	}
	size := fi.Size()
	if size == 0 {
		return &File{}, nil
	}
	if int64(int(size)) != size {
		return nil, errors.Newf(errors.ErrorTypeFile, "file %s is too large to map", path)
	}

	data, err := mmap(int(f.Fd()), int(size))
	if err != nil {
		// Read it instead.
		buf := make([]byte, size)
		if _, rerr := io.ReadFull(f, buf); rerr != nil {
			return nil, errors.Wrap(rerr, errors.ErrorTypeFile, "failed to read file").WithDetail("path", path)
		}
		return &File{data: buf}, nil
	}
	_ = adviseSequential(data)
	return &File{data: data, mapped: true}, nil
}

// Len is the file size in bytes.
func (m *File) Len() int64 { return int64(len(m.data)) }

// Mapped reports whether the view is backed by a mapping rather than a copy.
func (m *File) Mapped() bool { return m.mapped }

// Range returns length bytes starting at offset. The slice aliases the
// mapping and must not be used after Close.
func (m *File) Range(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(m.data)) {
		return nil, errors.Newf(errors.ErrorTypeIndex,
			"range [%d, %d) is outside the file of %d bytes", offset, offset+length, len(m.data)).
			WithDetail("offset", offset)
	}
	return m.data[offset : offset+length], nil
}

// Close releases the mapping. Closing twice is a no-op.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	data := m.data
	m.data = nil
	if m.mapped && len(data) > 0 {
		return munmap(data)
	}
	return nil
}
