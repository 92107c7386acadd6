package datamodel

import (
	"encoding/binary"
	"io"
	"reflect"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/pool"
)

// chunkBytes bounds the scratch buffer used to encode or decode one array.
const chunkBytes = 256 << 10

// WriteBinary writes the raw contents of arr to w in the given byte order.
// bool elements take one byte each.
func WriteBinary(w io.Writer, arr DataArray, order binary.ByteOrder) error {
	err := forEachChunk(arr, func(part any, buf []byte) error {
		out, err := binary.Append(buf[:0], order, part)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write array "+arr.Name())
	}
	return nil
}

// ReadBinary fills arr from r, reading exactly arr.Bytes() bytes.
func ReadBinary(r io.Reader, arr DataArray, order binary.ByteOrder) error {
	err := forEachChunk(arr, func(part any, buf []byte) error {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		_, err := binary.Decode(buf, order, part)
		return err
	})
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.Wrap(err, errors.ErrorTypeFile, "short read for array "+arr.Name()).
				WithCode(errors.CodeFileFailed)
		}
		return errors.Wrap(err, errors.ErrorTypeFile, "read array "+arr.Name())
	}
	return nil
}

// forEachChunk calls fn with consecutive sub-slices of arr's backing slice
// and a pooled buffer sized to hold exactly that sub-slice.
func forEachChunk(arr DataArray, fn func(part any, buf []byte) error) error {
	n := arr.Len()
	size := arr.Type().Size()
	if n == 0 || size == 0 {
		return nil
	}
	per := chunkBytes / size
	raw := reflect.ValueOf(arr.Raw())

	scratch := pool.Buffers.Get(min(n, per) * size)
	defer pool.Buffers.Put(scratch)

	for start := 0; start < n; start += per {
		end := min(start+per, n)
		if err := fn(raw.Slice(start, end).Interface(), scratch[:(end-start)*size]); err != nil {
			return err
		}
	}
	return nil
}
