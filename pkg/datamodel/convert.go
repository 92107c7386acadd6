package datamodel

import (
	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// Float64Values copies the elements of arr, widened to float64, in storage
// order. Bulk filters that are generic over the element type use it instead
// of per-element Value calls.
func Float64Values(arr DataArray) []float64 {
	switch a := arr.(type) {
	case *Array[int8]:
		return widen(a.data)
	case *Array[uint8]:
		return widen(a.data)
	case *Array[int16]:
		return widen(a.data)
	case *Array[uint16]:
		return widen(a.data)
	case *Array[int32]:
		return widen(a.data)
	case *Array[uint32]:
		return widen(a.data)
	case *Array[int64]:
		return widen(a.data)
	case *Array[uint64]:
		return widen(a.data)
	case *Array[float32]:
		return widen(a.data)
	case *Array[float64]:
		return widen(a.data)
	case *Array[bool]:
		return widen(a.data)
	}
	return nil
}

// SetFloat64Values narrows vals into arr. len(vals) must equal arr.Len().
// Values are converted with Go conversion semantics; callers clamp first
// when out-of-range input is possible.
func SetFloat64Values(arr DataArray, vals []float64) error {
	if len(vals) != arr.Len() {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "array %q has %d elements, got %d values",
			arr.Name(), arr.Len(), len(vals)).WithCode(errors.CodeTupleCountMismatch)
	}
	switch a := arr.(type) {
	case *Array[int8]:
		narrow(a.data, vals)
	case *Array[uint8]:
		narrow(a.data, vals)
	case *Array[int16]:
		narrow(a.data, vals)
	case *Array[uint16]:
		narrow(a.data, vals)
	case *Array[int32]:
		narrow(a.data, vals)
	case *Array[uint32]:
		narrow(a.data, vals)
	case *Array[int64]:
		narrow(a.data, vals)
	case *Array[uint64]:
		narrow(a.data, vals)
	case *Array[float32]:
		narrow(a.data, vals)
	case *Array[float64]:
		copy(a.data, vals)
	case *Array[bool]:
		narrow(a.data, vals)
	default:
		return errors.Newf(errors.ErrorTypeTypeMismatch, "array %q has unsupported type %s", arr.Name(), arr.Type())
	}
	return nil
}

func widen[T Element](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = toFloat(v)
	}
	return out
}

func narrow[T Element](dst []T, vals []float64) {
	for i, v := range vals {
		dst[i] = fromFloat[T](v)
	}
}
