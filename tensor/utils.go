package tensor

import (
	"fmt"
	"math"
)

// Clone copies shape and data. The autograd graph and gradient buffer are
// not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float64:
		data := make([]float64, t.NumElems)
		copy(data, t.Data.([]float64))
		clone.Data = data
	case Float16:
		data := make([]uint16, t.NumElems)
		copy(data, t.Data.([]uint16))
		clone.Data = data
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// GetFloat64Data returns the raw storage of a Float64 tensor.
func (t *Tensor) GetFloat64Data() ([]float64, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("tensor is not Float64: %s", t.DType)
	}
	return t.Data.([]float64), nil
}

// GetFloat16Bits returns the raw binary16 storage of a Float16 tensor.
func (t *Tensor) GetFloat16Bits() ([]uint16, error) {
	if t.DType != Float16 {
		return nil, fmt.Errorf("tensor is not Float16: %s", t.DType)
	}
	return t.Data.([]uint16), nil
}

// Values widens the tensor's elements to float64, whatever the storage dtype.
func (t *Tensor) Values() []float64 {
	out := make([]float64, t.NumElems)
	for i := range out {
		out[i] = t.at(i)
	}
	return out
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got %d elements", t.NumElems)
	}
	return t.at(0), nil
}

// At reads the element at the given indices as float64.
func (t *Tensor) At(indices ...int) (float64, error) {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return 0, err
	}
	return t.at(idx), nil
}

// SetAt writes the element at the given indices.
func (t *Tensor) SetAt(value float64, indices ...int) error {
	idx, err := t.flatIndex(indices)
	if err != nil {
		return err
	}
	t.set(idx, value)
	return nil
}

func (t *Tensor) flatIndex(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	idx := 0
	for i, index := range indices {
		if index < 0 || index >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", index, i, t.Shape[i])
		}
		idx += index * t.Strides[i]
	}
	return idx, nil
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

// Equal reports whether two tensors have identical dtype, shape, and
// bit-identical storage.
func (t *Tensor) Equal(other *Tensor) (bool, error) {
	if t.DType != other.DType {
		return false, nil
	}
	if !shapesEqual(t.Shape, other.Shape) {
		return false, nil
	}

	switch t.DType {
	case Float64:
		a := t.Data.([]float64)
		b := other.Data.([]float64)
		for i := range a {
			if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
				return false, nil
			}
		}
	case Float16:
		a := t.Data.([]uint16)
		b := other.Data.([]uint16)
		for i := range a {
			if a[i] != b[i] {
				return false, nil
			}
		}
	default:
		return false, fmt.Errorf("unsupported dtype for Equal: %s", t.DType)
	}

	return true, nil
}

// HasOverflow reports whether the tensor contains a NaN or infinite element,
// returning on the first one found.
func (t *Tensor) HasOverflow() bool {
	switch t.DType {
	case Float16:
		data := t.Data.([]uint16)
		for _, h := range data {
			if float16IsNaN(h) || float16IsInf(h) {
				return true
			}
		}
	default:
		for i := 0; i < t.NumElems; i++ {
			v := t.at(i)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// ZeroGrad clears materialized gradient buffers in place. Buffers that have
// not been materialized yet are left alone.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if !t.requiresGrad || t.grad == nil {
			continue
		}
		switch t.grad.DType {
		case Float64:
			data := t.grad.Data.([]float64)
			for i := range data {
				data[i] = 0
			}
		case Float16:
			data := t.grad.Data.([]uint16)
			for i := range data {
				data[i] = 0
			}
		}
	}
}
