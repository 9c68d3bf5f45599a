package tensor

import (
	"fmt"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	strides := calculateStrides(shape)

	tensor := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  strides,
		DType:    dtype,
		NumElems: numElems,
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float64:
		switch d := data.(type) {
		case []float64:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float64:
			slice := make([]float64, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float64 tensor: %T", data)
		}
	case Float16:
		switch d := data.(type) {
		case []uint16:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case []float64:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			slice := make([]uint16, t.NumElems)
			for i, v := range d {
				slice[i] = Float16FromFloat64(v)
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float16 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float64:
		data = make([]float64, numElems)
	case Float16:
		data = make([]uint16, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float64:
		slice := make([]float64, numElems)
		for i := range slice {
			slice[i] = 1.0
		}
		data = slice
	case Float16:
		one := Float16FromFloat64(1.0)
		slice := make([]uint16, numElems)
		for i := range slice {
			slice[i] = one
		}
		data = slice
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

// RandomNormal draws from N(mean, std²). Only Float64 is supported; compute
// precision copies are produced by casting a full-precision tensor down.
func RandomNormal(shape []int, mean, std float64, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	slice := make([]float64, numElems)
	for i := range slice {
		slice[i] = rng.NormFloat64()*std + mean
	}

	return NewTensor(shape, Float64, slice)
}

func Full(shape []int, value float64, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float64:
		slice := make([]float64, numElems)
		for i := range slice {
			slice[i] = value
		}
		data = slice
	case Float16:
		bits := Float16FromFloat64(value)
		slice := make([]uint16, numElems)
		for i := range slice {
			slice[i] = bits
		}
		data = slice
	default:
		return nil, fmt.Errorf("unsupported dtype for Full: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

// FromScalar creates a single-element tensor from a float64 value.
func FromScalar(value float64, dtype DType) *Tensor {
	t, err := Full([]int{1}, value, dtype)
	if err != nil {
		panic(fmt.Sprintf("FromScalar failed: %v", err))
	}
	return t
}
