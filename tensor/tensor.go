package tensor

import (
	"fmt"
)

type DType int

const (
	Float64 DType = iota
	Float16
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "Float64"
	case Float16:
		return "Float16"
	default:
		return "Unknown"
	}
}

// Operation is implemented by every differentiable op. Forward computes the
// output tensor and records the op as its creator; Backward maps the output
// gradient to one gradient per input, in input order.
type Operation interface {
	Forward(...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

// Tensor is a dense CPU tensor. Float64 tensors store []float64, Float16
// tensors store []uint16 holding IEEE 754 binary16 bits.
type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)",
		t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the gradient buffer, or nil if no backward pass has
// materialized one yet. The same buffer is reused across backward passes.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad installs grad as the tensor's gradient buffer, replacing any
// existing one.
func (t *Tensor) SetGrad(grad *Tensor) {
	t.grad = grad
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
