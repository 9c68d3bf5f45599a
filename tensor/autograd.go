package tensor

import (
	"fmt"
	"math"
)

// Backward runs backpropagation from a single-element tensor, accumulating
// gradients into the grad buffers of every reachable tensor that requires
// them. A grad buffer is allocated on first touch and reused in place
// afterwards; callers that want per-step gradients must zero buffers between
// steps.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a single-element tensor, got %d elements", t.NumElems)
	}

	order := topoOrder(t)

	seed, err := Ones(t.Shape, t.DType)
	if err != nil {
		return fmt.Errorf("failed to seed backward pass: %v", err)
	}
	if err := t.accumulateGrad(seed); err != nil {
		return err
	}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}

		grads := node.creator.Backward(node.grad)
		inputs := node.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}

		for j, input := range inputs {
			if grads[j] == nil {
				continue
			}
			if !input.requiresGrad && input.creator == nil {
				continue
			}
			if err := input.accumulateGrad(grads[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

// topoOrder returns tensors reachable through creators, inputs before
// outputs; the starting tensor is last.
func topoOrder(t *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if visited[node] {
			return
		}
		visited[node] = true
		if node.creator != nil {
			for _, input := range node.creator.Inputs() {
				visit(input)
			}
		}
		order = append(order, node)
	}

	visit(t)
	return order
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if g.DType != t.DType {
		return fmt.Errorf("gradient dtype %s does not match tensor dtype %s", g.DType, t.DType)
	}
	if !shapesEqual(g.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}

	if t.grad == nil {
		buf, err := Zeros(t.Shape, t.DType)
		if err != nil {
			return err
		}
		t.grad = buf
	}

	for i := 0; i < t.NumElems; i++ {
		t.grad.set(i, t.grad.at(i)+g.at(i))
	}
	return nil
}

// AddOp implements autograd for addition, including the bias broadcast.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	b := op.inputs[1]
	if shapesEqual(gradOut.Shape, b.Shape) {
		gradB, err := gradOut.Clone()
		if err != nil {
			panic(fmt.Sprintf("Backward pass failed: %v", err))
		}
		return []*Tensor{gradA, gradB}
	}

	// Bias broadcast: reduce over the batch dimension
	rows, cols := gradOut.Shape[0], gradOut.Shape[1]
	gradB, err := Zeros(b.Shape, b.DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	for c := 0; c < cols; c++ {
		sum := 0.0
		for r := 0; r < rows; r++ {
			sum += gradOut.at(r*cols + c)
		}
		gradB.set(c, sum)
	}

	return []*Tensor{gradA, gradB}
}

func (op *AddOp) Inputs() []*Tensor {
	return op.inputs
}

// SubOp implements autograd for subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradB, err := Scale(gradOut, -1.0)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *SubOp) Inputs() []*Tensor {
	return op.inputs
}

// MulOp implements autograd for elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := Mul(gradOut, op.inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradB, err := Mul(gradOut, op.inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *MulOp) Inputs() []*Tensor {
	return op.inputs
}

// ScaleOp implements autograd for multiplication by a constant scalar.
type ScaleOp struct {
	inputs []*Tensor
	scalar float64
}

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Scale(inputs[0], op.scalar)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Scale(gradOut, op.scalar)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *ScaleOp) Inputs() []*Tensor {
	return op.inputs
}

// MatMulOp implements autograd for 2D matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad || inputs[1].requiresGrad
	return result
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// dL/dA = gradOut @ B^T, dL/dB = A^T @ gradOut
	bT, err := Transpose(b)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	aT, err := Transpose(a)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *MatMulOp) Inputs() []*Tensor {
	return op.inputs
}

// ReLUOp implements autograd for ReLU.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := ReLU(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	grad, err := Zeros(x.Shape, x.DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	for i := 0; i < x.NumElems; i++ {
		if x.at(i) > 0 {
			grad.set(i, gradOut.at(i))
		}
	}

	return []*Tensor{grad}
}

func (op *ReLUOp) Inputs() []*Tensor {
	return op.inputs
}

// TanhOp implements autograd for tanh.
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("TanhOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Tanh(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	op.output = result
	return result
}

func (op *TanhOp) Backward(gradOut *Tensor) []*Tensor {
	y := op.output
	grad, err := Zeros(y.Shape, y.DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	// d tanh(x)/dx = 1 - tanh(x)^2
	for i := 0; i < y.NumElems; i++ {
		v := y.at(i)
		grad.set(i, gradOut.at(i)*(1.0-v*v))
	}

	return []*Tensor{grad}
}

func (op *TanhOp) Inputs() []*Tensor {
	return op.inputs
}

// LogSoftmaxOp implements autograd for row-wise log-softmax.
type LogSoftmaxOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *LogSoftmaxOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("LogSoftmaxOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := LogSoftmax(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	op.output = result
	return result
}

func (op *LogSoftmaxOp) Backward(gradOut *Tensor) []*Tensor {
	y := op.output
	grad, err := Zeros(y.Shape, y.DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	// dL/dx[i] = gradOut[i] - softmax(x)[i] * sum_j gradOut[j], per row
	rows, cols := y.Shape[0], y.Shape[1]
	for r := 0; r < rows; r++ {
		rowSum := 0.0
		for c := 0; c < cols; c++ {
			rowSum += gradOut.at(r*cols + c)
		}
		for c := 0; c < cols; c++ {
			i := r*cols + c
			softmax := math.Exp(y.at(i))
			grad.set(i, gradOut.at(i)-softmax*rowSum)
		}
	}

	return []*Tensor{grad}
}

func (op *LogSoftmaxOp) Inputs() []*Tensor {
	return op.inputs
}

// SumOp implements autograd for the full reduction to a scalar.
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := SumAll(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *SumOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	grad, err := Full(x.Shape, gradOut.at(0), x.DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *SumOp) Inputs() []*Tensor {
	return op.inputs
}

// MeanOp implements autograd for the full mean reduction.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := MeanAll(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	grad, err := Full(x.Shape, gradOut.at(0)/float64(x.NumElems), x.DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *MeanOp) Inputs() []*Tensor {
	return op.inputs
}

// CastOp implements autograd for dtype conversion. The backward pass casts
// the gradient back to the input dtype, so gradients crossing a
// full-to-half boundary are quantized exactly like forward activations.
type CastOp struct {
	inputs []*Tensor
	target DType
}

func (op *CastOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("CastOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Cast(inputs[0], op.target)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *CastOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Cast(gradOut, op.inputs[0].DType)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *CastOp) Inputs() []*Tensor {
	return op.inputs
}

// Autograd-tracking entry points.

func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

func ScaleAutograd(a *Tensor, scalar float64) *Tensor {
	op := &ScaleOp{scalar: scalar}
	return op.Forward(a)
}

func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

func TanhAutograd(a *Tensor) *Tensor {
	op := &TanhOp{}
	return op.Forward(a)
}

func LogSoftmaxAutograd(a *Tensor) *Tensor {
	op := &LogSoftmaxOp{}
	return op.Forward(a)
}

func SumAutograd(a *Tensor) *Tensor {
	op := &SumOp{}
	return op.Forward(a)
}

func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

func CastAutograd(a *Tensor, dtype DType) *Tensor {
	op := &CastOp{target: dtype}
	return op.Forward(a)
}
