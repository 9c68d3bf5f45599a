package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MatMul computes the 2D matrix product t1 @ t2. The Float64 path delegates
// to gonum; the Float16 path accumulates in float64 and quantizes the result,
// matching hardware half-precision units with wide accumulators.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}

	m, k := t1.Shape[0], t1.Shape[1]
	k2, n := t2.Shape[0], t2.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("MatMul dimension mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	result, err := Zeros([]int{m, n}, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float64:
		a := mat.NewDense(m, k, t1.Data.([]float64))
		b := mat.NewDense(k, n, t2.Data.([]float64))
		c := mat.NewDense(m, n, result.Data.([]float64))
		c.Mul(a, b)
	case Float16:
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				sum := 0.0
				for p := 0; p < k; p++ {
					sum += t1.at(i*k+p) * t2.at(p*n+j)
				}
				result.set(i*n+j, sum)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	return result, nil
}

// Transpose returns the transpose of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	result, err := Zeros([]int{cols, rows}, t.DType)
	if err != nil {
		return nil, err
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			result.set(c*rows+r, t.at(r*cols+c))
		}
	}

	return result, nil
}
