package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	return nil
}

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return nil, fmt.Errorf("cannot operate on empty tensors")
	}

	if !shapesEqual(shape1, shape2) {
		return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
	}

	return shape1, nil
}

// at reads element i as float64 regardless of storage dtype.
func (t *Tensor) at(i int) float64 {
	switch t.DType {
	case Float64:
		return t.Data.([]float64)[i]
	case Float16:
		return Float16ToFloat64(t.Data.([]uint16)[i])
	default:
		panic(fmt.Sprintf("unsupported dtype: %s", t.DType))
	}
}

// set stores v at element i, quantizing when the tensor is Float16.
func (t *Tensor) set(i int, v float64) {
	switch t.DType {
	case Float64:
		t.Data.([]float64)[i] = v
	case Float16:
		t.Data.([]uint16)[i] = Float16FromFloat64(v)
	default:
		panic(fmt.Sprintf("unsupported dtype: %s", t.DType))
	}
}

// Add computes t1 + t2. A trailing-axis broadcast is supported for the bias
// case: t1 of shape [rows, cols] plus t2 of shape [cols].
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	if len(t1.Shape) == 2 && len(t2.Shape) == 1 && t1.Shape[1] == t2.Shape[0] {
		return addBias(t1, t2)
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float64:
		resultData := result.Data.([]float64)
		copy(resultData, t1.Data.([]float64))
		floats.Add(resultData, t2.Data.([]float64))
	case Float16:
		for i := 0; i < t1.NumElems; i++ {
			result.set(i, t1.at(i)+t2.at(i))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Add: %s", t1.DType)
	}

	return result, nil
}

func addBias(t1, t2 *Tensor) (*Tensor, error) {
	rows, cols := t1.Shape[0], t1.Shape[1]

	result, err := Zeros(t1.Shape, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float64:
		data := t1.Data.([]float64)
		bias := t2.Data.([]float64)
		resultData := result.Data.([]float64)
		for r := 0; r < rows; r++ {
			row := resultData[r*cols : (r+1)*cols]
			copy(row, data[r*cols:(r+1)*cols])
			floats.Add(row, bias)
		}
	case Float16:
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				i := r*cols + c
				result.set(i, t1.at(i)+t2.at(c))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Add: %s", t1.DType)
	}

	return result, nil
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float64:
		resultData := result.Data.([]float64)
		floats.SubTo(resultData, t1.Data.([]float64), t2.Data.([]float64))
	case Float16:
		for i := 0; i < t1.NumElems; i++ {
			result.set(i, t1.at(i)-t2.at(i))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Sub: %s", t1.DType)
	}

	return result, nil
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float64:
		resultData := result.Data.([]float64)
		floats.MulTo(resultData, t1.Data.([]float64), t2.Data.([]float64))
	case Float16:
		for i := 0; i < t1.NumElems; i++ {
			result.set(i, t1.at(i)*t2.at(i))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Mul: %s", t1.DType)
	}

	return result, nil
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, scalar float64) (*Tensor, error) {
	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float64:
		resultData := result.Data.([]float64)
		floats.ScaleTo(resultData, scalar, t.Data.([]float64))
	case Float16:
		for i := 0; i < t.NumElems; i++ {
			result.set(i, t.at(i)*scalar)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Scale: %s", t.DType)
	}

	return result, nil
}

func ReLU(t *Tensor) (*Tensor, error) {
	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	for i := 0; i < t.NumElems; i++ {
		if v := t.at(i); v > 0 {
			result.set(i, v)
		}
	}

	return result, nil
}

func Tanh(t *Tensor) (*Tensor, error) {
	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	for i := 0; i < t.NumElems; i++ {
		result.set(i, math.Tanh(t.at(i)))
	}

	return result, nil
}

// LogSoftmax computes log(softmax(x)) independently over each row of a 2D
// tensor, using the max-shift for numerical stability.
func LogSoftmax(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("LogSoftmax requires a 2D tensor, got shape %v", t.Shape)
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	rows, cols := t.Shape[0], t.Shape[1]
	for r := 0; r < rows; r++ {
		maxVal := math.Inf(-1)
		for c := 0; c < cols; c++ {
			if v := t.at(r*cols + c); v > maxVal {
				maxVal = v
			}
		}

		sumExp := 0.0
		for c := 0; c < cols; c++ {
			sumExp += math.Exp(t.at(r*cols+c) - maxVal)
		}
		logSum := math.Log(sumExp)

		for c := 0; c < cols; c++ {
			i := r*cols + c
			result.set(i, t.at(i)-maxVal-logSum)
		}
	}

	return result, nil
}

// SumAll reduces a tensor to a single-element tensor of the same dtype.
func SumAll(t *Tensor) (*Tensor, error) {
	var sum float64
	switch t.DType {
	case Float64:
		sum = floats.Sum(t.Data.([]float64))
	case Float16:
		for i := 0; i < t.NumElems; i++ {
			sum += t.at(i)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for SumAll: %s", t.DType)
	}

	return NewTensor([]int{1}, t.DType, []float64{sum})
}

// MeanAll reduces a tensor to the mean of its elements.
func MeanAll(t *Tensor) (*Tensor, error) {
	sum, err := SumAll(t)
	if err != nil {
		return nil, err
	}
	return Scale(sum, 1.0/float64(t.NumElems))
}

// Cast converts a tensor to the given dtype. Casting to Float16 quantizes
// (overflow saturates to ±Inf, subnormals flush to zero); casting to Float64
// is exact. Casting to the same dtype copies.
func Cast(t *Tensor, dtype DType) (*Tensor, error) {
	result, err := Zeros(t.Shape, dtype)
	if err != nil {
		return nil, err
	}

	for i := 0; i < t.NumElems; i++ {
		result.set(i, t.at(i))
	}

	return result, nil
}
