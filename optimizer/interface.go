package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-amp/tensor"
)

// Optimizer is the common interface for update rules applied to
// full-precision master parameters. Implementations read the gradient
// buffers materialized on the parameters and mutate the parameter storage in
// place. Parameters without a materialized gradient are skipped.
type Optimizer interface {
	// Step applies one update using the current gradients
	Step() error

	// ZeroGrad clears materialized gradient buffers in place
	ZeroGrad()

	// ClipGradNorm scales all gradients in place so their global L2 norm
	// does not exceed maxNorm; returns the norm before clipping
	ClipGradNorm(maxNorm float64) (float64, error)

	// GetStepCount returns the number of committed update steps
	GetStepCount() uint64

	// UpdateLearningRate changes the learning rate for subsequent steps
	UpdateLearningRate(lr float64)
}

// Config builds an optimizer over a parameter list. The learning rate is
// supplied by the caller at build time so rule-specific configs stay
// reusable. A failed Build is the construction-time hard failure; no steps
// can run afterward.
type Config interface {
	Build(params []*tensor.Tensor, lr float64) (Optimizer, error)
}

type baseOptimizer struct {
	params       []*tensor.Tensor
	learningRate float64
	stepCount    uint64
}

func validateParams(params []*tensor.Tensor) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters provided")
	}
	for i, p := range params {
		if p == nil {
			return fmt.Errorf("parameter %d is nil", i)
		}
		if p.DType != tensor.Float64 {
			return fmt.Errorf("parameter %d must be Float64, got %s", i, p.DType)
		}
		if !p.RequiresGrad() {
			return fmt.Errorf("parameter %d does not require gradients", i)
		}
	}
	return nil
}

func (b *baseOptimizer) ZeroGrad() {
	tensor.ZeroGrad(b.params)
}

func (b *baseOptimizer) GetStepCount() uint64 {
	return b.stepCount
}

func (b *baseOptimizer) UpdateLearningRate(lr float64) {
	b.learningRate = lr
}

// ClipGradNorm computes the global L2 norm across every materialized
// gradient and, when it exceeds maxNorm, rescales them all in place by
// maxNorm / (norm + 1e-6).
func (b *baseOptimizer) ClipGradNorm(maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("max norm must be positive: %f", maxNorm)
	}

	totalSq := 0.0
	for _, p := range b.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		data, err := grad.GetFloat64Data()
		if err != nil {
			return 0, fmt.Errorf("gradient for %s: %v", p, err)
		}
		totalSq += floats.Dot(data, data)
	}

	totalNorm := math.Sqrt(totalSq)
	if totalNorm > maxNorm {
		scale := maxNorm / (totalNorm + 1e-6)
		for _, p := range b.params {
			grad := p.Grad()
			if grad == nil {
				continue
			}
			data, _ := grad.GetFloat64Data()
			floats.Scale(scale, data)
		}
	}

	return totalNorm, nil
}

// gradData returns the gradient storage for a parameter, or nil when no
// gradient has been materialized.
func gradData(p *tensor.Tensor) []float64 {
	grad := p.Grad()
	if grad == nil {
		return nil
	}
	data, err := grad.GetFloat64Data()
	if err != nil {
		return nil
	}
	return data
}
