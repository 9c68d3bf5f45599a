package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-amp/tensor"
)

// AdamConfig holds configuration for the Adam optimizer
type AdamConfig struct {
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
}

// DefaultAdamConfig returns the standard Adam hyperparameters
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: 0.0,
	}
}

func (c AdamConfig) validate(lr float64) error {
	if lr <= 0 {
		return fmt.Errorf("learning rate must be positive: %f", lr)
	}
	if c.Beta1 < 0 || c.Beta1 >= 1.0 {
		return fmt.Errorf("beta1 must be in [0, 1): %f", c.Beta1)
	}
	if c.Beta2 < 0 || c.Beta2 >= 1.0 {
		return fmt.Errorf("beta2 must be in [0, 1): %f", c.Beta2)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive: %e", c.Epsilon)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative: %f", c.WeightDecay)
	}
	return nil
}

// Build implements the Config interface.
func (c AdamConfig) Build(params []*tensor.Tensor, lr float64) (Optimizer, error) {
	return NewAdam(params, lr, c)
}

// Adam applies the Adam update rule with bias correction to full-precision
// parameters.
type Adam struct {
	baseOptimizer
	config   AdamConfig
	momentum [][]float64
	variance [][]float64
}

// NewAdam creates an Adam optimizer over the given parameters.
func NewAdam(params []*tensor.Tensor, lr float64, config AdamConfig) (*Adam, error) {
	if err := config.validate(lr); err != nil {
		return nil, fmt.Errorf("invalid Adam configuration: %v", err)
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}

	adam := &Adam{
		baseOptimizer: baseOptimizer{params: params, learningRate: lr},
		config:        config,
		momentum:      make([][]float64, len(params)),
		variance:      make([][]float64, len(params)),
	}
	for i, p := range params {
		adam.momentum[i] = make([]float64, p.NumElems)
		adam.variance[i] = make([]float64, p.NumElems)
	}

	return adam, nil
}

// Step applies one Adam update in place.
func (adam *Adam) Step() error {
	adam.stepCount++
	t := float64(adam.stepCount)

	// Bias corrections are shared across parameters for this step
	correction1 := 1 - math.Pow(adam.config.Beta1, t)
	correction2 := 1 - math.Pow(adam.config.Beta2, t)

	for i, p := range adam.params {
		grad := gradData(p)
		if grad == nil {
			continue
		}

		weights, err := p.GetFloat64Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}

		m := adam.momentum[i]
		v := adam.variance[i]
		for j := range weights {
			g := grad[j] + adam.config.WeightDecay*weights[j]

			m[j] = adam.config.Beta1*m[j] + (1-adam.config.Beta1)*g
			v[j] = adam.config.Beta2*v[j] + (1-adam.config.Beta2)*g*g

			mHat := m[j] / correction1
			vHat := v[j] / correction2

			weights[j] -= adam.learningRate * mHat / (math.Sqrt(vHat) + adam.config.Epsilon)
		}
	}

	return nil
}
