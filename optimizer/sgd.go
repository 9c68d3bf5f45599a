package optimizer

import (
	"fmt"

	"github.com/tsawler/go-amp/tensor"
)

// SGDConfig holds configuration for the SGD optimizer
type SGDConfig struct {
	Momentum    float64
	Dampening   float64
	WeightDecay float64
	Nesterov    bool
}

// DefaultSGDConfig returns vanilla SGD without momentum
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		Momentum:    0.0,
		Dampening:   0.0,
		WeightDecay: 0.0,
		Nesterov:    false,
	}
}

func (c SGDConfig) validate(lr float64) error {
	if lr <= 0 {
		return fmt.Errorf("learning rate must be positive: %f", lr)
	}
	if c.Momentum < 0 || c.Momentum > 1.0 {
		return fmt.Errorf("momentum must be in [0, 1]: %f", c.Momentum)
	}
	if c.Dampening < 0 || c.Dampening > 1.0 {
		return fmt.Errorf("dampening must be in [0, 1]: %f", c.Dampening)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative: %f", c.WeightDecay)
	}
	if c.Nesterov && (c.Momentum == 0 || c.Dampening != 0) {
		return fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}
	return nil
}

// Build implements the Config interface.
func (c SGDConfig) Build(params []*tensor.Tensor, lr float64) (Optimizer, error) {
	return NewSGD(params, lr, c)
}

// SGD applies stochastic gradient descent with optional momentum to
// full-precision parameters.
type SGD struct {
	baseOptimizer
	config     SGDConfig
	velocities [][]float64
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(params []*tensor.Tensor, lr float64, config SGDConfig) (*SGD, error) {
	if err := config.validate(lr); err != nil {
		return nil, fmt.Errorf("invalid SGD configuration: %v", err)
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}

	sgd := &SGD{
		baseOptimizer: baseOptimizer{params: params, learningRate: lr},
		config:        config,
	}

	if config.Momentum > 0 {
		sgd.velocities = make([][]float64, len(params))
		for i, p := range params {
			sgd.velocities[i] = make([]float64, p.NumElems)
		}
	}

	return sgd, nil
}

// Step applies one SGD update in place.
func (sgd *SGD) Step() error {
	for i, p := range sgd.params {
		grad := gradData(p)
		if grad == nil {
			continue
		}

		weights, err := p.GetFloat64Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}

		if sgd.config.Momentum == 0 {
			for j := range weights {
				g := grad[j] + sgd.config.WeightDecay*weights[j]
				weights[j] -= sgd.learningRate * g
			}
			continue
		}

		v := sgd.velocities[i]
		for j := range weights {
			g := grad[j] + sgd.config.WeightDecay*weights[j]
			v[j] = sgd.config.Momentum*v[j] + (1-sgd.config.Dampening)*g
			if sgd.config.Nesterov {
				weights[j] -= sgd.learningRate * (g + sgd.config.Momentum*v[j])
			} else {
				weights[j] -= sgd.learningRate * v[j]
			}
		}
	}

	sgd.stepCount++
	return nil
}

// Velocity exposes the momentum buffer for a parameter index; nil when
// momentum is disabled.
func (sgd *SGD) Velocity(i int) []float64 {
	if sgd.velocities == nil || i < 0 || i >= len(sgd.velocities) {
		return nil
	}
	return sgd.velocities[i]
}
