package training

import (
	"fmt"
)

// LossScaler owns the dynamic loss scale used to keep half-precision
// gradients above the underflow threshold. The scale only ever moves by
// factors of two: halved on overflow, doubled after updateInterval
// consecutive overflow-free steps. There is no lower bound on the scale;
// sustained overflow drives it toward zero (see DESIGN.md).
type LossScaler struct {
	scale          float64
	successes      int
	updateInterval int
}

// NewLossScaler creates a scaler with the given initial scale and growth
// interval. The initial scale is an explicit configuration value, never a
// process-wide default.
func NewLossScaler(initialScale float64, updateInterval int) (*LossScaler, error) {
	if initialScale <= 0 {
		return nil, fmt.Errorf("initial loss scale must be positive: %f", initialScale)
	}
	if updateInterval <= 0 {
		return nil, fmt.Errorf("scale update interval must be positive: %d", updateInterval)
	}
	return &LossScaler{
		scale:          initialScale,
		updateInterval: updateInterval,
	}, nil
}

// Scale returns the current loss scale.
func (s *LossScaler) Scale() float64 {
	return s.scale
}

// Successes returns the number of consecutive overflow-free steps since the
// last scale change.
func (s *LossScaler) Successes() int {
	return s.successes
}

// OnOverflow halves the scale and resets the success counter.
func (s *LossScaler) OnOverflow() {
	s.scale *= 0.5
	s.successes = 0
}

// OnSuccess records an overflow-free committed step; after updateInterval
// consecutive successes the scale doubles and the counter resets.
func (s *LossScaler) OnSuccess() {
	s.successes++
	if s.successes >= s.updateInterval {
		s.scale *= 2
		s.successes = 0
	}
}
