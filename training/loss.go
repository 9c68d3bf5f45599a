package training

import (
	"fmt"

	"github.com/tsawler/go-amp/tensor"
)

// ValueLoss computes the mean squared error between predicted and target
// values, as a differentiable scalar.
func ValueLoss(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if predicted.Numel() != target.Numel() {
		return nil, fmt.Errorf("value loss size mismatch: %d predictions vs %d targets", predicted.Numel(), target.Numel())
	}
	diff := tensor.SubAutograd(predicted, target)
	return tensor.MeanAutograd(tensor.MulAutograd(diff, diff)), nil
}

// PolicyLoss computes the cross entropy between target policy distributions
// and predicted log probabilities, averaged over the batch. logProbs and
// target must both be [batch, classes]; each target row is a probability
// distribution.
func PolicyLoss(logProbs, target *tensor.Tensor) (*tensor.Tensor, error) {
	if logProbs.Dim() != 2 {
		return nil, fmt.Errorf("policy loss requires 2D log probabilities, got %dD", logProbs.Dim())
	}
	if target.Dim() != 2 {
		return nil, fmt.Errorf("policy loss requires 2D targets, got %dD", target.Dim())
	}
	if logProbs.Shape[0] != target.Shape[0] || logProbs.Shape[1] != target.Shape[1] {
		return nil, fmt.Errorf("policy loss shape mismatch: %v vs %v", logProbs.Shape, target.Shape)
	}
	batch := logProbs.Shape[0]
	crossEntropy := tensor.SumAutograd(tensor.MulAutograd(logProbs, target))
	return tensor.ScaleAutograd(crossEntropy, -1.0/float64(batch)), nil
}
