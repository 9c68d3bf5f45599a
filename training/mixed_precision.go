package training

import (
	"fmt"

	"github.com/tsawler/go-amp/optimizer"
	"github.com/tsawler/go-amp/tensor"
)

// Model is the contract between the trainer and a dual-precision network.
// Loss builds the differentiable value and policy losses over the first
// batchSize examples of batch, on the compute store when useCompute is true
// and on the master store otherwise. Both losses come back as full-precision
// scalars. MasterParameters and ComputeParameters return the two stores in
// the same fixed order so the trainer can pair them by index.
type Model interface {
	Loss(useCompute bool, batchSize int, batch Batch) (valueLoss, policyLoss *tensor.Tensor, err error)
	MasterParameters() []*tensor.Tensor
	ComputeParameters() []*tensor.Tensor
}

// TrainerConfig holds the hyperparameters of a mixed-precision training run.
type TrainerConfig struct {
	LearningRate float64

	// GradientClipNorm caps the global L2 norm of the unscaled master
	// gradients before each update. Zero disables clipping.
	GradientClipNorm float64

	// GradientScaleUpdateInterval is the number of consecutive
	// overflow-free steps after which the loss scale doubles.
	GradientScaleUpdateInterval int

	// InitialLossScale is the starting loss scale. It must be positive
	// and is typically a large power of two.
	InitialLossScale float64
}

// DefaultTrainerConfig returns the standard training hyperparameters.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		LearningRate:                0.001,
		GradientClipNorm:            1.0,
		GradientScaleUpdateInterval: 2000,
		InitialLossScale:            65536,
	}
}

func validateTrainerConfig(cfg TrainerConfig) error {
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive: %f", cfg.LearningRate)
	}
	if cfg.GradientClipNorm < 0 {
		return fmt.Errorf("gradient clip norm must be non-negative: %f", cfg.GradientClipNorm)
	}
	if cfg.GradientScaleUpdateInterval <= 0 {
		return fmt.Errorf("gradient scale update interval must be positive: %d", cfg.GradientScaleUpdateInterval)
	}
	if cfg.InitialLossScale <= 0 {
		return fmt.Errorf("initial loss scale must be positive: %f", cfg.InitialLossScale)
	}
	return nil
}

// StepResult reports one training step. Losses are unscaled. Skipped is true
// when a gradient overflow forced the step to discard its update.
type StepResult struct {
	TotalLoss  float64
	ValueLoss  float64
	PolicyLoss float64
	Skipped    bool
}

// MixedPrecisionTrainer runs half-precision forward and backward passes
// against a full-precision master copy of the weights. Each step scales the
// loss before backward, inspects the half-precision gradients for overflow,
// and either commits an update on the master weights (then requantizes them
// into the compute store) or skips the update and shrinks the loss scale.
type MixedPrecisionTrainer struct {
	model  Model
	config TrainerConfig
	opt    optimizer.Optimizer
	scaler *LossScaler
	sync   *ParamSync

	coldStarted  bool
	totalSteps   uint64
	skippedSteps uint64
}

// NewMixedPrecisionTrainer wires a trainer around the model's parameter
// stores. The underlying optimizer is built from optCfg over the master
// parameters; it never sees the compute store.
func NewMixedPrecisionTrainer(model Model, cfg TrainerConfig, optCfg optimizer.Config) (*MixedPrecisionTrainer, error) {
	if err := validateTrainerConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid trainer config: %v", err)
	}

	sync, err := NewParamSync(model.MasterParameters(), model.ComputeParameters())
	if err != nil {
		return nil, fmt.Errorf("failed to pair parameter stores: %v", err)
	}

	scaler, err := NewLossScaler(cfg.InitialLossScale, cfg.GradientScaleUpdateInterval)
	if err != nil {
		return nil, err
	}

	opt, err := optCfg.Build(model.MasterParameters(), cfg.LearningRate)
	if err != nil {
		return nil, fmt.Errorf("failed to build optimizer: %v", err)
	}

	return &MixedPrecisionTrainer{
		model:  model,
		config: cfg,
		opt:    opt,
		scaler: scaler,
		sync:   sync,
	}, nil
}

// Step runs one training step over the first batchSize examples of batch and
// returns the unscaled losses. A batchSize of zero is a no-op reporting zero
// losses. When the half-precision gradients overflow, the update is skipped,
// the loss scale is halved, and the master weights are left untouched; the
// losses of the skipped step are still reported.
func (t *MixedPrecisionTrainer) Step(batchSize int, batch Batch) (StepResult, error) {
	if batchSize == 0 {
		return StepResult{}, nil
	}
	if batchSize < 0 {
		return StepResult{}, fmt.Errorf("batch size must be non-negative: %d", batchSize)
	}
	if batch == nil || batch.Len() < batchSize {
		return StepResult{}, fmt.Errorf("batch too small: need %d examples", batchSize)
	}

	// The master gradients only exist after a backward pass has run over
	// the master store. The first real step pays for one extra pass whose
	// gradients are discarded; afterwards every buffer is materialized and
	// the optimizer sees a fully defined store.
	if !t.coldStarted {
		if err := t.coldStart(batch); err != nil {
			return StepResult{}, fmt.Errorf("cold start failed: %v", err)
		}
		t.coldStarted = true
	}

	valueLoss, policyLoss, err := t.model.Loss(true, batchSize, batch)
	if err != nil {
		return StepResult{}, fmt.Errorf("forward pass failed: %v", err)
	}
	totalLoss := tensor.AddAutograd(valueLoss, policyLoss)

	result := StepResult{}
	if result.ValueLoss, err = valueLoss.Item(); err != nil {
		return StepResult{}, fmt.Errorf("value loss is not a scalar: %v", err)
	}
	if result.PolicyLoss, err = policyLoss.Item(); err != nil {
		return StepResult{}, fmt.Errorf("policy loss is not a scalar: %v", err)
	}
	result.TotalLoss = result.ValueLoss + result.PolicyLoss

	scaledLoss := tensor.ScaleAutograd(totalLoss, t.scaler.Scale())
	t.sync.ZeroComputeGrads()
	if err := scaledLoss.Backward(); err != nil {
		return StepResult{}, fmt.Errorf("backward pass failed: %v", err)
	}

	t.totalSteps++

	if t.sync.ScanForOverflow() {
		t.skippedSteps++
		t.scaler.OnOverflow()
		result.Skipped = true
		return result, nil
	}

	if err := t.sync.UpcastGradsIntoMaster(1 / t.scaler.Scale()); err != nil {
		return StepResult{}, fmt.Errorf("gradient upcast failed: %v", err)
	}
	if t.config.GradientClipNorm > 0 {
		if _, err := t.opt.ClipGradNorm(t.config.GradientClipNorm); err != nil {
			return StepResult{}, fmt.Errorf("gradient clipping failed: %v", err)
		}
	}
	if err := t.opt.Step(); err != nil {
		return StepResult{}, fmt.Errorf("optimizer step failed: %v", err)
	}
	t.scaler.OnSuccess()
	if err := t.sync.DowncastWeightsIntoCompute(); err != nil {
		return StepResult{}, fmt.Errorf("weight downcast failed: %v", err)
	}

	return result, nil
}

// coldStart runs one forward and backward pass over the master store, using a
// single example, so every master gradient buffer is materialized; the
// buffers are then zeroed. Nothing from this pass reaches the optimizer or
// the reported losses.
func (t *MixedPrecisionTrainer) coldStart(batch Batch) error {
	valueLoss, policyLoss, err := t.model.Loss(false, 1, batch)
	if err != nil {
		return err
	}
	totalLoss := tensor.AddAutograd(valueLoss, policyLoss)
	if err := totalLoss.Backward(); err != nil {
		return err
	}
	tensor.ZeroGrad(t.model.MasterParameters())
	return nil
}

// LossScale returns the current dynamic loss scale.
func (t *MixedPrecisionTrainer) LossScale() float64 {
	return t.scaler.Scale()
}

// Steps returns the number of training steps attempted, including skipped
// ones. The cold start pass is not counted.
func (t *MixedPrecisionTrainer) Steps() uint64 {
	return t.totalSteps
}

// SkippedSteps returns the number of steps discarded due to gradient
// overflow.
func (t *MixedPrecisionTrainer) SkippedSteps() uint64 {
	return t.skippedSteps
}

// UpdateLearningRate changes the learning rate of the underlying optimizer.
func (t *MixedPrecisionTrainer) UpdateLearningRate(lr float64) {
	t.opt.UpdateLearningRate(lr)
}
