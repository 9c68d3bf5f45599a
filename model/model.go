package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-amp/tensor"
	"github.com/tsawler/go-amp/training"
)

// Config describes the shape of a policy-value network.
type Config struct {
	// InputSize is the length of the flattened board state vector.
	InputSize int

	// HiddenSize is the width of each hidden layer.
	HiddenSize int

	// PolicySize is the number of move classes in the policy head.
	PolicySize int

	// HiddenLayers is the number of fully connected hidden layers.
	HiddenLayers int

	// Seed drives the weight initialization.
	Seed int64
}

// DefaultConfig returns a small network suitable for board games with
// compact state encodings.
func DefaultConfig() Config {
	return Config{
		InputSize:    64,
		HiddenSize:   128,
		PolicySize:   64,
		HiddenLayers: 2,
		Seed:         1,
	}
}

func validateConfig(cfg Config) error {
	if cfg.InputSize <= 0 {
		return fmt.Errorf("input size must be positive: %d", cfg.InputSize)
	}
	if cfg.HiddenSize <= 0 {
		return fmt.Errorf("hidden size must be positive: %d", cfg.HiddenSize)
	}
	if cfg.PolicySize <= 0 {
		return fmt.Errorf("policy size must be positive: %d", cfg.PolicySize)
	}
	if cfg.HiddenLayers <= 0 {
		return fmt.Errorf("hidden layer count must be positive: %d", cfg.HiddenLayers)
	}
	return nil
}

// PolicyValueNet is a fully connected network with a tanh value head and a
// log-softmax policy head. It carries two aligned parameter stores: a
// full-precision master store that the optimizer updates, and a
// half-precision compute store used for the training forward and backward
// passes. The stores are paired by index, weight then bias per layer, hidden
// layers first, then the value head, then the policy head.
type PolicyValueNet struct {
	config  Config
	master  []*tensor.Tensor
	compute []*tensor.Tensor
}

// New builds a network with randomly initialized master weights and a
// compute store quantized from them.
func New(cfg Config) (*PolicyValueNet, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid model config: %v", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	net := &PolicyValueNet{config: cfg}

	in := cfg.InputSize
	for i := 0; i < cfg.HiddenLayers; i++ {
		if err := net.addLayer(in, cfg.HiddenSize, math.Sqrt(2.0/float64(in)), rng); err != nil {
			return nil, err
		}
		in = cfg.HiddenSize
	}
	if err := net.addLayer(in, 1, math.Sqrt(1.0/float64(in)), rng); err != nil {
		return nil, err
	}
	if err := net.addLayer(in, cfg.PolicySize, math.Sqrt(1.0/float64(in)), rng); err != nil {
		return nil, err
	}

	return net, nil
}

func (m *PolicyValueNet) addLayer(in, out int, std float64, rng *rand.Rand) error {
	weight, err := tensor.RandomNormal([]int{in, out}, 0, std, rng)
	if err != nil {
		return fmt.Errorf("failed to initialize weight: %v", err)
	}
	bias, err := tensor.Zeros([]int{out}, tensor.Float64)
	if err != nil {
		return fmt.Errorf("failed to initialize bias: %v", err)
	}

	for _, p := range []*tensor.Tensor{weight, bias} {
		p.SetRequiresGrad(true)
		m.master = append(m.master, p)

		c, err := tensor.Cast(p, tensor.Float16)
		if err != nil {
			return fmt.Errorf("failed to quantize parameter: %v", err)
		}
		c.SetRequiresGrad(true)
		m.compute = append(m.compute, c)
	}
	return nil
}

// MasterParameters returns the full-precision store in pairing order.
func (m *PolicyValueNet) MasterParameters() []*tensor.Tensor {
	return m.master
}

// ComputeParameters returns the half-precision store in pairing order.
func (m *PolicyValueNet) ComputeParameters() []*tensor.Tensor {
	return m.compute
}

// Config returns the network configuration.
func (m *PolicyValueNet) Config() Config {
	return m.config
}

// Loss builds the differentiable value and policy losses over the first
// batchSize examples of batch. The value loss is the mean squared error of
// the tanh value head against the game outcomes; the policy loss is the
// cross entropy of the log-softmax policy head against the target move
// distributions. Both losses are reduced at full precision on either store.
func (m *PolicyValueNet) Loss(useCompute bool, batchSize int, batch training.Batch) (*tensor.Tensor, *tensor.Tensor, error) {
	input, valueTarget, policyTarget, err := m.buildInputs(batchSize, batch)
	if err != nil {
		return nil, nil, err
	}

	value, logProbs := m.forward(useCompute, input)

	valueLoss, err := training.ValueLoss(value, valueTarget)
	if err != nil {
		return nil, nil, err
	}
	policyLoss, err := training.PolicyLoss(logProbs, policyTarget)
	if err != nil {
		return nil, nil, err
	}
	return valueLoss, policyLoss, nil
}

// Predict runs inference on the compute store for a single state, returning
// the value estimate and the policy distribution.
func (m *PolicyValueNet) Predict(state []float64) (float64, []float64, error) {
	if len(state) != m.config.InputSize {
		return 0, nil, fmt.Errorf("state size mismatch: got %d, want %d", len(state), m.config.InputSize)
	}
	input, err := tensor.NewTensor([]int{1, m.config.InputSize}, tensor.Float64, state)
	if err != nil {
		return 0, nil, err
	}

	value, logProbs := m.forward(true, input)

	v, err := value.Item()
	if err != nil {
		return 0, nil, err
	}
	probs := logProbs.Values()
	for i, lp := range probs {
		probs[i] = math.Exp(lp)
	}
	return v, probs, nil
}

func (m *PolicyValueNet) buildInputs(batchSize int, batch training.Batch) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	if batchSize <= 0 {
		return nil, nil, nil, fmt.Errorf("batch size must be positive: %d", batchSize)
	}
	if batch.Len() < batchSize {
		return nil, nil, nil, fmt.Errorf("batch has %d examples, need %d", batch.Len(), batchSize)
	}

	states := make([]float64, 0, batchSize*m.config.InputSize)
	values := make([]float64, 0, batchSize)
	policies := make([]float64, 0, batchSize*m.config.PolicySize)
	for i := 0; i < batchSize; i++ {
		s := batch.State(i)
		if len(s) != m.config.InputSize {
			return nil, nil, nil, fmt.Errorf("example %d state size mismatch: got %d, want %d", i, len(s), m.config.InputSize)
		}
		p := batch.Policy(i)
		if len(p) != m.config.PolicySize {
			return nil, nil, nil, fmt.Errorf("example %d policy size mismatch: got %d, want %d", i, len(p), m.config.PolicySize)
		}
		states = append(states, s...)
		values = append(values, batch.Value(i))
		policies = append(policies, p...)
	}

	input, err := tensor.NewTensor([]int{batchSize, m.config.InputSize}, tensor.Float64, states)
	if err != nil {
		return nil, nil, nil, err
	}
	valueTarget, err := tensor.NewTensor([]int{batchSize, 1}, tensor.Float64, values)
	if err != nil {
		return nil, nil, nil, err
	}
	policyTarget, err := tensor.NewTensor([]int{batchSize, m.config.PolicySize}, tensor.Float64, policies)
	if err != nil {
		return nil, nil, nil, err
	}
	return input, valueTarget, policyTarget, nil
}

// forward runs the network on the chosen store. On the compute store the
// trunk runs at half precision; the head outputs are widened back to full
// precision before the tanh and log-softmax so the loss reductions are
// always full precision.
func (m *PolicyValueNet) forward(useCompute bool, input *tensor.Tensor) (value, logProbs *tensor.Tensor) {
	params := m.master
	if useCompute {
		params = m.compute
	}

	x := input
	if useCompute {
		x = tensor.CastAutograd(x, tensor.Float16)
	}
	for i := 0; i < m.config.HiddenLayers; i++ {
		w, b := params[2*i], params[2*i+1]
		x = tensor.ReLUAutograd(tensor.AddAutograd(tensor.MatMulAutograd(x, w), b))
	}

	head := 2 * m.config.HiddenLayers
	v := tensor.AddAutograd(tensor.MatMulAutograd(x, params[head]), params[head+1])
	logits := tensor.AddAutograd(tensor.MatMulAutograd(x, params[head+2]), params[head+3])
	if useCompute {
		v = tensor.CastAutograd(v, tensor.Float64)
		logits = tensor.CastAutograd(logits, tensor.Float64)
	}

	return tensor.TanhAutograd(v), tensor.LogSoftmaxAutograd(logits)
}
