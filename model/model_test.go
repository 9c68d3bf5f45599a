package model

import (
	"math"
	"testing"

	"github.com/tsawler/go-amp/tensor"
	"github.com/tsawler/go-amp/training"
)

func testConfig() Config {
	return Config{
		InputSize:    4,
		HiddenSize:   8,
		PolicySize:   4,
		HiddenLayers: 2,
		Seed:         1,
	}
}

func testBatch(n int, cfg Config) training.SliceBatch {
	batch := make(training.SliceBatch, n)
	for i := range batch {
		state := make([]float64, cfg.InputSize)
		for j := range state {
			state[j] = 0.1 * float64(i+1)
		}
		policy := make([]float64, cfg.PolicySize)
		policy[i%cfg.PolicySize] = 1
		batch[i] = training.Example{State: state, Value: 0.5, Policy: policy}
	}
	return batch
}

func TestNewValidatesConfig(t *testing.T) {
	bad := []Config{
		{InputSize: 0, HiddenSize: 8, PolicySize: 4, HiddenLayers: 1},
		{InputSize: 4, HiddenSize: 0, PolicySize: 4, HiddenLayers: 1},
		{InputSize: 4, HiddenSize: 8, PolicySize: 0, HiddenLayers: 1},
		{InputSize: 4, HiddenSize: 8, PolicySize: 4, HiddenLayers: 0},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("config %d: expected validation error", i)
		}
	}

	if _, err := New(DefaultConfig()); err != nil {
		t.Errorf("unexpected error for default config: %v", err)
	}
}

func TestParameterStoresArePaired(t *testing.T) {
	cfg := testConfig()
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	master := net.MasterParameters()
	compute := net.ComputeParameters()

	// Weight and bias per layer: hidden layers plus the two heads.
	wantParams := (cfg.HiddenLayers + 2) * 2
	if len(master) != wantParams {
		t.Fatalf("expected %d master parameters, got %d", wantParams, len(master))
	}
	if len(compute) != wantParams {
		t.Fatalf("expected %d compute parameters, got %d", wantParams, len(compute))
	}

	for i := range master {
		if master[i].DType != tensor.Float64 {
			t.Errorf("master parameter %d has dtype %s", i, master[i].DType)
		}
		if compute[i].DType != tensor.Float16 {
			t.Errorf("compute parameter %d has dtype %s", i, compute[i].DType)
		}
		if master[i].Numel() != compute[i].Numel() {
			t.Errorf("parameter %d size mismatch: %d vs %d", i, master[i].Numel(), compute[i].Numel())
		}
		if !master[i].RequiresGrad() || !compute[i].RequiresGrad() {
			t.Errorf("parameter %d does not require gradients", i)
		}
	}
}

func TestComputeStoreQuantizedFromMaster(t *testing.T) {
	net, err := New(testConfig())
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	master := net.MasterParameters()
	compute := net.ComputeParameters()
	for i := range master {
		data, err := master[i].GetFloat64Data()
		if err != nil {
			t.Fatalf("parameter %d: %v", i, err)
		}
		bits, err := compute[i].GetFloat16Bits()
		if err != nil {
			t.Fatalf("parameter %d: %v", i, err)
		}
		for j, v := range data {
			if want := tensor.Float16FromFloat64(v); bits[j] != want {
				t.Errorf("parameter %d element %d: expected bits %#04x, got %#04x", i, j, want, bits[j])
			}
		}
	}
}

func TestLossOnBothStores(t *testing.T) {
	cfg := testConfig()
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}
	batch := testBatch(4, cfg)

	for _, useCompute := range []bool{false, true} {
		valueLoss, policyLoss, err := net.Loss(useCompute, 4, batch)
		if err != nil {
			t.Fatalf("loss failed (useCompute=%v): %v", useCompute, err)
		}
		v, err := valueLoss.Item()
		if err != nil {
			t.Fatalf("value loss is not a scalar: %v", err)
		}
		p, err := policyLoss.Item()
		if err != nil {
			t.Fatalf("policy loss is not a scalar: %v", err)
		}
		if math.IsNaN(v) || v < 0 {
			t.Errorf("value loss out of range (useCompute=%v): %f", useCompute, v)
		}
		if math.IsNaN(p) || p < 0 {
			t.Errorf("policy loss out of range (useCompute=%v): %f", useCompute, p)
		}
		if valueLoss.DType != tensor.Float64 || policyLoss.DType != tensor.Float64 {
			t.Errorf("losses must be full precision (useCompute=%v)", useCompute)
		}
	}
}

func TestLossValidatesBatch(t *testing.T) {
	cfg := testConfig()
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	if _, _, err := net.Loss(true, 0, testBatch(4, cfg)); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, _, err := net.Loss(true, 8, testBatch(4, cfg)); err == nil {
		t.Error("expected error for batch size beyond batch length")
	}

	short := training.SliceBatch{{State: []float64{1}, Value: 0, Policy: make([]float64, cfg.PolicySize)}}
	if _, _, err := net.Loss(true, 1, short); err == nil {
		t.Error("expected error for wrong state size")
	}
}

func TestLossGradientsReachComputeStore(t *testing.T) {
	cfg := testConfig()
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	valueLoss, policyLoss, err := net.Loss(true, 4, testBatch(4, cfg))
	if err != nil {
		t.Fatalf("loss failed: %v", err)
	}
	total := tensor.AddAutograd(valueLoss, policyLoss)
	if err := total.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	for i, p := range net.ComputeParameters() {
		if p.Grad() == nil {
			t.Errorf("compute parameter %d has no gradient", i)
			continue
		}
		if p.Grad().DType != tensor.Float16 {
			t.Errorf("compute parameter %d gradient has dtype %s", i, p.Grad().DType)
		}
	}
	for i, p := range net.MasterParameters() {
		if p.Grad() != nil {
			t.Errorf("master parameter %d received a gradient from the compute pass", i)
		}
	}
}

func TestPredict(t *testing.T) {
	cfg := testConfig()
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	state := make([]float64, cfg.InputSize)
	for i := range state {
		state[i] = 0.5
	}
	value, policy, err := net.Predict(state)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if value < -1 || value > 1 {
		t.Errorf("value %f outside tanh range", value)
	}
	if len(policy) != cfg.PolicySize {
		t.Fatalf("expected %d policy entries, got %d", cfg.PolicySize, len(policy))
	}
	sum := 0.0
	for _, p := range policy {
		if p < 0 {
			t.Errorf("negative probability %f", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-3 {
		t.Errorf("policy distribution sums to %f", sum)
	}

	if _, _, err := net.Predict([]float64{1}); err == nil {
		t.Error("expected error for wrong state size")
	}
}
