package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-amp/tensor"
)

func newParamPair(t *testing.T, values []float64) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	shape := []int{len(values)}
	master, err := tensor.NewTensor(shape, tensor.Float64, values)
	if err != nil {
		t.Fatalf("failed to create master param: %v", err)
	}
	master.SetRequiresGrad(true)
	compute, err := tensor.Cast(master, tensor.Float16)
	if err != nil {
		t.Fatalf("failed to create compute param: %v", err)
	}
	compute.SetRequiresGrad(true)
	return master, compute
}

func setComputeGrad(t *testing.T, p *tensor.Tensor, values []float64) {
	t.Helper()
	g, err := tensor.NewTensor(p.Shape, tensor.Float16, values)
	if err != nil {
		t.Fatalf("failed to create gradient: %v", err)
	}
	p.SetGrad(g)
}

func TestNewParamSyncValidation(t *testing.T) {
	m1, c1 := newParamPair(t, []float64{1, 2})

	if _, err := NewParamSync(nil, nil); err == nil {
		t.Error("expected error for empty master store")
	}
	if _, err := NewParamSync([]*tensor.Tensor{m1}, nil); err == nil {
		t.Error("expected error for store length mismatch")
	}
	if _, err := NewParamSync([]*tensor.Tensor{c1}, []*tensor.Tensor{c1}); err == nil {
		t.Error("expected error for half-precision master")
	}
	if _, err := NewParamSync([]*tensor.Tensor{m1}, []*tensor.Tensor{m1}); err == nil {
		t.Error("expected error for full-precision compute")
	}

	m2, _ := newParamPair(t, []float64{1, 2, 3})
	_, c2 := newParamPair(t, []float64{1})
	if _, err := NewParamSync([]*tensor.Tensor{m2}, []*tensor.Tensor{c2}); err == nil {
		t.Error("expected error for shape mismatch")
	}

	if _, err := NewParamSync([]*tensor.Tensor{m1}, []*tensor.Tensor{c1}); err != nil {
		t.Errorf("unexpected error for valid pairing: %v", err)
	}
}

func TestUpcastGradsUnscalesAndOverwrites(t *testing.T) {
	m, c := newParamPair(t, []float64{1, 2, 3})
	ps, err := NewParamSync([]*tensor.Tensor{m}, []*tensor.Tensor{c})
	if err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}

	setComputeGrad(t, c, []float64{8, 16, 32})
	if err := ps.UpcastGradsIntoMaster(0.25); err != nil {
		t.Fatalf("upcast failed: %v", err)
	}

	grad := m.Grad()
	if grad == nil {
		t.Fatal("expected master gradient to be materialized")
	}
	data, err := grad.GetFloat64Data()
	if err != nil {
		t.Fatalf("failed to read master gradient: %v", err)
	}
	want := []float64{2, 4, 8}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("gradient %d: expected %f, got %f", i, want[i], data[i])
		}
	}

	// A second upcast replaces the previous values instead of adding to them.
	setComputeGrad(t, c, []float64{4, 4, 4})
	if err := ps.UpcastGradsIntoMaster(0.5); err != nil {
		t.Fatalf("second upcast failed: %v", err)
	}
	data, _ = m.Grad().GetFloat64Data()
	for i := range data {
		if data[i] != 2 {
			t.Errorf("gradient %d: expected 2 after overwrite, got %f", i, data[i])
		}
	}
}

func TestUpcastSkipsMissingComputeGrads(t *testing.T) {
	m1, c1 := newParamPair(t, []float64{1})
	m2, c2 := newParamPair(t, []float64{2})
	ps, err := NewParamSync([]*tensor.Tensor{m1, m2}, []*tensor.Tensor{c1, c2})
	if err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}

	setComputeGrad(t, c1, []float64{6})
	if err := ps.UpcastGradsIntoMaster(0.5); err != nil {
		t.Fatalf("upcast failed: %v", err)
	}

	if m1.Grad() == nil {
		t.Error("expected gradient for param with compute grad")
	}
	if m2.Grad() != nil {
		t.Error("expected no gradient for param without compute grad")
	}
}

func TestDowncastRequantizesWeights(t *testing.T) {
	m, c := newParamPair(t, []float64{0, 0, 0})
	ps, err := NewParamSync([]*tensor.Tensor{m}, []*tensor.Tensor{c})
	if err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}

	data, _ := m.GetFloat64Data()
	data[0] = 1.5
	data[1] = -0.25
	data[2] = 1e-30 // flushes to zero at half precision

	if err := ps.DowncastWeightsIntoCompute(); err != nil {
		t.Fatalf("downcast failed: %v", err)
	}

	bits, err := c.GetFloat16Bits()
	if err != nil {
		t.Fatalf("failed to read compute bits: %v", err)
	}
	for i, v := range data {
		want := tensor.Float16FromFloat64(v)
		if bits[i] != want {
			t.Errorf("element %d: expected bits %#04x, got %#04x", i, want, bits[i])
		}
	}
	if tensor.Float16ToFloat64(bits[2]) != 0 {
		t.Errorf("expected subnormal weight to flush to zero, got %f", tensor.Float16ToFloat64(bits[2]))
	}
}

func TestScanForOverflow(t *testing.T) {
	m1, c1 := newParamPair(t, []float64{1, 2})
	m2, c2 := newParamPair(t, []float64{3})
	ps, err := NewParamSync([]*tensor.Tensor{m1, m2}, []*tensor.Tensor{c1, c2})
	if err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}

	if ps.ScanForOverflow() {
		t.Error("expected no overflow with no gradients")
	}

	setComputeGrad(t, c1, []float64{1, 2})
	setComputeGrad(t, c2, []float64{3})
	if ps.ScanForOverflow() {
		t.Error("expected no overflow with finite gradients")
	}

	setComputeGrad(t, c2, []float64{math.NaN()})
	if !ps.ScanForOverflow() {
		t.Error("expected overflow with NaN gradient")
	}

	setComputeGrad(t, c2, []float64{math.Inf(1)})
	if !ps.ScanForOverflow() {
		t.Error("expected overflow with infinite gradient")
	}

	// Values beyond the half-precision range quantize to infinity.
	setComputeGrad(t, c2, []float64{70000})
	if !ps.ScanForOverflow() {
		t.Error("expected overflow for value beyond half-precision range")
	}
}

func TestZeroComputeGrads(t *testing.T) {
	m, c := newParamPair(t, []float64{1, 2})
	ps, err := NewParamSync([]*tensor.Tensor{m}, []*tensor.Tensor{c})
	if err != nil {
		t.Fatalf("failed to create sync: %v", err)
	}

	setComputeGrad(t, c, []float64{5, 6})
	ps.ZeroComputeGrads()

	bits, _ := c.Grad().GetFloat16Bits()
	for i, h := range bits {
		if h != 0 {
			t.Errorf("gradient element %d not zeroed: %#04x", i, h)
		}
	}
}
