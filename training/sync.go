package training

import (
	"fmt"

	"github.com/tsawler/go-amp/tensor"
)

// ParamSync keeps a full-precision master parameter store and its
// half-precision compute mirror in lockstep. Parameters are paired by index;
// pairing is validated once at construction and assumed thereafter.
type ParamSync struct {
	master  []*tensor.Tensor
	compute []*tensor.Tensor
}

// NewParamSync validates the pairing between the two stores: same length,
// and for each index matching shape, Float64 master, Float16 compute.
func NewParamSync(master, compute []*tensor.Tensor) (*ParamSync, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("master parameter store is empty")
	}
	if len(master) != len(compute) {
		return nil, fmt.Errorf("parameter store size mismatch: %d master vs %d compute", len(master), len(compute))
	}
	for i, m := range master {
		c := compute[i]
		if m.DType != tensor.Float64 {
			return nil, fmt.Errorf("master parameter %d has dtype %s, want %s", i, m.DType, tensor.Float64)
		}
		if c.DType != tensor.Float16 {
			return nil, fmt.Errorf("compute parameter %d has dtype %s, want %s", i, c.DType, tensor.Float16)
		}
		if c.Numel() != m.Numel() {
			return nil, fmt.Errorf("parameter %d shape mismatch: master %v vs compute %v", i, m.Shape, c.Shape)
		}
	}
	return &ParamSync{master: master, compute: compute}, nil
}

// ZeroComputeGrads zeroes every materialized compute gradient in place.
// Parameters whose gradient buffer was never allocated are left alone.
func (ps *ParamSync) ZeroComputeGrads() {
	tensor.ZeroGrad(ps.compute)
}

// UpcastGradsIntoMaster copies each compute gradient into the paired master
// gradient buffer, multiplying by scaleInv to undo the loss scale. Master
// gradient buffers are overwritten, not accumulated into; they are allocated
// on first use. Compute parameters with no gradient leave the paired master
// gradient untouched.
func (ps *ParamSync) UpcastGradsIntoMaster(scaleInv float64) error {
	for i, c := range ps.compute {
		cg := c.Grad()
		if cg == nil {
			continue
		}
		m := ps.master[i]
		mg := m.Grad()
		if mg == nil {
			var err error
			mg, err = tensor.Zeros(m.Shape, tensor.Float64)
			if err != nil {
				return fmt.Errorf("master gradient %d: %v", i, err)
			}
			m.SetGrad(mg)
		}
		dst, err := mg.GetFloat64Data()
		if err != nil {
			return fmt.Errorf("master gradient %d: %v", i, err)
		}
		bits, err := cg.GetFloat16Bits()
		if err != nil {
			return fmt.Errorf("compute gradient %d: %v", i, err)
		}
		for j, h := range bits {
			dst[j] = tensor.Float16ToFloat64(h) * scaleInv
		}
	}
	return nil
}

// DowncastWeightsIntoCompute requantizes every master weight into the paired
// compute tensor's backing storage. The compute tensors keep their identity;
// only the stored bits change.
func (ps *ParamSync) DowncastWeightsIntoCompute() error {
	for i, m := range ps.master {
		src, err := m.GetFloat64Data()
		if err != nil {
			return fmt.Errorf("master parameter %d: %v", i, err)
		}
		bits, err := ps.compute[i].GetFloat16Bits()
		if err != nil {
			return fmt.Errorf("compute parameter %d: %v", i, err)
		}
		for j, v := range src {
			bits[j] = tensor.Float16FromFloat64(v)
		}
	}
	return nil
}

// ScanForOverflow reports whether any compute gradient contains a NaN or
// infinity. The scan stops at the first bad value.
func (ps *ParamSync) ScanForOverflow() bool {
	for _, c := range ps.compute {
		g := c.Grad()
		if g == nil {
			continue
		}
		if g.HasOverflow() {
			return true
		}
	}
	return false
}
