package tensor

import (
	"math"
)

// IEEE 754 binary16: 1 sign bit, 5 exponent bits, 10 mantissa bits.
// Largest finite value 65504; smallest normal 2^-14. Values beyond the
// finite range quantize to ±Inf, values below the normal range flush to
// signed zero. NaN and Inf are preserved across both conversions, which is
// what makes overflow detection on half-precision gradients possible.

const (
	f16SignMask = 0x8000
	f16ExpMask  = 0x7C00
	f16ManMask  = 0x03FF
	f16NaN      = 0x7E00
	f16Inf      = 0x7C00
)

// Float16FromFloat64 quantizes a float64 to binary16 bits.
func Float16FromFloat64(f float64) uint16 {
	if math.IsNaN(f) {
		return f16NaN
	}
	if math.IsInf(f, 1) {
		return f16Inf
	}
	if math.IsInf(f, -1) {
		return f16SignMask | f16Inf
	}

	bits := math.Float32bits(float32(f))
	sign := uint16(bits>>16) & f16SignMask
	bits &= 0x7FFFFFFF

	// float32(f) can itself overflow to +Inf for huge float64 inputs
	if bits >= 0x7F800000 {
		if bits > 0x7F800000 {
			return f16NaN
		}
		return sign | f16Inf
	}

	// Overflow past the largest finite binary16 value (65504)
	if bits > 0x477FE000 {
		return sign | f16Inf
	}

	// Subnormal range: flush to signed zero
	if bits < 0x38800000 {
		return sign
	}

	exp := (bits >> 23) - 127 + 15
	man := (bits >> 13) & f16ManMask
	return sign | uint16(exp<<10) | uint16(man)
}

// Float16ToFloat64 widens binary16 bits to float64.
func Float16ToFloat64(h uint16) float64 {
	sign := uint32(h&f16SignMask) << 16
	exp := uint32(h&f16ExpMask) >> 10
	man := uint32(h & f16ManMask)

	if exp == 0x1F {
		if man == 0 {
			return float64(math.Float32frombits(sign | 0x7F800000))
		}
		return float64(math.Float32frombits(sign | 0x7FC00000))
	}

	if exp == 0 {
		// Subnormals were never produced by the quantizer; treat as zero
		return float64(math.Float32frombits(sign))
	}

	exp32 := (exp - 15 + 127) << 23
	man32 := man << 13
	return float64(math.Float32frombits(sign | exp32 | man32))
}

func float16IsNaN(h uint16) bool {
	return h&f16ExpMask == f16ExpMask && h&f16ManMask != 0
}

func float16IsInf(h uint16) bool {
	return h&f16ExpMask == f16ExpMask && h&f16ManMask == 0
}
