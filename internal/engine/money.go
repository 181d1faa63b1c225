package engine

import "math/bits"

// BpsDenominator scales basis-point quantities: 10000 bps == 1.0x.
const BpsDenominator = 10000

// mulDiv computes a*b/c for non-negative int64 operands with a 128-bit
// intermediate, flooring the quotient. Division is the only place money
// loses precision; callers route the residue into the fee pool.
func mulDiv(a, b, c int64) (int64, error) {
	if a < 0 || b < 0 || c <= 0 {
		return 0, &PrecisionError{Op: "mulDiv operands out of range"}
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, &PrecisionError{Op: "mulDiv quotient overflows int64"}
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > uint64(1<<63-1) {
		return 0, &PrecisionError{Op: "mulDiv quotient overflows int64"}
	}
	return int64(q), nil
}

// applyBps scales amount by a basis-point multiplier, flooring.
func applyBps(amount, bps int64) (int64, error) {
	return mulDiv(amount, bps, BpsDenominator)
}

// addChecked adds two non-negative amounts, guarding pool overflow.
func addChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, &PrecisionError{Op: "negative amount"}
	}
	s := a + b
	if s < a {
		return 0, &PrecisionError{Op: "pool overflow"}
	}
	return s, nil
}
