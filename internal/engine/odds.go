package engine

import "time"

// Odds quoting. Two interchangeable strategies share one representation:
// multipliers in basis points (10000 = 1.0x, 19500 = 1.95x).
//
// Pool-ratio (price-direction rounds): the quote follows the pari-mutuel
// pool split, and time-fairness is handled at settlement via the per-wager
// early-bird multiplier.
//
// Performance-differential (battle spectators): the quote follows the pool
// split shaded by the live performance lead, and time-fairness is handled
// by the odds lock: the quoted multiplier is the multiplier paid.

const (
	evenMoneyBps = 2 * BpsDenominator // quote when nothing is staked on my side

	// Display clamp for the differential strategy: never below an
	// even-favorite floor nor above the extreme-underdog ceiling, bounding
	// platform exposure.
	diffMinOddsBps = 11000 // 1.10x
	diffMaxOddsBps = 50000 // 5.00x
)

// BaseOddsBps quotes the pool-ratio multiplier for a side holding myPool
// against otherPool, in basis points.
//
// An empty my-side pool quotes even money (2.0x), including when both pools
// are empty. An empty opposing pool quotes 1.0x: no opposing risk, no upside.
func BaseOddsBps(myPool, otherPool, feeBps int64) (int64, error) {
	if myPool < 0 || otherPool < 0 {
		return 0, &PrecisionError{Op: "negative pool"}
	}
	if myPool == 0 {
		return evenMoneyBps, nil
	}
	if otherPool == 0 {
		return BpsDenominator, nil
	}
	// odds = 1 + otherPool*(1-fee)/myPool, in bps
	edge, err := mulDiv(otherPool, BpsDenominator-feeBps, myPool)
	if err != nil {
		return 0, err
	}
	return BpsDenominator + edge, nil
}

// EarlyBirdMultiplierBps returns the settlement-time bonus multiplier for a
// wager placed timeInto the betting window, decaying linearly from
// 1+maxBonus at the open to 1.0 at the betting deadline. Inputs outside
// [0, bettingDuration] clamp.
func EarlyBirdMultiplierBps(timeInto, bettingDuration time.Duration, maxBonusBps int64) int64 {
	if bettingDuration <= 0 {
		return BpsDenominator
	}
	if timeInto <= 0 {
		return BpsDenominator + maxBonusBps
	}
	if timeInto >= bettingDuration {
		return BpsDenominator
	}
	remaining := int64(bettingDuration - timeInto)
	bonus, err := mulDiv(maxBonusBps, remaining, int64(bettingDuration))
	if err != nil {
		return BpsDenominator
	}
	return BpsDenominator + bonus
}

// DifferentialOddsBps quotes the performance-differential multiplier for a
// battle side: the pari-mutuel base quote shaded by half the backed side's
// performance lead (a leading side pays closer to even, a trailing side
// pays more), clamped to the display range. myPerf/otherPerf are the
// running performance metrics in basis points.
func DifferentialOddsBps(myPool, otherPool, myPerf, otherPerf, feeBps int64) (int64, error) {
	base, err := BaseOddsBps(myPool, otherPool, feeBps)
	if err != nil {
		return 0, err
	}

	// half-weight on the lead
	const shade int64 = 2 * BpsDenominator
	lead := myPerf - otherPerf
	scaled := shade - lead
	if scaled < 1 {
		scaled = 1
	}
	odds, err := mulDiv(base, scaled, shade)
	if err != nil {
		return 0, err
	}

	if odds < diffMinOddsBps {
		odds = diffMinOddsBps
	}
	if odds > diffMaxOddsBps {
		odds = diffMaxOddsBps
	}
	return odds, nil
}
