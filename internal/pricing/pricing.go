// Package pricing implements constant-product AMM math. All functions are
// pure and operate on integer amounts (big.Int) and exact rationals
// (big.Rat); floating point is never used so rounding stays deterministic
// across millions of evaluations.
package pricing

import "math/big"

const bpsDenom = 10000

var (
	one    = big.NewInt(1)
	ratOne = big.NewRat(1, 1)
)

// SwapOut returns the output amount for a constant-product swap of amountIn
// against (reserveIn, reserveOut) with the pool fee in basis points.
// Returns 0 for non-positive inputs or reserves. Division floors, so the
// trader never receives more than the curve allows.
func SwapOut(reserveIn, reserveOut, amountIn *big.Int, feeBps uint32) *big.Int {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountIn.Sign() <= 0 || feeBps >= bpsDenom {
		return new(big.Int)
	}
	eff := new(big.Int).Mul(amountIn, big.NewInt(bpsDenom-int64(feeBps)))
	num := new(big.Int).Mul(eff, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenom))
	den.Add(den, eff)
	return num.Quo(num, den)
}

// SwapIn returns the input amount required to receive amountOut, the exact
// inverse of SwapOut plus one unit to cover integer rounding. Returns 0
// when amountOut would drain the pool (amountOut >= reserveOut) or for
// non-positive inputs.
func SwapIn(reserveIn, reserveOut, amountOut *big.Int, feeBps uint32) *big.Int {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Sign() <= 0 || feeBps >= bpsDenom {
		return new(big.Int)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(reserveIn, amountOut)
	num.Mul(num, big.NewInt(bpsDenom))
	den := new(big.Int).Sub(reserveOut, amountOut)
	den.Mul(den, big.NewInt(bpsDenom-int64(feeBps)))
	num.Quo(num, den)
	return num.Add(num, one)
}

// PriceImpact estimates the fraction of value lost to moving the pool,
// in [0, 1]. This is a heuristic blend of the spot-vs-execution gap, a
// size factor and a depth factor plus the flat fee, not the exact curve
// execution price. Empty reserves return 1 (do not trade).
func PriceImpact(reserveIn, reserveOut, amountIn *big.Int, feeBps uint32) *big.Rat {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Rat).Set(ratOne)
	}
	if amountIn.Sign() <= 0 {
		return new(big.Rat)
	}
	out := SwapOut(reserveIn, reserveOut, amountIn, feeBps)

	// base = (spot - exec) / spot = 1 - out*reserveIn / (amountIn*reserveOut)
	execOverSpot := new(big.Rat).SetFrac(
		new(big.Int).Mul(out, reserveIn),
		new(big.Int).Mul(amountIn, reserveOut),
	)
	base := new(big.Rat).Sub(ratOne, execOverSpot)

	sizeFactor := new(big.Rat).SetFrac(amountIn, reserveIn)

	// depthFactor = min(1, sqrt(reserveIn*reserveOut) / amountIn)
	depth := new(big.Int).Mul(reserveIn, reserveOut)
	depth.Sqrt(depth)
	depthFactor := new(big.Rat).SetFrac(depth, amountIn)
	if depthFactor.Cmp(ratOne) > 0 {
		depthFactor.Set(ratOne)
	}

	impact := new(big.Rat).Add(ratOne, sizeFactor)
	impact.Mul(impact, base)
	impact.Quo(impact, depthFactor)
	impact.Add(impact, big.NewRat(int64(feeBps), bpsDenom))
	return clamp01(impact)
}

// DepthImpact is a cheaper proxy for impact used when deciding whether to
// split a large trade: r*(1+r) for r = amountIn/reserveIn, capped at 1.
func DepthImpact(reserveIn, amountIn *big.Int) *big.Rat {
	if reserveIn.Sign() <= 0 {
		return new(big.Rat).Set(ratOne)
	}
	if amountIn.Sign() <= 0 {
		return new(big.Rat)
	}
	r := new(big.Rat).SetFrac(amountIn, reserveIn)
	impact := new(big.Rat).Add(ratOne, r)
	impact.Mul(impact, r)
	if impact.Cmp(ratOne) > 0 {
		impact.Set(ratOne)
	}
	return impact
}

// SlippageBounds widens the expected SwapOut into an (min, max) execution
// band. The band is asymmetric: downside widens by impact*(1-confidence),
// upside by half that, modeling that surprises are usually adverse.
// confidence must be in [0, 1].
func SlippageBounds(reserveIn, reserveOut, amountIn *big.Int, feeBps uint32, confidence *big.Rat) (minOut, maxOut *big.Int) {
	out := SwapOut(reserveIn, reserveOut, amountIn, feeBps)
	if out.Sign() <= 0 {
		return new(big.Int), new(big.Int)
	}
	impact := PriceImpact(reserveIn, reserveOut, amountIn, feeBps)
	down := new(big.Rat).Sub(ratOne, confidence)
	down.Mul(down, impact)
	up := new(big.Rat).Quo(down, big.NewRat(2, 1))

	minOut = mulRatFloor(out, new(big.Rat).Sub(ratOne, down))
	maxOut = mulRatFloor(out, new(big.Rat).Add(ratOne, up))
	if minOut.Sign() < 0 {
		minOut.SetInt64(0)
	}
	return minOut, maxOut
}

// EffectiveRate is the fee-adjusted, decimal-adjusted marginal exchange
// rate of a pool for an infinitesimal trade entering with the in side:
// (reserveOut / 10^decOut) / (reserveIn / 10^decIn) * (1 - fee).
func EffectiveRate(reserveIn, reserveOut *big.Int, decIn, decOut uint8, feeBps uint32) *big.Rat {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || feeBps >= bpsDenom {
		return new(big.Rat)
	}
	num := new(big.Int).Mul(reserveOut, pow10(decIn))
	num.Mul(num, big.NewInt(bpsDenom-int64(feeBps)))
	den := new(big.Int).Mul(reserveIn, pow10(decOut))
	den.Mul(den, big.NewInt(bpsDenom))
	return new(big.Rat).SetFrac(num, den)
}

// SpotRate is EffectiveRate without the fee term, the raw reserve ratio.
func SpotRate(reserveIn, reserveOut *big.Int, decIn, decOut uint8) *big.Rat {
	return EffectiveRate(reserveIn, reserveOut, decIn, decOut, 0)
}

func clamp01(r *big.Rat) *big.Rat {
	if r.Sign() < 0 {
		return new(big.Rat)
	}
	if r.Cmp(ratOne) > 0 {
		return new(big.Rat).Set(ratOne)
	}
	return r
}

// mulRatFloor computes floor(x * r) for a non-negative rational r.
func mulRatFloor(x *big.Int, r *big.Rat) *big.Int {
	n := new(big.Int).Mul(x, r.Num())
	return n.Quo(n, r.Denom())
}

func pow10(d uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}
