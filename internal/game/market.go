package game

import (
	"fmt"
	mathrand "math/rand"
)

// quarterStride spreads per-quarter seeds so consecutive quarters of one
// session do not share a stream prefix.
const quarterStride = 7919

// QuarterRand returns the deterministic random stream for one quarter of a
// session. Replaying a session from the same seed reproduces its shocks.
func QuarterRand(seed int64, quarter int) *mathrand.Rand {
	return mathrand.New(mathrand.NewSource(seed + int64(quarter)*quarterStride))
}

// AdvanceMarket applies at most one stochastic shock and then organic demand
// growth. The returned market is used for every company in the same tick.
func (e *Engine) AdvanceMarket(m MarketState, rng Rand) (MarketState, []string) {
	next := m
	var events []string
	if rng != nil && rng.Float64() < e.p.ShockProbability {
		if rng.Float64() >= 0.5 {
			next.InterestRate = m.InterestRate.Add(dec(e.p.InterestShock))
			events = append(events, fmt.Sprintf(
				"Global market shock: interest rate rose to %s%%.",
				next.InterestRate.Mul(dec(100)).StringFixed(2),
			))
		} else {
			next.MaterialCost = m.MaterialCost.Mul(dec(e.p.MaterialShockFactor)).Round(4)
			events = append(events, fmt.Sprintf(
				"Supply chain crisis: material cost surged to %s per unit.",
				next.MaterialCost.StringFixed(2),
			))
		}
	}
	next.TotalDemand = m.TotalDemand * m.GDPGrowth
	return next, events
}
