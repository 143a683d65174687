// Package risk implements the time-weighted credit half of the financial
// core: the risk scoring engine, the vouching engine, and the cascading
// default penalty propagation.
//
// All monetary values and scores use shopspring/decimal — never float64 for
// money. Internal transcendental math (the exponential decay factor) uses
// float64, with results immediately converted to decimal at a fixed scale so
// identical inputs always produce identical decimals.
package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DecayScale is the number of decimal places decayed impacts are rounded to.
var DecayScale int32 = 8

// daysPerMonth converts elapsed wall-clock time to the model's month unit.
const daysPerMonth = 30.0

// monthsElapsed returns the elapsed time between occurredAt and now in
// months. Future-dated events yield a negative value here; the caller
// floors it at zero before decaying.
func monthsElapsed(occurredAt, now time.Time) float64 {
	return now.Sub(occurredAt).Hours() / (24 * daysPerMonth)
}

// decayFactor computes e^(−lambda × months), floored at zero elapsed months
// so future-dated events are applied at full weight rather than amplified.
// The factor is strictly decreasing in elapsed time and approaches 0 as
// elapsed time grows.
func decayFactor(lambda decimal.Decimal, months float64) decimal.Decimal {
	if months < 0 {
		months = 0
	}
	f := math.Exp(-lambda.InexactFloat64() * months)
	return decimal.NewFromFloat(f).Round(DecayScale)
}

// decayedImpact applies the decay factor for the event's age to its impact.
func decayedImpact(impact, lambda decimal.Decimal, occurredAt, now time.Time) decimal.Decimal {
	return impact.Mul(decayFactor(lambda, monthsElapsed(occurredAt, now)))
}
