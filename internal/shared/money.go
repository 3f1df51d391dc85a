package shared

import "math"

// Epsilon bounds debit/credit equality checks on base-currency amounts.
const Epsilon = 0.0001

// AmountEpsilon is the looser tolerance applied to reclassification
// amount-mode totals. Kept distinct from Epsilon on purpose; see gl/reclass.
const AmountEpsilon = 0.01

// Round6 rounds a base-currency amount to the fixed six-decimal scale used
// for all stored monetary values.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Round2 rounds to cents, used for display-level aggregates.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// EqualWithin reports whether two amounts agree within eps.
func EqualWithin(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// IsZero reports whether an amount is zero at the posting tolerance.
func IsZero(v float64) bool {
	return math.Abs(v) < Epsilon
}
