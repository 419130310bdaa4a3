// Package scoring derives the risk-adjusted yield per holding from the
// nominal interest rate and the calibrated default probability, and fits the
// linear calibration that maps raw model scores onto observed default rates.
package scoring

import "math"

// recoveryHaircut is the fixed fraction of the non-defaulted interest assumed
// lost to recovery costs.
const recoveryHaircut = 0.25

// EffectiveAnnualRate converts a nominal annual rate in percent, compounded
// monthly, into the effective annual rate as a fraction.
func EffectiveAnnualRate(nominalPercent float64) float64 {
	return math.Pow(1+nominalPercent/100/12, 12) - 1
}

// AdjustedInterest computes the risk-adjusted yield in percent for a holding
// with the given nominal annual interest rate (percent) and default
// probability (0..1). It is a point-in-time heuristic: the non-defaulted
// fraction earns the effective rate minus a fixed recovery haircut, the
// defaulted fraction is a total loss. defaultProb=1 yields exactly -100.
func AdjustedInterest(nominalPercent, defaultProb float64) float64 {
	effInt := EffectiveAnnualRate(nominalPercent)
	survive := 1 - defaultProb
	return (survive*(effInt+1) - recoveryHaircut*survive*effInt - 1) * 100
}
