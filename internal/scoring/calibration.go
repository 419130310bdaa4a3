package scoring

import "fmt"

// Bin is one calibration sample: the mean raw model score of a probability
// bucket and the default rate actually observed in it.
type Bin struct {
	Predicted float64
	Observed  float64
}

// Calibration is a degree-1 fit mapping raw model scores onto observed
// default rates.
type Calibration struct {
	Slope     float64
	Intercept float64
}

// Fit computes the least-squares line through the given calibration bins.
// At least two bins with distinct predicted values are required.
func Fit(bins []Bin) (Calibration, error) {
	if len(bins) < 2 {
		return Calibration{}, fmt.Errorf("scoring: calibration needs at least 2 bins, got %d", len(bins))
	}

	var sumX, sumY, sumXX, sumXY float64
	for _, b := range bins {
		sumX += b.Predicted
		sumY += b.Observed
		sumXX += b.Predicted * b.Predicted
		sumXY += b.Predicted * b.Observed
	}

	n := float64(len(bins))
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Calibration{}, fmt.Errorf("scoring: calibration bins are degenerate (identical predicted values)")
	}

	slope := (n*sumXY - sumX*sumY) / denom
	return Calibration{
		Slope:     slope,
		Intercept: (sumY - slope*sumX) / n,
	}, nil
}

// Apply maps a raw model score onto the fitted default rate, clamped to
// [0,1] so downstream yield math stays defined.
func (c Calibration) Apply(rawScore float64) float64 {
	p := c.Slope*rawScore + c.Intercept
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Identity returns the no-op calibration, used when no bins are available.
func Identity() Calibration {
	return Calibration{Slope: 1}
}
