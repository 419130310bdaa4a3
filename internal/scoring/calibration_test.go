package scoring

import (
	"math"
	"testing"
)

func TestFitExactLine(t *testing.T) {
	// Points on y = 0.8x + 0.05.
	bins := []Bin{
		{Predicted: 0.1, Observed: 0.13},
		{Predicted: 0.3, Observed: 0.29},
		{Predicted: 0.5, Observed: 0.45},
		{Predicted: 0.7, Observed: 0.61},
	}
	cal, err := Fit(bins)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(cal.Slope-0.8) > 1e-9 {
		t.Fatalf("slope: expected 0.8, got %v", cal.Slope)
	}
	if math.Abs(cal.Intercept-0.05) > 1e-9 {
		t.Fatalf("intercept: expected 0.05, got %v", cal.Intercept)
	}
}

func TestFitRejectsDegenerateInput(t *testing.T) {
	if _, err := Fit([]Bin{{Predicted: 0.5, Observed: 0.4}}); err == nil {
		t.Fatal("expected error for a single bin")
	}
	same := []Bin{
		{Predicted: 0.5, Observed: 0.4},
		{Predicted: 0.5, Observed: 0.6},
	}
	if _, err := Fit(same); err == nil {
		t.Fatal("expected error for identical predicted values")
	}
}

func TestApplyClampsToUnitInterval(t *testing.T) {
	cal := Calibration{Slope: 2, Intercept: -0.5}
	if got := cal.Apply(0.9); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := cal.Apply(0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
	if got := cal.Apply(0.5); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestIdentityPassesThrough(t *testing.T) {
	cal := Identity()
	if got := cal.Apply(0.37); math.Abs(got-0.37) > 1e-9 {
		t.Fatalf("identity should pass scores through, got %v", got)
	}
}
