package kpi

import "fmt"

// Fraction is a running numerator/denominator tally. Both parts only grow.
type Fraction struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

func (f *Fraction) AddToNumerator(n int) {
	f.Numerator += n
}

func (f *Fraction) AddToDenominator(n int) {
	f.Denominator += n
}

// Calculate returns the ratio, or ok=false when the denominator is zero.
func (f Fraction) Calculate() (float64, bool) {
	if f.Denominator == 0 {
		return 0, false
	}
	return float64(f.Numerator) / float64(f.Denominator), true
}

func (f Fraction) String() string {
	v, ok := f.Calculate()
	if !ok {
		return fmt.Sprintf("%d/%d (undefined)", f.Numerator, f.Denominator)
	}
	return fmt.Sprintf("%d/%d (%g)", f.Numerator, f.Denominator, v)
}
