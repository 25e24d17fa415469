package kpi

import (
	"errors"
	"fmt"
	"slices"
)

// Equation identifies one fraction-based KPI equation.
type Equation int

const (
	Eq1 Equation = iota
	Eq3
	Eq4
	Eq5
	Eq10
	Eq12
	Eq14
	Eq15
	Eq16
	equationCount
)

// ChargeStartTimeEquation is the number reported for the latency sample list.
const ChargeStartTimeEquation = 9

var equationNumbers = [equationCount]int{1, 3, 4, 5, 10, 12, 14, 15, 16}

func (e Equation) Number() int {
	if e < 0 || e >= equationCount {
		return 0
	}
	return equationNumbers[e]
}

func (e Equation) String() string {
	return fmt.Sprintf("eq%d", e.Number())
}

func Equations() []Equation {
	out := make([]Equation, 0, equationCount)
	for e := Eq1; e < equationCount; e++ {
		out = append(out, e)
	}
	return out
}

type Composite string

const (
	SessionSuccess     Composite = "session_success"
	ChargeStartSuccess Composite = "charge_start_success"
	ChargeEndSuccess   Composite = "charge_end_success"
)

var ErrUnknownComposite = errors.New("unknown composite kpi")

var compositeEquations = map[Composite][]Equation{
	SessionSuccess:     {Eq12, Eq14, Eq15, Eq16},
	ChargeStartSuccess: {Eq1, Eq3, Eq4, Eq5},
	ChargeEndSuccess:   {Eq10},
}

func Composites() []Composite {
	return []Composite{SessionSuccess, ChargeStartSuccess, ChargeEndSuccess}
}

func ParseComposite(name string) (Composite, error) {
	c := Composite(name)
	if _, ok := compositeEquations[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownComposite, name)
	}
	return c, nil
}

func (c Composite) Equations() []Equation {
	return slices.Clone(compositeEquations[c])
}

// Mode is the flow a session was classified into.
type Mode int

const (
	ModeNone Mode = iota
	ModePostPlugin
	ModePrePlugin
	ModeRequestStart
	ModeCachedAuth
)

func (m Mode) String() string {
	switch m {
	case ModePostPlugin:
		return "post_plugin"
	case ModePrePlugin:
		return "pre_plugin"
	case ModeRequestStart:
		return "request_start"
	case ModeCachedAuth:
		return "cached_auth"
	}
	return "none"
}

// State holds the fractions and charge-start samples of one KPI run.
type State struct {
	fractions        [equationCount]Fraction
	chargeStartTimes []float64
}

func NewState() *State {
	return &State{}
}

func (s *State) Fraction(e Equation) Fraction {
	if e < 0 || e >= equationCount {
		return Fraction{}
	}
	return s.fractions[e]
}

func (s *State) AddAuthorizes(n int) {
	s.fractions[Eq3].AddToDenominator(n)
	s.fractions[Eq14].AddToDenominator(n)
}

func (s *State) AddRequestStarts(n int) {
	s.fractions[Eq4].AddToDenominator(n)
	s.fractions[Eq15].AddToDenominator(n)
}

func (s *State) AddStart(mode Mode) {
	switch mode {
	case ModePostPlugin:
		s.fractions[Eq1].AddToDenominator(1)
		s.fractions[Eq12].AddToDenominator(1)
	case ModeCachedAuth:
		s.fractions[Eq5].AddToDenominator(1)
		s.fractions[Eq16].AddToDenominator(1)
	}
}

func (s *State) AddPowerDeliveryAttempt(mode Mode) {
	switch mode {
	case ModePostPlugin:
		s.fractions[Eq1].AddToNumerator(1)
	case ModePrePlugin:
		s.fractions[Eq3].AddToNumerator(1)
	case ModeRequestStart:
		s.fractions[Eq4].AddToNumerator(1)
	case ModeCachedAuth:
		s.fractions[Eq5].AddToNumerator(1)
	default:
		return
	}
	s.fractions[Eq10].AddToDenominator(1)
}

func (s *State) AddValidStop(mode Mode, powerDelivered bool) {
	switch mode {
	case ModePostPlugin:
		s.fractions[Eq12].AddToNumerator(1)
	case ModePrePlugin:
		s.fractions[Eq14].AddToNumerator(1)
	case ModeRequestStart:
		s.fractions[Eq15].AddToNumerator(1)
	case ModeCachedAuth:
		s.fractions[Eq16].AddToNumerator(1)
	default:
		return
	}
	if powerDelivered {
		s.fractions[Eq10].AddToNumerator(1)
	}
}

func (s *State) AddChargeStartTime(seconds float64) {
	if seconds < 0 {
		seconds = -seconds
	}
	s.chargeStartTimes = append(s.chargeStartTimes, seconds)
}

func (s *State) ChargeStartTimes() []float64 {
	return slices.Clone(s.chargeStartTimes)
}

func (s *State) SampleCount() int {
	return len(s.chargeStartTimes)
}

// Ratio returns the equation's value; ok is false when it is undefined.
func (s *State) Ratio(e Equation) (float64, bool) {
	return s.Fraction(e).Calculate()
}

func (s *State) TotalNumerator(c Composite) int {
	total := 0
	for _, e := range compositeEquations[c] {
		total += s.fractions[e].Numerator
	}
	return total
}

func (s *State) TotalDenominator(c Composite) int {
	total := 0
	for _, e := range compositeEquations[c] {
		total += s.fractions[e].Denominator
	}
	return total
}

// PercentContribution is the equation's numerator over the composite's total
// denominator, or 0 when that total is 0.
func (s *State) PercentContribution(e Equation, c Composite) float64 {
	total := s.TotalDenominator(c)
	if total == 0 {
		return 0
	}
	return float64(s.Fraction(e).Numerator) / float64(total)
}

func (s *State) WeightedAverage(c Composite) (float64, bool) {
	eqs := compositeEquations[c]
	terms := make([]Term, 0, len(eqs))
	for _, e := range eqs {
		ratio, defined := s.Ratio(e)
		terms = append(terms, Term{
			Ratio:        ratio,
			Defined:      defined,
			Contribution: s.PercentContribution(e, c),
		})
	}
	return WeightedAverage(terms)
}

type Term struct {
	Ratio        float64
	Defined      bool
	Contribution float64
}

// WeightedAverage skips terms with zero contribution or an undefined ratio.
// ok is false when nothing contributes.
func WeightedAverage(terms []Term) (float64, bool) {
	var sum, weights float64
	for _, t := range terms {
		if t.Contribution == 0 || !t.Defined {
			continue
		}
		sum += t.Ratio * t.Contribution
		weights += t.Contribution
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

// Percentile returns the rank-th percentile of the charge-start samples using
// linear interpolation between closest ranks, or -1 when there are no samples.
func (s *State) Percentile(rank float64) float64 {
	return Percentile(s.chargeStartTimes, rank)
}

func Percentile(samples []float64, rank float64) float64 {
	if len(samples) == 0 {
		return -1
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	if rank <= 0 {
		return sorted[0]
	}
	if rank >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := rank / 100 * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
