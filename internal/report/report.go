package report

import (
	"fmt"
	"io"
	"slices"
	"time"

	"ocppkpi/internal/kpi"
	"ocppkpi/internal/warnings"
)

// Row is one equation line of a composite sheet. Ratio is nil when the
// equation is undefined.
type Row struct {
	Equation     int      `json:"equation"`
	Numerator    int      `json:"numerator"`
	Denominator  int      `json:"denominator"`
	Contribution float64  `json:"percent_contribution"`
	Ratio        *float64 `json:"ratio"`
}

type Sheet struct {
	Name             kpi.Composite `json:"name"`
	NumeratorLabel   string        `json:"numerator_label"`
	DenominatorLabel string        `json:"denominator_label"`
	Rows             []Row         `json:"rows"`
	Aggregate        bool          `json:"aggregate"`
	TotalNumerator   int           `json:"total_numerator"`
	TotalDenominator int           `json:"total_denominator"`
	WeightedAverage  *float64      `json:"weighted_average"`
}

type Percentile struct {
	Rank    float64 `json:"rank"`
	Seconds float64 `json:"seconds"`
}

type ChargeStart struct {
	Equation    int          `json:"equation"`
	Samples     int          `json:"total_samples"`
	Percentiles []Percentile `json:"percentiles"`
	Values      []float64    `json:"-"`
}

type Report struct {
	RunID       string      `json:"run_id,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
	Sessions    int         `json:"sessions"`
	Sheets      []Sheet     `json:"sheets"`
	ChargeStart ChargeStart `json:"charge_start_time"`
	Warnings    int         `json:"warnings"`
	Recent      []string    `json:"recent_warnings,omitempty"`
}

type Options struct {
	RunID       string
	Sessions    int
	Percentiles []float64
	Warnings    *warnings.Store
	// RecentWarnings is how many of the latest warnings are listed; 0 lists none.
	RecentWarnings int
}

type sheetLayout struct {
	numerator   string
	denominator string
	aggregate   bool
}

var layouts = map[kpi.Composite]sheetLayout{
	kpi.SessionSuccess:     {"completions", "charge_attempts", true},
	kpi.ChargeStartSuccess: {"power_delivery_attempts", "plug_in_attempts", true},
	kpi.ChargeEndSuccess:   {"completions", "power_delivery_attempts", false},
}

var defaultPercentiles = []float64{10, 25, 50, 75}

func Build(state *kpi.State, opts Options) *Report {
	rep := &Report{
		RunID:       opts.RunID,
		GeneratedAt: time.Now().UTC(),
		Sessions:    opts.Sessions,
	}
	for _, c := range kpi.Composites() {
		rep.Sheets = append(rep.Sheets, buildSheet(state, c, layouts[c]))
	}
	ranks := opts.Percentiles
	if len(ranks) == 0 {
		ranks = defaultPercentiles
	}
	rep.ChargeStart = ChargeStart{
		Equation: kpi.ChargeStartTimeEquation,
		Samples:  state.SampleCount(),
		Values:   state.ChargeStartTimes(),
	}
	for _, rank := range ranks {
		rep.ChargeStart.Percentiles = append(rep.ChargeStart.Percentiles, Percentile{Rank: rank, Seconds: state.Percentile(rank)})
	}
	if opts.Warnings != nil {
		rep.Warnings = opts.Warnings.Count()
		if opts.RecentWarnings > 0 {
			for _, w := range opts.Warnings.List(opts.RecentWarnings) {
				rep.Recent = append(rep.Recent, w.String())
			}
		}
	}
	return rep
}

func buildSheet(state *kpi.State, c kpi.Composite, l sheetLayout) Sheet {
	sheet := Sheet{
		Name:             c,
		NumeratorLabel:   l.numerator,
		DenominatorLabel: l.denominator,
		Aggregate:        l.aggregate,
	}
	for _, eq := range c.Equations() {
		f := state.Fraction(eq)
		row := Row{
			Equation:     eq.Number(),
			Numerator:    f.Numerator,
			Denominator:  f.Denominator,
			Contribution: state.PercentContribution(eq, c),
		}
		if v, ok := f.Calculate(); ok {
			row.Ratio = &v
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	if l.aggregate {
		sheet.TotalNumerator = state.TotalNumerator(c)
		sheet.TotalDenominator = state.TotalDenominator(c)
		if v, ok := state.WeightedAverage(c); ok {
			sheet.WeightedAverage = &v
		}
	}
	return sheet
}

// Sheet returns the sheet for a composite name.
func (r *Report) Sheet(name string) (Sheet, error) {
	c, err := kpi.ParseComposite(name)
	if err != nil {
		return Sheet{}, err
	}
	i := slices.IndexFunc(r.Sheets, func(s Sheet) bool { return s.Name == c })
	if i < 0 {
		return Sheet{}, fmt.Errorf("%w: %q not in report", kpi.ErrUnknownComposite, name)
	}
	return r.Sheets[i], nil
}

// Write renders the report as text or JSON.
func Write(w io.Writer, rep *Report, format string, chart bool) error {
	switch format {
	case "", "text":
		return WriteText(w, rep, chart)
	case "json":
		return WriteJSON(w, rep)
	}
	return fmt.Errorf("unsupported report format %q", format)
}
