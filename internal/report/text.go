package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/guptarohit/asciigraph"
)

const noChargeStartWarning = "No charge start times for dataset. KPI for charge start not calculated."

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5A50A"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
)

func WriteText(w io.Writer, rep *Report, chart bool) error {
	var b strings.Builder
	header := "OCPP session KPIs"
	if rep.RunID != "" {
		header += " " + subtleStyle.Render("run "+rep.RunID)
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	fmt.Fprintf(&b, "sessions analysed: %d\n\n", rep.Sessions)

	for _, sheet := range rep.Sheets {
		b.WriteString(titleStyle.Render(string(sheet.Name)))
		b.WriteString("\n")
		b.WriteString(renderSheet(sheet))
		b.WriteString("\n")
		if sheet.Aggregate {
			fmt.Fprintf(&b, "Weighted Average: %s\n", formatRatio(sheet.WeightedAverage))
		}
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("charge_start_time"))
	b.WriteString("\n")
	if rep.ChargeStart.Samples == 0 {
		b.WriteString(warnStyle.Render("Warning: " + noChargeStartWarning))
		b.WriteString("\n")
	} else {
		b.WriteString(renderChargeStart(rep.ChargeStart))
		b.WriteString("\n")
		if chart {
			b.WriteString(renderSamples(rep.ChargeStart.Values))
			b.WriteString("\n")
		}
	}

	if rep.Warnings > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(fmt.Sprintf("%d input warnings", rep.Warnings)))
		b.WriteString("\n")
		for _, line := range rep.Recent {
			b.WriteString(subtleStyle.Render("  " + line))
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func renderSheet(sheet Sheet) string {
	t := newTable("equation", sheet.NumeratorLabel, sheet.DenominatorLabel, "percent_contribution", string(sheet.Name))
	for _, row := range sheet.Rows {
		t.Row(
			strconv.Itoa(row.Equation),
			strconv.Itoa(row.Numerator),
			strconv.Itoa(row.Denominator),
			strconv.FormatFloat(row.Contribution, 'f', 4, 64),
			formatRatio(row.Ratio),
		)
	}
	if sheet.Aggregate {
		t.Row("Total Samples", strconv.Itoa(sheet.TotalNumerator), strconv.Itoa(sheet.TotalDenominator), "", "")
	}
	return t.String()
}

func renderChargeStart(cs ChargeStart) string {
	headers := []string{"equation"}
	cells := []string{strconv.Itoa(cs.Equation)}
	for _, p := range cs.Percentiles {
		headers = append(headers, ordinal(p.Rank)+"_percentile")
		cells = append(cells, strconv.FormatFloat(p.Seconds, 'f', -1, 64))
	}
	headers = append(headers, "total_samples")
	cells = append(cells, strconv.Itoa(cs.Samples))
	return newTable(headers...).Row(cells...).String()
}

// renderSamples plots the sorted charge-start times.
func renderSamples(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if len(sorted) == 1 {
		sorted = append(sorted, sorted[0])
	}
	width := len(sorted)
	if width < 20 {
		width = 20
	}
	if width > 80 {
		width = 80
	}
	return asciigraph.Plot(sorted,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Caption("charge start time (s), sorted samples"),
	)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func formatRatio(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func ordinal(rank float64) string {
	text := strconv.FormatFloat(rank, 'f', -1, 64)
	n := int(rank)
	if float64(n) != rank {
		return text + "th"
	}
	switch {
	case n%100 >= 11 && n%100 <= 13:
		return text + "th"
	case n%10 == 1:
		return text + "st"
	case n%10 == 2:
		return text + "nd"
	case n%10 == 3:
		return text + "rd"
	}
	return text + "th"
}
