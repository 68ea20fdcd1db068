// Package report renders the token-usage summary as a one-page PDF for
// `darby usage export`.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-pdf/fpdf"

	"github.com/darbylab/darby/internal/ledger"
)

// Single-accent scheme; this is a utility page, not marketing.
var (
	colorAccent   = [3]int{30, 58, 95}
	colorText     = [3]int{44, 62, 80}
	colorMuted    = [3]int{127, 140, 141}
	colorTableAlt = [3]int{241, 245, 249}
	colorGrid     = [3]int{220, 220, 220}
)

const maxDailyRows = 14

// Generate renders the usage summary to PDF bytes.
func Generate(summary ledger.Summary, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 16, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorAccent[0], colorAccent[1], colorAccent[2])
	pdf.Rect(0, 0, pageWidth, 6, "F")

	pdf.SetY(14)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorText[0], colorText[1], colorText[2])
	pdf.CellFormat(0, 10, "Darby Usage Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Last %d days  -  generated %s",
		summary.Days, generatedAt.Format("January 2, 2006 15:04")), "", 1, "L", false, 0, "")
	if summary.PricingAsOf != "" {
		pdf.CellFormat(0, 5, fmt.Sprintf("Cost estimates use provider pricing as of %s", summary.PricingAsOf), "", 1, "L", false, 0, "")
	}

	writeTotals(pdf, summary)
	writeProviderTable(pdf, summary.Providers)
	writePurposeTable(pdf, summary.Purposes)
	writeDailyTable(pdf, summary.DailyTotals)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render usage report: %w", err)
	}
	return buf.Bytes(), nil
}

// writeTotals draws the four headline stats in one band.
func writeTotals(pdf *fpdf.Fpdf, s ledger.Summary) {
	pdf.SetY(pdf.GetY() + 6)
	stats := []struct {
		label string
		value string
	}{
		{"MODEL CALLS", humanize.Comma(s.TotalCalls)},
		{"TOKENS", humanize.Comma(s.TotalTokens)},
		{"EST. COST", fmt.Sprintf("$%.4f", s.TotalUSD)},
		{"CONTEXT BYTES SAVED", humanize.Comma(s.TotalBytesSaved)},
	}

	pageWidth, _ := pdf.GetPageSize()
	cellWidth := (pageWidth - 36) / float64(len(stats))
	top := pdf.GetY()

	for i, stat := range stats {
		x := 18 + float64(i)*cellWidth
		pdf.SetXY(x, top)
		pdf.SetFont("Arial", "B", 8)
		pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
		pdf.CellFormat(cellWidth, 5, stat.label, "", 0, "L", false, 0, "")

		pdf.SetXY(x, top+5)
		pdf.SetFont("Arial", "B", 15)
		pdf.SetTextColor(colorText[0], colorText[1], colorText[2])
		pdf.CellFormat(cellWidth, 8, stat.value, "", 0, "L", false, 0, "")
	}
	pdf.SetY(top + 16)
}

func sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetY(pdf.GetY() + 5)
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(colorGrid[0], colorGrid[1], colorGrid[2])
	pdf.Line(18, pdf.GetY(), 192, pdf.GetY())
	pdf.SetY(pdf.GetY() + 1)
}

func tableHeader(pdf *fpdf.Fpdf, widths []float64, labels []string) {
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorAccent[0], colorAccent[1], colorAccent[2])
	pdf.SetTextColor(255, 255, 255)
	for i, label := range labels {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, label, "", 0, align, true, 0, "")
	}
	pdf.Ln(-1)
}

func tableRow(pdf *fpdf.Fpdf, widths []float64, cells []string, alt bool) {
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorText[0], colorText[1], colorText[2])
	if alt {
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
	}
	for i, cell := range cells {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 6, cell, "", 0, align, alt, 0, "")
	}
	pdf.Ln(-1)
}

func writeProviderTable(pdf *fpdf.Fpdf, providers []ledger.ProviderSummary) {
	sectionTitle(pdf, "By Provider")
	if len(providers) == 0 {
		emptyNote(pdf)
		return
	}

	widths := []float64{54, 30, 30, 30, 30}
	tableHeader(pdf, widths, []string{"Provider", "Calls", "Input", "Output", "Est. USD"})
	for i, p := range providers {
		tableRow(pdf, widths, []string{
			p.Provider,
			humanize.Comma(p.Calls),
			humanize.Comma(p.InputTokens),
			humanize.Comma(p.OutputTokens),
			fmt.Sprintf("$%.4f", p.EstimatedUSD),
		}, i%2 == 1)
	}
}

func writePurposeTable(pdf *fpdf.Fpdf, purposes []ledger.PurposeSummary) {
	sectionTitle(pdf, "By Purpose")
	if len(purposes) == 0 {
		emptyNote(pdf)
		return
	}

	widths := []float64{54, 30, 30, 30, 30}
	tableHeader(pdf, widths, []string{"Purpose", "Calls", "Tokens", "Bytes saved", "Est. USD"})
	for i, p := range purposes {
		tableRow(pdf, widths, []string{
			p.Purpose,
			humanize.Comma(p.Calls),
			humanize.Comma(p.TotalTokens),
			humanize.Comma(p.BytesSaved),
			fmt.Sprintf("$%.4f", p.EstimatedUSD),
		}, i%2 == 1)
	}
}

func writeDailyTable(pdf *fpdf.Fpdf, days []ledger.DailySummary) {
	sectionTitle(pdf, "Daily Activity")
	if len(days) == 0 {
		emptyNote(pdf)
		return
	}
	if len(days) > maxDailyRows {
		days = days[len(days)-maxDailyRows:]
	}

	widths := []float64{54, 40, 40, 40}
	tableHeader(pdf, widths, []string{"Date", "Calls", "Tokens", "Est. USD"})
	for i, d := range days {
		tableRow(pdf, widths, []string{
			d.Date,
			humanize.Comma(d.Calls),
			humanize.Comma(d.TotalTokens),
			fmt.Sprintf("$%.4f", d.EstimatedUSD),
		}, i%2 == 1)
	}
}

func emptyNote(pdf *fpdf.Fpdf) {
	pdf.SetFont("Arial", "I", 9)
	pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
	pdf.CellFormat(0, 6, "No recorded activity in this window.", "", 1, "L", false, 0, "")
}
