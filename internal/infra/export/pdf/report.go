// Package pdf renders a report as a printable document.
package pdf

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
)

// Render writes r to w as an A4 PDF.
func Render(w io.Writer, r *domain.Report) error {
	rep := r.Clone()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Skin lesion report "+string(rep.ID), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Skin Lesion Report")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	line(pdf, "Report", string(rep.ID))
	line(pdf, "Patient", rep.UserID)
	line(pdf, "Created", rep.CreatedAt.Format("02-01-2006 15:04 MST"))
	line(pdf, "Status", string(rep.State))
	pdf.Ln(4)

	if d := rep.Diagnosis; d != nil {
		v := diagnosis.Describe(*d)
		pdf.SetFont("Arial", "B", 14)
		pdf.Cell(0, 10, "Result")
		pdf.Ln(10)

		pdf.SetFont("Arial", "", 12)
		line(pdf, "Finding", v.CancerLabel)
		line(pdf, "Confidence", fmt.Sprintf("%.1f%%", d.Confidence*100))

		rr, gg, bb := hexColor(v.RiskColor)
		pdf.SetFillColor(rr, gg, bb)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(60, 8, " Risk: "+v.RiskLabel, "", 1, "L", true, 0, "")
		pdf.SetTextColor(0, 0, 0)
		if d.Inconclusive {
			pdf.SetFont("Arial", "I", 11)
			pdf.Cell(0, 8, "Low confidence result. A clinical examination is recommended.")
			pdf.Ln(8)
		}
		pdf.Ln(2)

		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Class scores")
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 11)
		for _, t := range sortedTypes(d.Scores) {
			pdf.Cell(0, 7, fmt.Sprintf("  %s: %.1f%%", t.Label(), d.Scores[t]*100))
			pdf.Ln(6)
		}
		pdf.Ln(4)
	}

	if len(rep.SharedWithDoctors) > 0 {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Shared with")
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 11)
		for _, doc := range rep.SharedWithDoctors {
			pdf.Cell(0, 7, "  "+doc)
			pdf.Ln(6)
		}
		pdf.Ln(4)
	}

	if rep.DoctorFeedback != nil {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Doctor feedback")
		pdf.Ln(8)
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 6, *rep.DoctorFeedback, "", "L", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Arial", "I", 9)
	pdf.MultiCell(0, 5, diagnosis.Disclaimer, "T", "L", false)

	return pdf.Output(w)
}

func line(pdf *gofpdf.Fpdf, label, value string) {
	pdf.Cell(0, 8, fmt.Sprintf("%s: %s", label, value))
	pdf.Ln(7)
}

// sortedTypes orders classes by descending score.
func sortedTypes(s diagnosis.Scores) []diagnosis.CancerType {
	out := make([]diagnosis.CancerType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if s[out[i]] != s[out[j]] {
			return s[out[i]] > s[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func hexColor(h string) (int, int, int) {
	if len(h) != 7 || h[0] != '#' {
		return 117, 117, 117
	}
	v, err := strconv.ParseUint(h[1:], 16, 32)
	if err != nil {
		return 117, 117, 117
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
