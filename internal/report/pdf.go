package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/example/chestscan/internal/repository"
)

// Generator renders prediction records as PDF documents.
type Generator struct{}

// NewGenerator constructs a PDF report generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Record renders a single-record report.
func (g *Generator) Record(pred *repository.Prediction, username string) ([]byte, error) {
	pdf := newDocument("Chest X-ray Screening Report")

	pdf.SetFont("Helvetica", "", 11)
	writeField(pdf, "Record", pred.RecordID)
	writeField(pdf, "Requested by", username)
	writeField(pdf, "Patient", pred.PatientName)
	writeField(pdf, "Patient email", pred.PatientEmail)
	writeField(pdf, "Image", pred.ImageName)
	writeField(pdf, "Result", pred.Label)
	writeField(pdf, "Confidence", fmt.Sprintf("%.1f%%", pred.Probability*100))
	writeField(pdf, "Date", pred.CreatedAt.Format(time.RFC1123))

	return output(pdf)
}

// History renders the owner's full prediction history, newest first.
func (g *Generator) History(username string, preds []*repository.Prediction) ([]byte, error) {
	pdf := newDocument(fmt.Sprintf("Screening History - %s", username))

	pdf.SetFont("Helvetica", "B", 10)
	widths := []float64{42, 48, 30, 24, 46}
	headers := []string{"Record", "Patient", "Result", "Confidence", "Date"}
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, pred := range preds {
		cells := []string{
			pred.RecordID,
			pred.PatientName,
			pred.Label,
			fmt.Sprintf("%.1f%%", pred.Probability*100),
			pred.CreatedAt.Format("2006-01-02 15:04"),
		}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 7, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(preds) == 0 {
		pdf.Cell(0, 10, "No predictions recorded.")
	}

	return output(pdf)
}

func newDocument(title string) *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, title)
	pdf.Ln(14)
	return pdf
}

func writeField(pdf *gofpdf.Fpdf, name, value string) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(40, 8, name, "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 8, value, "", 0, "L", false, 0, "")
	pdf.Ln(8)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
