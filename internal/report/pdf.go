// internal/report/pdf.go
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

var (
	tableHeaders = []string{"Date", "Description", "Amount", "Portion", "Receipt ID"}
	tableWidths  = []float64{28, 72, 26, 26, 28}
	tableAligns  = []string{"L", "L", "R", "R", "C"}
)

// PDFGenerator renders an A4 report with a summary and a line-item table.
type PDFGenerator struct {
	Now func() time.Time
}

func (g *PDFGenerator) FileExtension() string { return "pdf" }

func (g *PDFGenerator) MimeType() string { return "application/pdf" }

func (g *PDFGenerator) Generate(property *model.Property, year int, items []model.Allocation) ([]byte, error) {
	generatedAt := nowOrDefault(g.Now)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(false)
	pdf.SetMargins(15, 18, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(fmt.Sprintf("Yearly Receipt Report - %s (%d)", property.Name, year), true)
	pdf.AliasNbPages("")

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// The table header is redrawn whenever a page break happens mid-table.
	inTable := false
	pdf.SetHeaderFunc(func() {
		if inTable {
			drawTableHeader(pdf)
		}
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 14, "Yearly Receipt Report", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	labelled := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, tr(value), "", 1, "L", false, 0, "")
	}
	labelled("Property:", property.Name)
	labelled("Address:", property.Address())
	labelled("Year:", strconv.Itoa(year))
	labelled("Report Generated:", generatedAt.Format(generatedLayout))
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, "Summary:", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Total Receipts: %d", len(items)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Total Amount: $%.2f", model.TotalPortion(items)), "", 1, "L", false, 0, "")
	pdf.Ln(8)

	drawTableHeader(pdf)
	inTable = true
	pdf.SetFont("Helvetica", "", 10)
	for _, item := range items {
		row := []string{
			formatDate(item.ReceiptDate),
			fitText(pdf, tr(item.Description), tableWidths[1]-2),
			fmt.Sprintf("$%.2f", item.Amount),
			fmt.Sprintf("$%.2f", item.Portion),
			strconv.FormatInt(item.ReceiptID, 10),
		}
		for i, text := range row {
			pdf.CellFormat(tableWidths[i], 8, text, "1", 0, tableAligns[i], false, 0, "")
		}
		pdf.Ln(-1)
	}
	inTable = false

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf report: %w", err)
	}
	return buf.Bytes(), nil
}

func drawTableHeader(pdf *fpdf.Fpdf) {
	pdf.SetFillColor(41, 128, 185)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 11)
	for i, h := range tableHeaders {
		pdf.CellFormat(tableWidths[i], 10, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
}

// fitText trims s with an ellipsis until it fits in width.
func fitText(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if pdf.GetStringWidth(candidate) <= width {
			return candidate
		}
	}
	return ""
}
