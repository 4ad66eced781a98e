// internal/report/csv.go
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

const utf8BOM = "\ufeff"

// CSVGenerator writes the report as a spreadsheet-friendly CSV file. The
// leading BOM keeps Excel from guessing the wrong encoding.
type CSVGenerator struct {
	Now func() time.Time
}

func (g *CSVGenerator) FileExtension() string { return "csv" }

func (g *CSVGenerator) MimeType() string { return "text/csv" }

func (g *CSVGenerator) Generate(property *model.Property, year int, items []model.Allocation) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)

	w := csv.NewWriter(&buf)
	rows := [][]string{
		{"YEARLY RECEIPT REPORT"},
		{},
		{"Property Details"},
		{"Property Name", property.Name},
		{"Address", property.Address()},
		{"Year", strconv.Itoa(year)},
		{"Report Generated", nowOrDefault(g.Now).Format(generatedLayout)},
		{},
		{"Summary"},
		{"Total Receipts", strconv.Itoa(len(items))},
		{"Total Amount", fmt.Sprintf("%.2f", model.TotalPortion(items))},
		{},
		{"Receipt Details"},
		{"Date", "Description", "Amount", "Portion", "Receipt ID", "Receipt Source"},
	}
	for _, item := range items {
		rows = append(rows, []string{
			formatDate(item.ReceiptDate),
			item.Description,
			fmt.Sprintf("%.2f", item.Amount),
			fmt.Sprintf("%.2f", item.Portion),
			strconv.FormatInt(item.ReceiptID, 10),
			item.SourceName,
		})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv report: %w", err)
	}
	return buf.Bytes(), nil
}
