// internal/report/registry.go
package report

import (
	"fmt"
	"time"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

// Registry maps report formats to their generators.
type Registry struct {
	PDF Generator
	CSV Generator
}

// NewRegistry wires the built-in generators against the given clock.
func NewRegistry(now func() time.Time) *Registry {
	return &Registry{
		PDF: &PDFGenerator{Now: now},
		CSV: &CSVGenerator{Now: now},
	}
}

// Resolve picks a generator for an external format code. Unknown and empty
// codes get the PDF generator.
func (r *Registry) Resolve(code string) (Generator, error) {
	return r.ForType(model.ParseReportType(code))
}

// ForType returns the generator registered for t.
func (r *Registry) ForType(t model.ReportType) (Generator, error) {
	var g Generator
	switch t {
	case model.ReportTypePDF:
		g = r.PDF
	case model.ReportTypeCSV:
		g = r.CSV
	default:
		return nil, fmt.Errorf("unsupported report type %q", t)
	}
	if g == nil {
		return nil, fmt.Errorf("no generator registered for report type %q", t)
	}
	return g, nil
}
