// internal/report/generator.go
package report

import (
	"fmt"
	"time"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

const generatedLayout = "2006-01-02 15:04:05"

// Generator renders a yearly receipt report in one output format.
type Generator interface {
	Generate(property *model.Property, year int, items []model.Allocation) ([]byte, error)
	FileExtension() string
	MimeType() string
}

// RenderedReport is the output of a generator together with what the mail
// attachment needs to describe it.
type RenderedReport struct {
	Content   []byte
	Extension string
	MimeType  string
}

// Render runs g and packages its output.
func Render(g Generator, property *model.Property, year int, items []model.Allocation) (*RenderedReport, error) {
	if property == nil {
		return nil, fmt.Errorf("render report: property is nil")
	}
	content, err := g.Generate(property, year, items)
	if err != nil {
		return nil, err
	}
	return &RenderedReport{
		Content:   content,
		Extension: g.FileExtension(),
		MimeType:  g.MimeType(),
	}, nil
}

func nowOrDefault(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
