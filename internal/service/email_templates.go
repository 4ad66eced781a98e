// internal/service/email_templates.go
package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

var templateFuncs = template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("$%.2f", v) },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"upper": strings.ToUpper,
}

var reportEmailTemplate = template.Must(template.New("report").Funcs(templateFuncs).Parse(`<html><body style="font-family: Arial, sans-serif;">
<div style="max-width: 600px; margin: 0 auto;">
<h2 style="color: #2980b9;">Yearly Receipt Report ({{.Code}})</h2>
<p><strong>Property:</strong> {{.Property.Name}}</p>
<p><strong>Address:</strong> {{.Property.Address}}</p>
<p><strong>Year:</strong> {{.Year}}</p>
<p><strong>Report Type:</strong> {{.Code}}</p>
<p><strong>Generated:</strong> {{.Generated}}</p>
<hr>
<h3>Summary</h3>
<p><strong>Total Receipts:</strong> {{len .Items}}</p>
<p><strong>Total Amount:</strong> {{money .Total}}</p>
<hr>
<h3>Receipt Details</h3>
<table style="width: 100%; border-collapse: collapse; margin-top: 20px;">
<thead style="background-color: #2980b9; color: white;">
<tr><th style="padding: 10px; text-align: left;">Date</th><th style="padding: 10px; text-align: left;">Description</th><th style="padding: 10px; text-align: right;">Amount</th><th style="padding: 10px; text-align: right;">Portion</th></tr>
</thead>
<tbody>
{{- range .Items}}
<tr><td style="padding: 8px;">{{date .ReceiptDate}}</td><td style="padding: 8px;">{{.Description}}</td><td style="padding: 8px; text-align: right;">{{money .Amount}}</td><td style="padding: 8px; text-align: right;">{{money .Portion}}</td></tr>
{{- end}}
</tbody>
</table>
<hr>
<p style="font-size: 12px; color: #666;"><em>This is an automated report generated by the Receipt System. Please see the attached {{upper .Code}} for the detailed report.</em></p>
</div>
</body></html>`))

var errorEmailTemplate = template.Must(template.New("error").Parse(`<html><body style="font-family: Arial, sans-serif;">
<div style="max-width: 600px; margin: 0 auto;">
<h2 style="color: #e74c3c;">Report Generation Error</h2>
<p><strong>Property:</strong> {{.Property}}</p>
<p><strong>Error:</strong> {{.Error}}</p>
<p><em>Please verify the property name and try again.</em></p>
</div>
</body></html>`))

type reportEmailData struct {
	Code      string
	Property  *model.Property
	Year      int
	Generated string
	Items     []model.Allocation
	Total     float64
}

func renderReportEmail(t model.ReportType, property *model.Property, year int, items []model.Allocation, generated time.Time) (string, error) {
	var buf bytes.Buffer
	err := reportEmailTemplate.Execute(&buf, reportEmailData{
		Code:      t.Code(),
		Property:  property,
		Year:      year,
		Generated: generated.Format("2006-01-02 15:04:05"),
		Items:     items,
		Total:     model.TotalPortion(items),
	})
	if err != nil {
		return "", fmt.Errorf("render report email: %w", err)
	}
	return buf.String(), nil
}

func renderErrorEmail(propertyName, message string) (string, error) {
	var buf bytes.Buffer
	err := errorEmailTemplate.Execute(&buf, struct{ Property, Error string }{propertyName, message})
	if err != nil {
		return "", fmt.Errorf("render error email: %w", err)
	}
	return buf.String(), nil
}

// reportFileName builds e.g. "Main_Building_Report_2024.pdf".
func reportFileName(propertyName string, year int, ext string) string {
	return fmt.Sprintf("%s_Report_%d.%s", strings.ReplaceAll(propertyName, " ", "_"), year, ext)
}

func reportSubject(t model.ReportType, propertyName string, year int) string {
	return fmt.Sprintf("Yearly Receipt Report (%s) - %s (%d)", t.Code(), propertyName, year)
}

func errorSubject(propertyName string) string {
	return "Report Generation Failed - " + propertyName
}
