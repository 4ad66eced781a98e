package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

func TestParseReportType(t *testing.T) {
	cases := map[string]model.ReportType{
		"":      model.ReportTypePDF,
		"pdf":   model.ReportTypePDF,
		"PDF":   model.ReportTypePDF,
		"csv":   model.ReportTypeCSV,
		" CSV ": model.ReportTypeCSV,
		"xlsx":  model.ReportTypePDF,
	}
	for code, want := range cases {
		assert.Equal(t, want, model.ParseReportType(code), "code %q", code)
	}
}

func TestReportRequestDecodeWithoutType(t *testing.T) {
	var req model.ReportRequest
	err := json.Unmarshal([]byte(`{"property_name":"Main Building","year":2024,"user_email":"a@b.com","user_id":7}`), &req)
	require.NoError(t, err)

	assert.Equal(t, "Main Building", req.PropertyName)
	assert.Equal(t, 2024, req.Year)
	assert.Equal(t, int64(7), req.UserID)
	assert.Equal(t, model.ReportTypePDF, req.Type())
}

func TestDedupKeyIgnoresCase(t *testing.T) {
	a := model.ReportRequest{PropertyName: "Main Building", Year: 2024, UserEmail: "A@B.com", ReportType: "CSV"}
	b := model.ReportRequest{PropertyName: "main building ", Year: 2024, UserEmail: "a@b.com", ReportType: "csv"}
	c := model.ReportRequest{PropertyName: "Main Building", Year: 2024, UserEmail: "a@b.com"}

	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestAllocationsForYear(t *testing.T) {
	items := []model.Allocation{
		{ReceiptID: 1, Year: 2023, Portion: 10},
		{ReceiptID: 2, Year: 2024, Portion: 20},
		{ReceiptID: 3, Year: 2024, Portion: 30.5},
	}

	got := model.AllocationsForYear(items, 2024)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ReceiptID)
	assert.InDelta(t, 50.5, model.TotalPortion(got), 0.0001)
	assert.Empty(t, model.AllocationsForYear(items, 2020))
}

func TestPropertyAddress(t *testing.T) {
	p := model.Property{StreetNumber: "123", StreetName: "Main Street", City: "Boston", State: "MA", ZipCode: "02101"}
	assert.Equal(t, "123 Main Street, Boston, MA 02101", p.Address())
}
