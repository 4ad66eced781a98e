package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/receipt-report-service/internal/controller"
	appErrors "github.com/unclebandit/receipt-report-service/internal/errors"
	"github.com/unclebandit/receipt-report-service/internal/model"
)

type mockProducer struct {
	got *model.ReportRequest
	err error
}

func (m *mockProducer) Submit(ctx context.Context, req *model.ReportRequest) (string, error) {
	m.got = req
	if m.err != nil {
		return "", m.err
	}
	return "req-123", nil
}

func serve(t *testing.T, producer *mockProducer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	(&controller.ReportController{Producer: producer}).Routes(r)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerateYearlyReportAccepted(t *testing.T) {
	producer := &mockProducer{}
	w := serve(t, producer, http.MethodPost, "/api/reports/yearly",
		`{"property_name":" Main Building ","year":2024,"user_email":"owner@example.com","user_id":7,"report_type":"csv"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "QUEUED", resp["status"])
	assert.Equal(t, "req-123", resp["request_id"])
	assert.Contains(t, resp["message"], "CSV")

	require.NotNil(t, producer.got)
	assert.Equal(t, "Main Building", producer.got.PropertyName)
	assert.Equal(t, 2024, producer.got.Year)
	assert.Equal(t, int64(7), producer.got.UserID)
	assert.Equal(t, "csv", producer.got.ReportType)
}

func TestGenerateYearlyReportValidation(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"missing name":  {`{"year":2024,"user_email":"owner@example.com"}`, "property_name is required"},
		"year too low":  {`{"property_name":"A","year":1800,"user_email":"owner@example.com"}`, "year must be between 1900 and 2100"},
		"year too high": {`{"property_name":"A","year":2101,"user_email":"owner@example.com"}`, "year must be between 1900 and 2100"},
		"bad email":     {`{"property_name":"A","year":2024,"user_email":"nope"}`, "user_email must be a valid email address"},
		"bad json":      {`{"property_name":`, "invalid request body"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			producer := &mockProducer{}
			w := serve(t, producer, http.MethodPost, "/api/reports/yearly", tc.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
			assert.Nil(t, producer.got, "nothing is queued")
		})
	}
}

func TestGenerateYearlyReportDuplicate(t *testing.T) {
	producer := &mockProducer{err: appErrors.NewDuplicateRequest("k")}
	w := serve(t, producer, http.MethodPost, "/api/reports/yearly",
		`{"property_name":"Main Building","year":2024,"user_email":"owner@example.com"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGenerateYearlyReportPublishFailure(t *testing.T) {
	producer := &mockProducer{err: errors.New("publish report request: broker nacked")}
	w := serve(t, producer, http.MethodPost, "/api/reports/yearly",
		`{"property_name":"Main Building","year":2024,"user_email":"owner@example.com"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "nacked")
}

func TestHealth(t *testing.T) {
	w := serve(t, &mockProducer{}, http.MethodGet, "/api/reports/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Report service is running")
}
