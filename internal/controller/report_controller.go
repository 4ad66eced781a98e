// internal/controller/report_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/receipt-report-service/internal/errors"
	"github.com/unclebandit/receipt-report-service/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReportSubmitter queues a report request and returns its id.
type ReportSubmitter interface {
	Submit(ctx context.Context, req *model.ReportRequest) (string, error)
}

type ReportController struct {
	Producer ReportSubmitter
	Log      zerolog.Logger
}

type yearlyReportBody struct {
	PropertyName string `json:"property_name" validate:"required"`
	Year         int    `json:"year" validate:"min=1900,max=2100"`
	UserEmail    string `json:"user_email" validate:"required,email"`
	UserID       int64  `json:"user_id"`
	ReportType   string `json:"report_type"`
}

type yearlyReportResponse struct {
	Message   string `json:"message"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

func (c *ReportController) Routes(r chi.Router) {
	r.Post("/api/reports/yearly", c.GenerateYearlyReport)
	r.Get("/api/reports/health", c.Health)
}

// GenerateYearlyReport validates the request and queues it. The report
// itself is emailed later by the worker.
func (c *ReportController) GenerateYearlyReport(w http.ResponseWriter, r *http.Request) {
	var body yearlyReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	body.PropertyName = strings.TrimSpace(body.PropertyName)
	body.UserEmail = strings.TrimSpace(body.UserEmail)

	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	req := &model.ReportRequest{
		PropertyName: body.PropertyName,
		Year:         body.Year,
		UserEmail:    body.UserEmail,
		UserID:       body.UserID,
		ReportType:   body.ReportType,
	}

	id, err := c.Producer.Submit(r.Context(), req)
	if err != nil {
		if appErrors.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "an identical report request is already queued")
			return
		}
		c.Log.Error().Err(err).Str("property", req.PropertyName).Msg("failed to queue report request")
		writeError(w, http.StatusBadGateway, "could not queue report request")
		return
	}

	writeJSON(w, http.StatusAccepted, yearlyReportResponse{
		Message:   fmt.Sprintf("Report generation started. You will receive the %s via email shortly.", strings.ToUpper(req.Type().Code())),
		Status:    "QUEUED",
		RequestID: id,
	})
}

func (c *ReportController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Report service is running"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", jsonName(fe.StructField())))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", jsonName(fe.StructField())))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be between 1900 and 2100", jsonName(fe.StructField())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", jsonName(fe.StructField()), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func jsonName(field string) string {
	if f, ok := reflect.TypeOf(yearlyReportBody{}).FieldByName(field); ok {
		if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag != "" {
			return tag
		}
	}
	return field
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
