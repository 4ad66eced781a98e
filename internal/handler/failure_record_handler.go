// internal/handler/failure_record_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/receipt-report-service/internal/model"
	"github.com/unclebandit/receipt-report-service/internal/repository"
)

// FailureRecordHandler exposes the failure store for operators.
type FailureRecordHandler struct {
	Repo repository.FailureRecordRepositoryInterface
	Log  zerolog.Logger
}

func NewFailureRecordHandler(repo repository.FailureRecordRepositoryInterface, log zerolog.Logger) *FailureRecordHandler {
	return &FailureRecordHandler{Repo: repo, Log: log}
}

func (h *FailureRecordHandler) Routes(r chi.Router) {
	r.Route("/api/failure-reports", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/pending", h.ListPending)
		r.Get("/pending/count", h.CountPending)
		r.Get("/{id}", h.Get)
		r.Put("/{id}/resolve", h.Resolve)
		r.Put("/{id}/archive", h.Archive)
		r.Delete("/{id}", h.Delete)
	})
}

// List returns failure records, newest first. Supported query parameters are
// status, property, year, start and end (RFC3339).
func (h *FailureRecordHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.Repo.List(r.Context(), filter)
	if err != nil {
		h.internalError(w, err, "list failure records")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (h *FailureRecordHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.Repo.List(r.Context(), model.FailureRecordFilter{Status: model.FailureStatusPending})
	if err != nil {
		h.internalError(w, err, "list pending failure records")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (h *FailureRecordHandler) CountPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.Repo.Count(r.Context(), model.FailureStatusPending)
	if err != nil {
		h.internalError(w, err, "count pending failure records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *FailureRecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		h.internalError(w, err, "get failure record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "failure record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Resolve takes the resolution text from the "resolution" query parameter,
// falling back to a JSON body {"resolution": "..."}.
func (h *FailureRecordHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	resolution := strings.TrimSpace(r.URL.Query().Get("resolution"))
	if resolution == "" {
		var body struct {
			Resolution string `json:"resolution"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		resolution = strings.TrimSpace(body.Resolution)
	}
	if resolution == "" {
		writeError(w, http.StatusBadRequest, "resolution is required")
		return
	}

	rec, err := h.Repo.Resolve(r.Context(), id, resolution)
	if err != nil {
		h.internalError(w, err, "resolve failure record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "failure record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *FailureRecordHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.Repo.Archive(r.Context(), id)
	if err != nil {
		h.internalError(w, err, "archive failure record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "failure record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *FailureRecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	deleted, err := h.Repo.Delete(r.Context(), id)
	if err != nil {
		h.internalError(w, err, "delete failure record")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "failure record not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FailureRecordHandler) internalError(w http.ResponseWriter, err error, op string) {
	h.Log.Error().Err(err).Str("op", op).Msg("failure record store error")
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid failure record id")
		return 0, false
	}
	return id, true
}

func parseFilter(r *http.Request) (model.FailureRecordFilter, error) {
	q := r.URL.Query()
	var f model.FailureRecordFilter

	if s := q.Get("status"); s != "" {
		status, ok := model.ParseFailureStatus(s)
		if !ok {
			return f, errors.New("unknown status: " + s)
		}
		f.Status = status
	}
	f.PropertyName = strings.TrimSpace(q.Get("property"))

	if s := q.Get("year"); s != "" {
		year, err := strconv.Atoi(s)
		if err != nil {
			return f, errors.New("year must be a number")
		}
		f.Year = &year
	}

	var err error
	if f.CreatedFrom, err = parseTime(q.Get("start")); err != nil {
		return f, errors.New("start must be an RFC3339 timestamp")
	}
	if f.CreatedTo, err = parseTime(q.Get("end")); err != nil {
		return f, errors.New("end must be an RFC3339 timestamp")
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func nonNil(records []model.FailureRecord) []model.FailureRecord {
	if records == nil {
		return []model.FailureRecord{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
