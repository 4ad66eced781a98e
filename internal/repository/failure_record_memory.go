package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

// MemoryFailureRecordRepository keeps failure records in process. Used by
// tests and by in-process pipelines that run without Postgres.
type MemoryFailureRecordRepository struct {
	mu      sync.RWMutex
	records map[int64]*model.FailureRecord
	nextID  int64
	Now     func() time.Time
}

func NewMemoryFailureRecordRepository() *MemoryFailureRecordRepository {
	return &MemoryFailureRecordRepository{records: make(map[int64]*model.FailureRecord)}
}

func (m *MemoryFailureRecordRepository) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *MemoryFailureRecordRepository) Create(ctx context.Context, propertyName string, year *int, errorMessage string, failedAt time.Time) (*model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec := &model.FailureRecord{
		ID:              m.nextID,
		PropertyName:    propertyName,
		Year:            copyInt(year),
		ErrorMessage:    errorMessage,
		FailedTimestamp: failedAt.UTC(),
		CreatedAt:       m.now(),
		Status:          model.FailureStatusPending,
	}
	m.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (m *MemoryFailureRecordRepository) GetByID(ctx context.Context, id int64) (*model.FailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (m *MemoryFailureRecordRepository) List(ctx context.Context, filter model.FailureRecordFilter) ([]model.FailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.FailureRecord{}
	for _, rec := range m.records {
		if matches(rec, filter) {
			out = append(out, *cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matches(rec *model.FailureRecord, f model.FailureRecordFilter) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if name := strings.TrimSpace(f.PropertyName); name != "" && !strings.EqualFold(rec.PropertyName, name) {
		return false
	}
	if f.Year != nil && (rec.Year == nil || *rec.Year != *f.Year) {
		return false
	}
	if !f.CreatedFrom.IsZero() && rec.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && rec.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}

func (m *MemoryFailureRecordRepository) Resolve(ctx context.Context, id int64, resolution string) (*model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	now := m.now()
	rec.Status = model.FailureStatusResolved
	rec.Resolution = &resolution
	rec.ResolvedAt = &now
	return cloneRecord(rec), nil
}

func (m *MemoryFailureRecordRepository) Archive(ctx context.Context, id int64) (*model.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	rec.Status = model.FailureStatusArchived
	return cloneRecord(rec), nil
}

func (m *MemoryFailureRecordRepository) Delete(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *MemoryFailureRecordRepository) Count(ctx context.Context, status model.FailureStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if status == "" {
		return len(m.records), nil
	}
	n := 0
	for _, rec := range m.records {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}

func cloneRecord(rec *model.FailureRecord) *model.FailureRecord {
	out := *rec
	out.Year = copyInt(rec.Year)
	if rec.Resolution != nil {
		s := *rec.Resolution
		out.Resolution = &s
	}
	if rec.ResolvedAt != nil {
		t := *rec.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
