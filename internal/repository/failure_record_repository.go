package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

const failureRecordsTable = "failure_records"

var failureRecordColumns = []string{
	"id", "property_name", "year", "error_message", "failed_timestamp",
	"created_at", "status", "resolution", "resolved_at",
}

// FailureRecordRepositoryInterface stores report requests that exhausted
// their retries. Lookups on a missing id return nil (or false) with no error.
type FailureRecordRepositoryInterface interface {
	Create(ctx context.Context, propertyName string, year *int, errorMessage string, failedAt time.Time) (*model.FailureRecord, error)
	GetByID(ctx context.Context, id int64) (*model.FailureRecord, error)
	List(ctx context.Context, filter model.FailureRecordFilter) ([]model.FailureRecord, error)
	Resolve(ctx context.Context, id int64, resolution string) (*model.FailureRecord, error)
	Archive(ctx context.Context, id int64) (*model.FailureRecord, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Count(ctx context.Context, status model.FailureStatus) (int, error)
}

// FailureRecordRepository is the Postgres implementation
type FailureRecordRepository struct {
	DB  *sqlx.DB
	Now func() time.Time
}

func (r *FailureRecordRepository) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Create inserts a PENDING record
func (r *FailureRecordRepository) Create(ctx context.Context, propertyName string, year *int, errorMessage string, failedAt time.Time) (*model.FailureRecord, error) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(failureRecordsTable).
		Cols("property_name", "year", "error_message", "failed_timestamp", "created_at", "status").
		Values(propertyName, year, errorMessage, failedAt.UTC(), r.now(), string(model.FailureStatusPending)).
		Returning(failureRecordColumns...)

	query, args := ib.Build()
	var rec model.FailureRecord
	if err := r.DB.QueryRowxContext(ctx, query, args...).StructScan(&rec); err != nil {
		return nil, fmt.Errorf("create failure record: %w", err)
	}
	return &rec, nil
}

// GetByID returns nil when the record does not exist
func (r *FailureRecordRepository) GetByID(ctx context.Context, id int64) (*model.FailureRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(failureRecordColumns...).From(failureRecordsTable).Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rec model.FailureRecord
	err := r.DB.GetContext(ctx, &rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failure record %d: %w", id, err)
	}
	return &rec, nil
}

// List returns matching records, newest first
func (r *FailureRecordRepository) List(ctx context.Context, filter model.FailureRecordFilter) ([]model.FailureRecord, error) {
	query, args := buildListQuery(filter)
	records := []model.FailureRecord{}
	if err := r.DB.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list failure records: %w", err)
	}
	return records, nil
}

func buildListQuery(filter model.FailureRecordFilter) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(failureRecordColumns...).From(failureRecordsTable)

	var where []string
	if filter.Status != "" {
		where = append(where, sb.Equal("status", string(filter.Status)))
	}
	if name := strings.TrimSpace(filter.PropertyName); name != "" {
		where = append(where, fmt.Sprintf("LOWER(property_name) = LOWER(%s)", sb.Var(name)))
	}
	if filter.Year != nil {
		where = append(where, sb.Equal("year", *filter.Year))
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, sb.GreaterEqualThan("created_at", filter.CreatedFrom.UTC()))
	}
	if !filter.CreatedTo.IsZero() {
		where = append(where, sb.LessEqualThan("created_at", filter.CreatedTo.UTC()))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at").Desc()

	return sb.Build()
}

// Resolve marks a record RESOLVED. Returns nil if the id is unknown.
func (r *FailureRecordRepository) Resolve(ctx context.Context, id int64, resolution string) (*model.FailureRecord, error) {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(failureRecordsTable).
		Set(
			ub.Assign("status", string(model.FailureStatusResolved)),
			ub.Assign("resolution", resolution),
			ub.Assign("resolved_at", r.now()),
		).
		Where(ub.Equal("id", id))
	return r.updateReturning(ctx, ub, id)
}

// Archive marks a record ARCHIVED. Returns nil if the id is unknown.
func (r *FailureRecordRepository) Archive(ctx context.Context, id int64) (*model.FailureRecord, error) {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(failureRecordsTable).
		Set(ub.Assign("status", string(model.FailureStatusArchived))).
		Where(ub.Equal("id", id))
	return r.updateReturning(ctx, ub, id)
}

func (r *FailureRecordRepository) updateReturning(ctx context.Context, ub *sqlbuilder.UpdateBuilder, id int64) (*model.FailureRecord, error) {
	ub.SQL("RETURNING " + strings.Join(failureRecordColumns, ", "))

	query, args := ub.Build()
	var rec model.FailureRecord
	err := r.DB.QueryRowxContext(ctx, query, args...).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update failure record %d: %w", id, err)
	}
	return &rec, nil
}

// Delete reports whether a row was removed
func (r *FailureRecordRepository) Delete(ctx context.Context, id int64) (bool, error) {
	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(failureRecordsTable).Where(db.Equal("id", id))

	query, args := db.Build()
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete failure record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete failure record %d: %w", id, err)
	}
	return n > 0, nil
}

// Count counts records in a status; an empty status counts everything
func (r *FailureRecordRepository) Count(ctx context.Context, status model.FailureStatus) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)").From(failureRecordsTable)
	if status != "" {
		sb.Where(sb.Equal("status", string(status)))
	}

	query, args := sb.Build()
	var n int
	if err := r.DB.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count failure records: %w", err)
	}
	return n, nil
}
