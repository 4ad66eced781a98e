package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/receipt-report-service/internal/model"
)

// PropertyRepositoryInterface defines the lookups the report consumer needs
type PropertyRepositoryInterface interface {
	ListAll(ctx context.Context) ([]model.Property, error)
	ListAllocations(ctx context.Context, propertyID int64) ([]model.Allocation, error)
}

// PropertyRepository reads properties and their receipt allocations from Postgres
type PropertyRepository struct {
	DB *sqlx.DB
}

const listPropertiesQuery = `
	SELECT id, name, COALESCE(alias, '') AS alias, street_number, street_name,
	       COALESCE(unit, '') AS unit, city, state, zip_code
	FROM properties
	ORDER BY id
`

const listAllocationsQuery = `
	SELECT r.id AS receipt_id,
	       COALESCE(r.description, '') AS description,
	       r.amount,
	       r.receipt_date,
	       r.receipt_year,
	       pr.portion,
	       pr.percentage,
	       COALESCE(rs.retailer_name, '') AS source_name
	FROM property_receipts pr
	JOIN receipts r ON r.id = pr.receipt_id
	LEFT JOIN receipt_sources rs ON rs.id = r.receipt_source_id
	WHERE pr.property_id = $1
	ORDER BY r.receipt_date, r.id
`

// ListAll fetches every property ordered by id
func (r *PropertyRepository) ListAll(ctx context.Context) ([]model.Property, error) {
	properties := []model.Property{}
	if err := r.DB.SelectContext(ctx, &properties, listPropertiesQuery); err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return properties, nil
}

// ListAllocations fetches every receipt share assigned to a property, all years
func (r *PropertyRepository) ListAllocations(ctx context.Context, propertyID int64) ([]model.Allocation, error) {
	items := []model.Allocation{}
	if err := r.DB.SelectContext(ctx, &items, listAllocationsQuery, propertyID); err != nil {
		return nil, fmt.Errorf("list allocations for property %d: %w", propertyID, err)
	}
	return items, nil
}
