package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

const allocationColumns = `id, work_item_type, work_item_id, project_id, stock_item_id,
	estimated_quantity, additional_quantity, actual_quantity_used, remaining_quantity,
	return_to_stock, justification_shortage, unit_type, status, consumption_assumed, notes,
	settled_at, version, created_by, created_at, updated_at`

// AllocationRepository handles allocation record persistence
type AllocationRepository struct {
	db *database.DB
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *database.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// Create inserts a new allocation record
func (r *AllocationRepository) Create(ctx context.Context, a *AllocationRecord) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO allocation_record (
			id, work_item_type, work_item_id, project_id, stock_item_id,
			estimated_quantity, additional_quantity, actual_quantity_used, remaining_quantity,
			return_to_stock, justification_shortage, unit_type, status, consumption_assumed, notes,
			created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING version, created_at, updated_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		a.ID, a.WorkItemType, a.WorkItemID, a.ProjectID, a.StockItemID,
		a.EstimatedQuantity, a.AdditionalQuantity, a.ActualQuantityUsed, a.RemainingQuantity,
		a.ReturnToStock, a.JustificationShortage, a.UnitType, a.Status, a.ConsumptionAssumed, a.Notes,
		a.CreatedBy,
	).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)

	return mapErr(err)
}

// GetByID gets an allocation record by ID
func (r *AllocationRepository) GetByID(ctx context.Context, id string) (*AllocationRecord, error) {
	var a AllocationRecord
	query := `SELECT ` + allocationColumns + ` FROM allocation_record WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &a, query, id); err != nil {
		return nil, notFound(err, "allocation record")
	}
	return &a, nil
}

// GetByIDForUpdate gets an allocation record and locks its row
func (r *AllocationRepository) GetByIDForUpdate(ctx context.Context, id string) (*AllocationRecord, error) {
	var a AllocationRecord
	query := `SELECT ` + allocationColumns + ` FROM allocation_record WHERE id = $1 FOR UPDATE`
	if err := r.db.Querier(ctx).GetContext(ctx, &a, query, id); err != nil {
		return nil, notFound(err, "allocation record")
	}
	return &a, nil
}

// ListByWorkItem lists the records of one task or intervention
func (r *AllocationRepository) ListByWorkItem(ctx context.Context, wi WorkItem) ([]*AllocationRecord, error) {
	var records []*AllocationRecord
	query := `SELECT ` + allocationColumns + ` FROM allocation_record
		WHERE work_item_type = $1 AND work_item_id = $2
		ORDER BY created_at, id`
	if err := r.db.Querier(ctx).SelectContext(ctx, &records, query, wi.Type, wi.ID); err != nil {
		return nil, err
	}
	return records, nil
}

// CountByItem counts the records referencing a stock item
func (r *AllocationRepository) CountByItem(ctx context.Context, itemID string) (int64, error) {
	var count int64
	err := r.db.Querier(ctx).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM allocation_record WHERE stock_item_id = $1`, itemID)
	return count, err
}

// Update writes the record when the stored version still matches.
// A stale version yields ErrConcurrentUpdate.
func (r *AllocationRepository) Update(ctx context.Context, a *AllocationRecord) error {
	query := `
		UPDATE allocation_record
		SET project_id = $2, estimated_quantity = $3, additional_quantity = $4,
		    actual_quantity_used = $5, remaining_quantity = $6, return_to_stock = $7,
		    justification_shortage = $8, unit_type = $9, status = $10, consumption_assumed = $11,
		    notes = $12, settled_at = $13, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $14
		RETURNING version, updated_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		a.ID, a.ProjectID, a.EstimatedQuantity, a.AdditionalQuantity,
		a.ActualQuantityUsed, a.RemainingQuantity, a.ReturnToStock,
		a.JustificationShortage, a.UnitType, a.Status, a.ConsumptionAssumed,
		a.Notes, a.SettledAt, a.Version,
	).Scan(&a.Version, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("allocation record %s: %w", a.ID, errors.ErrConcurrentUpdate)
	}
	return mapErr(err)
}

// Delete removes an allocation record
func (r *AllocationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Querier(ctx).ExecContext(ctx, `DELETE FROM allocation_record WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("allocation record")
	}

	return nil
}
