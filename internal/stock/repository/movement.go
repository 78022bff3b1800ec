package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stockflow/stockflow-backend/pkg/database"
)

const movementColumns = `id, seq, stock_item_id, kind, quantity, quantity_delta, unit_price, total_price,
	reference, notes, work_item_type, work_item_id, project_id, supplier_id, allocation_id,
	performed_by, created_at`

// MovementRepository persists the append-only movement ledger.
// It deliberately has no update or delete.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Create appends a movement
func (r *MovementRepository) Create(ctx context.Context, m *Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movement (
			id, stock_item_id, kind, quantity, quantity_delta, unit_price, total_price,
			reference, notes, work_item_type, work_item_id, project_id, supplier_id, allocation_id,
			performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING seq, created_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		m.ID, m.StockItemID, m.Kind, m.Quantity, m.QuantityDelta, m.UnitPrice, m.TotalPrice,
		m.Reference, m.Notes, m.WorkItemType, m.WorkItemID, m.ProjectID, m.SupplierID, m.AllocationID,
		m.PerformedBy,
	).Scan(&m.Seq, &m.CreatedAt)

	return mapErr(err)
}

// ListByItem returns a page of an item's movements, newest first
func (r *MovementRepository) ListByItem(ctx context.Context, itemID string, page, perPage int) ([]*Movement, int64, error) {
	total, err := r.CountByItem(ctx, itemID)
	if err != nil {
		return nil, 0, err
	}

	var movements []*Movement
	query := `SELECT ` + movementColumns + ` FROM stock_movement
		WHERE stock_item_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.Querier(ctx).SelectContext(ctx, &movements, query, itemID, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}

	return movements, total, nil
}

// ListByItemChronological returns every movement of an item in replay order
func (r *MovementRepository) ListByItemChronological(ctx context.Context, itemID string) ([]*Movement, error) {
	var movements []*Movement
	query := `SELECT ` + movementColumns + ` FROM stock_movement
		WHERE stock_item_id = $1
		ORDER BY created_at, seq`
	if err := r.db.Querier(ctx).SelectContext(ctx, &movements, query, itemID); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListByAllocation returns the movements posted for an allocation record
func (r *MovementRepository) ListByAllocation(ctx context.Context, allocationID string) ([]*Movement, error) {
	var movements []*Movement
	query := `SELECT ` + movementColumns + ` FROM stock_movement
		WHERE allocation_id = $1
		ORDER BY created_at, seq`
	if err := r.db.Querier(ctx).SelectContext(ctx, &movements, query, allocationID); err != nil {
		return nil, err
	}
	return movements, nil
}

// CountByItem counts the movements of an item
func (r *MovementRepository) CountByItem(ctx context.Context, itemID string) (int64, error) {
	var count int64
	err := r.db.Querier(ctx).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM stock_movement WHERE stock_item_id = $1`, itemID)
	return count, err
}

// CountByAllocation counts the movements posted for an allocation record
func (r *MovementRepository) CountByAllocation(ctx context.Context, allocationID string) (int64, error) {
	var count int64
	err := r.db.Querier(ctx).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM stock_movement WHERE allocation_id = $1`, allocationID)
	return count, err
}
