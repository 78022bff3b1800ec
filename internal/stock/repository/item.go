package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

const itemColumns = `id, reference, label, quantity, min_quantity, unit_price, unit, value, version, created_at, updated_at`

// ItemRepository handles stock item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new stock item
func (r *ItemRepository) Create(ctx context.Context, item *StockItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_item (id, reference, label, quantity, min_quantity, unit_price, unit, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		item.ID, item.Reference, item.Label, item.Quantity, item.MinQuantity, item.UnitPrice, item.Unit, item.Value,
	).Scan(&item.Version, &item.CreatedAt, &item.UpdatedAt)

	return mapErr(err)
}

// GetByID gets a stock item by ID
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*StockItem, error) {
	var item StockItem
	query := `SELECT ` + itemColumns + ` FROM stock_item WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &item, query, id); err != nil {
		return nil, notFound(err, "stock item")
	}
	return &item, nil
}

// GetByIDForUpdate gets a stock item and locks its row until the enclosing
// transaction ends
func (r *ItemRepository) GetByIDForUpdate(ctx context.Context, id string) (*StockItem, error) {
	var item StockItem
	query := `SELECT ` + itemColumns + ` FROM stock_item WHERE id = $1 FOR UPDATE`
	if err := r.db.Querier(ctx).GetContext(ctx, &item, query, id); err != nil {
		return nil, notFound(err, "stock item")
	}
	return &item, nil
}

// ExistsByReference reports whether a reference is already taken
func (r *ItemRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.db.Querier(ctx).GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM stock_item WHERE reference = $1)`, reference)
	return exists, err
}

// List lists stock items matching the filter, ordered by reference
func (r *ItemRepository) List(ctx context.Context, filter ItemFilter, page, perPage int) ([]*StockItem, int64, error) {
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(reference ILIKE $%d OR label ILIKE $%d)", len(args), len(args)))
	}
	if filter.BelowThreshold {
		conditions = append(conditions, "min_quantity > 0 AND quantity <= min_quantity")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	q := r.db.Querier(ctx)

	var total int64
	if err := q.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_item`+where, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := fmt.Sprintf(`SELECT %s FROM stock_item%s ORDER BY reference LIMIT $%d OFFSET $%d`,
		itemColumns, where, len(args)+1, len(args)+2)

	var items []*StockItem
	if err := q.SelectContext(ctx, &items, query, append(args, perPage, offset)...); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// ListBelowThreshold lists every item whose quantity reached its minimum
func (r *ItemRepository) ListBelowThreshold(ctx context.Context) ([]*StockItem, error) {
	var items []*StockItem
	query := `SELECT ` + itemColumns + ` FROM stock_item
		WHERE min_quantity > 0 AND quantity <= min_quantity
		ORDER BY reference`
	if err := r.db.Querier(ctx).SelectContext(ctx, &items, query); err != nil {
		return nil, err
	}
	return items, nil
}

// Update writes every mutable field when the stored version still matches.
// A stale version yields ErrConcurrentUpdate.
func (r *ItemRepository) Update(ctx context.Context, item *StockItem) error {
	query := `
		UPDATE stock_item
		SET label = $2, quantity = $3, min_quantity = $4, unit_price = $5, unit = $6, value = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $8
		RETURNING version, updated_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		item.ID, item.Label, item.Quantity, item.MinQuantity, item.UnitPrice, item.Unit, item.Value, item.Version,
	).Scan(&item.Version, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("stock item %s: %w", item.ID, errors.ErrConcurrentUpdate)
	}
	return mapErr(err)
}

// Delete removes a stock item. Items referenced by movements or
// allocations are protected by foreign keys.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Querier(ctx).ExecContext(ctx, `DELETE FROM stock_item WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("stock item")
	}

	return nil
}
