package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

const notificationColumns = `id, recipient_id, title, message, category, is_read, stock_item_id,
	work_item_type, work_item_id, allocation_id, created_at, read_at`

// NotificationRepository handles notification persistence. Only the read
// flag of a stored notification ever changes.
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	query := `
		INSERT INTO notification (
			id, recipient_id, title, message, category, stock_item_id, work_item_type, work_item_id, allocation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING is_read, created_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Message, n.Category, n.StockItemID, n.WorkItemType, n.WorkItemID, n.AllocationID,
	).Scan(&n.IsRead, &n.CreatedAt)

	return mapErr(err)
}

// CreateStockAlert inserts a stock alert unless the recipient still has an
// unread one for the same item. It reports whether a row was inserted.
func (r *NotificationRepository) CreateStockAlert(ctx context.Context, n *Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Category = CategoryStockAlert

	query := `
		INSERT INTO notification (
			id, recipient_id, title, message, category, stock_item_id, work_item_type, work_item_id, allocation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (recipient_id, stock_item_id) WHERE category = 'stock_alert' AND NOT is_read
		DO NOTHING
		RETURNING is_read, created_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Message, n.Category, n.StockItemID, n.WorkItemType, n.WorkItemID, n.AllocationID,
	).Scan(&n.IsRead, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

// ListByRecipient returns a page of a recipient's notifications, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, page, perPage int) ([]*Notification, int64, error) {
	where := ` WHERE recipient_id = $1`
	if unreadOnly {
		where += ` AND NOT is_read`
	}

	q := r.db.Querier(ctx)

	var total int64
	if err := q.GetContext(ctx, &total, `SELECT COUNT(*) FROM notification`+where, recipientID); err != nil {
		return nil, 0, err
	}

	var notifications []*Notification
	query := `SELECT ` + notificationColumns + ` FROM notification` + where + `
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &notifications, query, recipientID, perPage, (page-1)*perPage); err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

// MarkRead flags a recipient's notification as read. Marking twice keeps
// the first read time.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) (*Notification, error) {
	var n Notification
	query := `
		UPDATE notification
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_id = $2
		RETURNING ` + notificationColumns
	if err := r.db.Querier(ctx).GetContext(ctx, &n, query, id, recipientID); err != nil {
		return nil, notFound(err, "notification")
	}
	return &n, nil
}

// CountUnread counts a recipient's unread notifications
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := r.db.Querier(ctx).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notification WHERE recipient_id = $1 AND NOT is_read`, recipientID)
	return count, err
}
