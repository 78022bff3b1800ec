package service

import (
	"context"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
)

// Transactor runs fn in a transaction carried by ctx. Nested calls join the
// transaction that is already open. *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ItemStore persists stock items
type ItemStore interface {
	Create(ctx context.Context, item *repository.StockItem) error
	GetByID(ctx context.Context, id string) (*repository.StockItem, error)
	GetByIDForUpdate(ctx context.Context, id string) (*repository.StockItem, error)
	ExistsByReference(ctx context.Context, reference string) (bool, error)
	List(ctx context.Context, filter repository.ItemFilter, page, perPage int) ([]*repository.StockItem, int64, error)
	ListBelowThreshold(ctx context.Context) ([]*repository.StockItem, error)
	Update(ctx context.Context, item *repository.StockItem) error
	Delete(ctx context.Context, id string) error
}

// MovementStore is the append-only ledger
type MovementStore interface {
	Create(ctx context.Context, m *repository.Movement) error
	ListByItem(ctx context.Context, itemID string, page, perPage int) ([]*repository.Movement, int64, error)
	ListByItemChronological(ctx context.Context, itemID string) ([]*repository.Movement, error)
	ListByAllocation(ctx context.Context, allocationID string) ([]*repository.Movement, error)
	CountByItem(ctx context.Context, itemID string) (int64, error)
	CountByAllocation(ctx context.Context, allocationID string) (int64, error)
}

// AllocationStore persists allocation records
type AllocationStore interface {
	Create(ctx context.Context, a *repository.AllocationRecord) error
	GetByID(ctx context.Context, id string) (*repository.AllocationRecord, error)
	GetByIDForUpdate(ctx context.Context, id string) (*repository.AllocationRecord, error)
	ListByWorkItem(ctx context.Context, wi repository.WorkItem) ([]*repository.AllocationRecord, error)
	CountByItem(ctx context.Context, itemID string) (int64, error)
	Update(ctx context.Context, a *repository.AllocationRecord) error
	Delete(ctx context.Context, id string) error
}

// NotificationStore persists notifications
type NotificationStore interface {
	Create(ctx context.Context, n *repository.Notification) error
	// CreateStockAlert inserts n unless the recipient has an unread stock
	// alert for the same item, and reports whether it did
	CreateStockAlert(ctx context.Context, n *repository.Notification) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, page, perPage int) ([]*repository.Notification, int64, error)
	MarkRead(ctx context.Context, id, recipientID string) (*repository.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
}

// RecipientDirectory resolves who receives notifications
type RecipientDirectory interface {
	ListByRoles(ctx context.Context, roles []string) ([]*repository.Recipient, error)
}

// NotificationSink delivers a persisted notification outside the service.
// It is only called after the transaction that created the notification
// has committed.
type NotificationSink interface {
	Send(ctx context.Context, n *repository.Notification) error
}

// Stores groups the persistence dependencies shared by the services
type Stores struct {
	Tx            Transactor
	Items         ItemStore
	Movements     MovementStore
	Allocations   AllocationStore
	Notifications NotificationStore
	Recipients    RecipientDirectory
}
