package stocktest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stretchr/testify/require"
)

// D parses a decimal literal and panics on malformed input
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ItemOption customizes a fixture stock item
type ItemOption func(*repository.StockItem)

// WithReference sets the item reference
func WithReference(ref string) ItemOption {
	return func(i *repository.StockItem) { i.Reference = ref }
}

// WithQuantity sets the on-hand quantity
func WithQuantity(q string) ItemOption {
	return func(i *repository.StockItem) { i.Quantity = D(q) }
}

// WithUnitPrice sets the unit price
func WithUnitPrice(p string) ItemOption {
	return func(i *repository.StockItem) { i.UnitPrice = D(p) }
}

// WithMinQuantity sets the low stock threshold
func WithMinQuantity(q string) ItemOption {
	return func(i *repository.StockItem) { i.MinQuantity = D(q) }
}

// AllocationOption customizes a fixture allocation record
type AllocationOption func(*repository.AllocationRecord)

// WithWorkItem sets the owning work item
func WithWorkItem(t repository.WorkItemType, id string) AllocationOption {
	return func(a *repository.AllocationRecord) { a.WorkItemType, a.WorkItemID = t, id }
}

// WithEstimated sets the estimated quantity
func WithEstimated(q string) AllocationOption {
	return func(a *repository.AllocationRecord) { a.EstimatedQuantity = D(q) }
}

// WithStatus sets the lifecycle state
func WithStatus(s repository.AllocationStatus) AllocationOption {
	return func(a *repository.AllocationRecord) { a.Status = s }
}

// FixtureFactory inserts test data straight into a MemoryStore
type FixtureFactory struct {
	store *MemoryStore
	seq   atomic.Int64
}

// NewFixtureFactory creates a fixture factory for the store
func NewFixtureFactory(store *MemoryStore) *FixtureFactory {
	return &FixtureFactory{store: store}
}

// Item stores a stock item. Defaults: quantity 0, price 1, no threshold.
func (f *FixtureFactory) Item(t testing.TB, opts ...ItemOption) *repository.StockItem {
	t.Helper()

	n := f.seq.Add(1)
	item := &repository.StockItem{
		Reference:   fmt.Sprintf("REF-%03d", n),
		Label:       fmt.Sprintf("Item %d", n),
		Quantity:    decimal.Zero,
		MinQuantity: decimal.Zero,
		UnitPrice:   decimal.NewFromInt(1),
		Unit:        "unit",
	}
	for _, opt := range opts {
		opt(item)
	}
	item.RecomputeValue()

	require.NoError(t, (&Items{f.store}).Create(context.Background(), item))
	return item
}

// Allocation stores a planned allocation of itemID. Defaults: a new task,
// estimate 1.
func (f *FixtureFactory) Allocation(t testing.TB, itemID string, opts ...AllocationOption) *repository.AllocationRecord {
	t.Helper()

	record := &repository.AllocationRecord{
		WorkItemType:       repository.WorkItemTask,
		WorkItemID:         uuid.New().String(),
		StockItemID:        itemID,
		EstimatedQuantity:  decimal.NewFromInt(1),
		AdditionalQuantity: decimal.Zero,
		UnitType:           "unit",
		Status:             repository.StatusPlanned,
		CreatedBy:          uuid.New().String(),
	}
	for _, opt := range opts {
		opt(record)
	}

	require.NoError(t, (&Allocations{f.store}).Create(context.Background(), record))
	return record
}

// Recipient stores a notification recipient holding role
func (f *FixtureFactory) Recipient(t testing.TB, role string) *repository.Recipient {
	t.Helper()

	n := f.seq.Add(1)
	email := fmt.Sprintf("user%d@stockflow.test", n)
	rcpt := &repository.Recipient{
		UserID:    uuid.New().String(),
		FirstName: "User",
		LastName:  fmt.Sprint(n),
		Email:     &email,
		RoleName:  &role,
	}

	require.NoError(t, (&Recipients{f.store}).Set(context.Background(), rcpt))
	return rcpt
}
