package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/database"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

func setupDB(t *testing.T, name string) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return suite.SetupDatabase(t, context.Background(), name, repository.Migrations())
}

func createTestItem(t *testing.T, ctx context.Context, repo *repository.ItemRepository, reference string, qty int64) *repository.StockItem {
	t.Helper()
	item := &repository.StockItem{
		Reference:   reference,
		Label:       "Item " + reference,
		Quantity:    decimal.NewFromInt(qty),
		MinQuantity: decimal.NewFromInt(2),
		UnitPrice:   decimal.RequireFromString("1.50"),
		Unit:        "unit",
	}
	item.RecomputeValue()
	require.NoError(t, repo.Create(ctx, item))
	return item
}

func TestIntegration_ItemLifecycle(t *testing.T) {
	db := setupDB(t, "item-lifecycle")
	ctx := context.Background()
	repo := repository.NewItemRepository(db)

	item := createTestItem(t, ctx, repo, "VIS-10", 10)

	exists, err := repo.ExistsByReference(ctx, "VIS-10")
	require.NoError(t, err)
	assert.True(t, exists)

	err = repo.Create(ctx, &repository.StockItem{Reference: "VIS-10", Label: "dup", Unit: "unit"})
	assert.ErrorIs(t, err, errors.ErrDuplicateReference)

	item.Quantity = decimal.NewFromInt(7)
	item.RecomputeValue()
	require.NoError(t, repo.Update(ctx, item))
	assert.Equal(t, int64(2), item.Version)

	got, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(decimal.NewFromInt(7)))
	assert.True(t, got.Value.Equal(decimal.RequireFromString("10.5")))

	// a writer holding the old version loses
	stale := *got
	stale.Version = 1
	assert.ErrorIs(t, repo.Update(ctx, &stale), errors.ErrConcurrentUpdate)

	// the CHECK constraint backs up the service-level guard
	got.Quantity = decimal.NewFromInt(-1)
	assert.ErrorIs(t, repo.Update(ctx, got), errors.ErrInsufficientStock)
}

func TestIntegration_MovementsBlockItemDelete(t *testing.T) {
	db := setupDB(t, "movement-restrict")
	ctx := context.Background()
	items := repository.NewItemRepository(db)
	movements := repository.NewMovementRepository(db)

	item := createTestItem(t, ctx, items, "VIS-11", 0)

	for _, qty := range []int64{5, 3} {
		require.NoError(t, movements.Create(ctx, &repository.Movement{
			StockItemID:   item.ID,
			Kind:          repository.KindPurchase,
			Quantity:      decimal.NewFromInt(qty),
			QuantityDelta: decimal.NewFromInt(qty),
			UnitPrice:     item.UnitPrice,
			TotalPrice:    item.UnitPrice.Mul(decimal.NewFromInt(qty)),
			PerformedBy:   "user-1",
		}))
	}

	chrono, err := movements.ListByItemChronological(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, chrono, 2)
	assert.Less(t, chrono[0].Seq, chrono[1].Seq)

	page, total, err := movements.ListByItem(ctx, item.ID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, page, 1)
	assert.Equal(t, chrono[1].ID, page[0].ID)

	assert.ErrorIs(t, items.Delete(ctx, item.ID), errors.ErrConflict)

	err = movements.Create(ctx, &repository.Movement{
		StockItemID: item.ID, Kind: repository.KindSale, Quantity: decimal.Zero, PerformedBy: "user-1",
	})
	assert.ErrorIs(t, err, errors.ErrInvalidQuantity)
}

func TestIntegration_AllocationBounds(t *testing.T) {
	db := setupDB(t, "allocation-bounds")
	ctx := context.Background()
	items := repository.NewItemRepository(db)
	allocations := repository.NewAllocationRepository(db)

	item := createTestItem(t, ctx, items, "VIS-12", 10)

	record := &repository.AllocationRecord{
		WorkItemType:      repository.WorkItemTask,
		WorkItemID:        "task-1",
		StockItemID:       item.ID,
		EstimatedQuantity: decimal.NewFromInt(4),
		UnitType:          "unit",
		Status:            repository.StatusPlanned,
		CreatedBy:         "user-1",
	}
	require.NoError(t, allocations.Create(ctx, record))

	dup := *record
	dup.ID = ""
	assert.ErrorIs(t, allocations.Create(ctx, &dup), errors.ErrConflict)

	record.ActualQuantityUsed = decimal.NewNullDecimal(decimal.NewFromInt(5))
	assert.ErrorIs(t, allocations.Update(ctx, record), errors.ErrInvalidQuantity)

	listed, err := allocations.ListByWorkItem(ctx, repository.WorkItem{Type: repository.WorkItemTask, ID: "task-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].ActualQuantityUsed.Valid)
}

func TestIntegration_NotificationsAndRecipients(t *testing.T) {
	db := setupDB(t, "notifications")
	ctx := context.Background()
	items := repository.NewItemRepository(db)
	notifications := repository.NewNotificationRepository(db)
	recipients := repository.NewRecipientRepository(db)

	item := createTestItem(t, ctx, items, "VIS-13", 1)

	role := "stock_manager"
	require.NoError(t, recipients.Set(ctx, &repository.Recipient{UserID: "u-1", FirstName: "Ana", LastName: "Silva", RoleName: &role}))
	viewer := "viewer"
	require.NoError(t, recipients.Set(ctx, &repository.Recipient{UserID: "u-2", FirstName: "Bo", RoleName: &viewer}))

	managers, err := recipients.ListByRoles(ctx, []string{"admin", "stock_manager"})
	require.NoError(t, err)
	require.Len(t, managers, 1)
	assert.Equal(t, "u-1", managers[0].UserID)

	n := &repository.Notification{
		RecipientID: "u-1",
		Title:       "Low stock",
		Message:     "VIS-13 is low",
		StockItemID: &item.ID,
	}
	inserted, err := notifications.CreateStockAlert(ctx, n)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, repository.CategoryStockAlert, n.Category)

	inserted, err = notifications.CreateStockAlert(ctx, &repository.Notification{
		RecipientID: "u-1", Title: "Low stock", Message: "again", StockItemID: &item.ID,
	})
	require.NoError(t, err)
	assert.False(t, inserted, "unread alert already exists")

	read, err := notifications.MarkRead(ctx, n.ID, "u-1")
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	inserted, err = notifications.CreateStockAlert(ctx, &repository.Notification{
		RecipientID: "u-1", Title: "Low stock", Message: "after read", StockItemID: &item.ID,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	_, err = notifications.MarkRead(ctx, n.ID, "u-2")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestIntegration_ConcurrentStockAlerts(t *testing.T) {
	db := setupDB(t, "concurrent-alerts")
	ctx := context.Background()
	items := repository.NewItemRepository(db)
	notifications := repository.NewNotificationRepository(db)

	item := createTestItem(t, ctx, items, "VIS-14", 1)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := db.WithTx(ctx, func(ctx context.Context) error {
				ok, err := notifications.CreateStockAlert(ctx, &repository.Notification{
					RecipientID: "u-1", Title: "Low stock", Message: "VIS-14 is low", StockItemID: &item.ID,
				})
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
				return err
			})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, inserted)
	unread, err := notifications.CountUnread(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}
