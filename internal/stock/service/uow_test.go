package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/internal/stock/stocktest"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfWork_RetriesVersionConflicts(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"), stocktest.WithUnitPrice("5"))

	h.Store.InjectConflicts(2)
	_, err := h.Ledger.Record(context.Background(), service.RecordInput{StockItemID: item.ID, Kind: repository.KindSale, Quantity: stocktest.D("3")})
	require.NoError(t, err)

	assert.Len(t, h.Store.AllMovements(item.ID), 1, "failed attempts leave nothing behind")
	assert.Len(t, h.Events.Named("movement_recorded"), 1)
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("7")))
}

func TestUnitOfWork_GivesUpAfterMaxRetries(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"))

	h.Store.InjectConflicts(3)
	_, err := h.Catalog.AdjustQuantity(context.Background(), item.ID, stocktest.D("1"), "test")
	require.ErrorIs(t, err, errors.ErrConcurrentUpdate)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CONCURRENT_UPDATE", appErr.Code)
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("10")))
}

func TestUnitOfWork_NestedEventsWaitForOuterCommit(t *testing.T) {
	store := stocktest.NewMemoryStore()
	bus := service.NewEventBus(logger.Nop())
	uow := service.NewUnitOfWork(store, bus, 1, logger.Nop())
	catalog := service.NewCatalogService(uow, store.Stores(), logger.Nop())
	ledger := service.NewLedgerService(uow, catalog, store.Stores(), logger.Nop())
	item := stocktest.NewFixtureFactory(store).Item(t, stocktest.WithQuantity("10"))

	var seen []string
	bus.Subscribe(func(_ context.Context, ev service.DomainEvent) error {
		seen = append(seen, ev.EventName())
		return nil
	})

	err := uow.Do(context.Background(), func(ctx context.Context) error {
		if _, err := ledger.Record(ctx, service.RecordInput{StockItemID: item.ID, Kind: repository.KindSale, Quantity: stocktest.D("1")}); err != nil {
			return err
		}
		assert.Empty(t, seen, "no event before the outer commit")
		return fmt.Errorf("abort")
	})
	require.Error(t, err)
	assert.Empty(t, seen, "events of a rolled back unit are dropped")

	err = uow.Do(context.Background(), func(ctx context.Context) error {
		_, err := ledger.Record(ctx, service.RecordInput{StockItemID: item.ID, Kind: repository.KindSale, Quantity: stocktest.D("1")})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"movement_recorded"}, seen)
}

func TestUnitOfWork_ConcurrentSalesNeverOversell(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"), stocktest.WithUnitPrice("2"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Ledger.Record(context.Background(), service.RecordInput{StockItemID: item.ID, Kind: repository.KindSale, Quantity: stocktest.D("1")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	final, err := h.Catalog.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, final.Quantity.IsZero())
	assert.True(t, final.Value.IsZero())
}
