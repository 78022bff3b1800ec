package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/internal/stock/stocktest"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var task42 = repository.WorkItem{Type: repository.WorkItemTask, ID: "task-42"}

func plan(t *testing.T, h *stocktest.Harness, itemID, estimated string) *repository.AllocationRecord {
	t.Helper()
	record, err := h.Engine.Plan(context.Background(), service.PlanInput{
		WorkItem:          task42,
		StockItemID:       itemID,
		EstimatedQuantity: stocktest.D(estimated),
	})
	require.NoError(t, err)
	return record
}

func onHand(t *testing.T, h *stocktest.Harness, itemID string) decimal.Decimal {
	t.Helper()
	item, err := h.Catalog.Get(context.Background(), itemID)
	require.NoError(t, err)
	return item.Quantity
}

func TestEngine_PlanWithinStock(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"))

	record := plan(t, h, item.ID, "8")

	assert.Equal(t, repository.StatusPlanned, record.Status)
	assert.Len(t, h.Events.Named("allocation_planned"), 1)
	assert.Empty(t, h.Events.Named("shortage_detected"))
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("10")), "planning does not move stock")
}

// quantity=5, plan 8 → shortage_flagged with shortfall 3
func TestEngine_PlanBeyondStockIsFlagged(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("5"))

	record := plan(t, h, item.ID, "8")
	assert.Equal(t, repository.StatusShortageFlagged, record.Status)

	status, err := h.Shortage.EvaluateRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.True(t, status.InShortage)
	assert.True(t, status.Shortfall.Equal(stocktest.D("3")))

	events := h.Events.Named("shortage_detected")
	require.Len(t, events, 1)
	assert.True(t, events[0].(service.ShortageDetected).Status.Shortfall.Equal(stocktest.D("3")))
}

func TestEngine_PlanValidation(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("5"))
	ctx := context.Background()

	_, err := h.Engine.Plan(ctx, service.PlanInput{WorkItem: repository.WorkItem{Type: "ticket", ID: "1"}, StockItemID: item.ID})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = h.Engine.Plan(ctx, service.PlanInput{WorkItem: task42, StockItemID: item.ID, EstimatedQuantity: stocktest.D("-1")})
	assert.ErrorIs(t, err, errors.ErrInvalidQuantity)

	_, err = h.Engine.Plan(ctx, service.PlanInput{WorkItem: task42, StockItemID: "missing", EstimatedQuantity: stocktest.D("1")})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestEngine_AddAdditionalQuantity(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"))
	record := plan(t, h, item.ID, "8")

	updated, err := h.Engine.AddAdditionalQuantity(ctx, record.ID, service.AdditionalInput{
		Amount:        stocktest.D("1"),
		Justification: "broken part",
	})
	require.NoError(t, err)
	assert.True(t, updated.AdditionalQuantity.Equal(stocktest.D("1")))
	assert.Equal(t, repository.StatusPlanned, updated.Status)
	assert.Contains(t, updated.Notes, "+1 unit (additional)")
	assert.Contains(t, updated.Notes, "broken part")

	// 8 + 1 + 2 > 10
	updated, err = h.Engine.AddAdditionalQuantity(ctx, record.ID, service.AdditionalInput{
		Amount:        stocktest.D("2"),
		Justification: "second visit",
		RequestType:   "replacement",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusShortageFlagged, updated.Status)
	assert.Nil(t, updated.JustificationShortage)
	assert.Len(t, h.Events.Named("additional_quantity_requested"), 2)

	_, err = h.Engine.AddAdditionalQuantity(ctx, record.ID, service.AdditionalInput{Amount: stocktest.D("0"), Justification: "x"})
	assert.ErrorIs(t, err, errors.ErrInvalidQuantity)
	_, err = h.Engine.AddAdditionalQuantity(ctx, record.ID, service.AdditionalInput{Amount: stocktest.D("1"), Justification: "  "})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestEngine_AdditionalQuantityClearsEarlierJustification(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("5"))
	record := plan(t, h, item.ID, "8")

	justified, err := h.Shortage.RequestJustification(ctx, record.ID, service.JustificationInput{Text: "supplier late"})
	require.NoError(t, err)
	require.NotNil(t, justified.JustificationShortage)
	require.Equal(t, repository.StatusPlanned, justified.Status)

	reflagged, err := h.Engine.AddAdditionalQuantity(ctx, record.ID, service.AdditionalInput{Amount: stocktest.D("1"), Justification: "more"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusShortageFlagged, reflagged.Status)
	assert.Nil(t, reflagged.JustificationShortage)
}

func TestEngine_RecordConsumptionBounds(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))
	record := plan(t, h, item.ID, "10")

	tests := []struct {
		name string
		in   service.ConsumptionInput
	}{
		{"negative actual", service.ConsumptionInput{ActualUsed: stocktest.D("-1")}},
		{"actual above total", service.ConsumptionInput{ActualUsed: stocktest.D("11")}},
		{"negative remaining", service.ConsumptionInput{ActualUsed: stocktest.D("1"), Remaining: decimal.NewNullDecimal(stocktest.D("-1"))}},
		{"remaining above total", service.ConsumptionInput{ActualUsed: stocktest.D("1"), Remaining: decimal.NewNullDecimal(stocktest.D("12"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Engine.RecordConsumption(ctx, record.ID, tt.in)
			assert.ErrorIs(t, err, errors.ErrInvalidQuantity)
		})
	}

	updated, err := h.Engine.RecordConsumption(ctx, record.ID, service.ConsumptionInput{ActualUsed: stocktest.D("7"), ReturnToStock: true})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInUse, updated.Status)
	require.True(t, updated.RemainingQuantity.Valid)
	assert.True(t, updated.RemainingQuantity.Decimal.Equal(stocktest.D("3")), "remaining defaults to total minus actual")
}

func TestEngine_RecordConsumptionKeepsFlag(t *testing.T) {
	h := stocktest.NewHarness()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("2"))
	record := plan(t, h, item.ID, "4")

	updated, err := h.Engine.RecordConsumption(context.Background(), record.ID, service.ConsumptionInput{ActualUsed: stocktest.D("3")})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusShortageFlagged, updated.Status)

	// justification resumes in_use once consumption is known
	justified, err := h.Shortage.RequestJustification(context.Background(), record.ID, service.JustificationInput{Text: "ok"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInUse, justified.Status)
}

// estimated 10, additional 2, actual 9, remaining 3, return → sale 9 then return 3
func TestEngine_SettlePostsSaleThenReturn(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"), stocktest.WithUnitPrice("2"))
	record := plan(t, h, item.ID, "10")

	_, err := h.Engine.AddAdditionalQuantity(ctx, record.ID, service.AdditionalInput{Amount: stocktest.D("2"), Justification: "extra"})
	require.NoError(t, err)
	_, err = h.Engine.RecordConsumption(ctx, record.ID, service.ConsumptionInput{
		ActualUsed:    stocktest.D("9"),
		Remaining:     decimal.NewNullDecimal(stocktest.D("3")),
		ReturnToStock: true,
	})
	require.NoError(t, err)

	result, err := h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, result.ConsumptionAssumed)
	assert.True(t, result.Consumed.Equal(stocktest.D("9")))
	assert.True(t, result.Returned.Equal(stocktest.D("3")))
	assert.Equal(t, repository.StatusSettled, result.Record.Status)
	assert.NotNil(t, result.Record.SettledAt)

	movements := h.Store.AllMovements(item.ID)
	require.Len(t, movements, 2)
	assert.Equal(t, repository.KindSale, movements[0].Kind)
	assert.True(t, movements[0].Quantity.Equal(stocktest.D("9")))
	assert.Equal(t, repository.KindReturn, movements[1].Kind)
	assert.True(t, movements[1].Quantity.Equal(stocktest.D("3")))
	for _, m := range movements {
		require.NotNil(t, m.AllocationID)
		assert.Equal(t, record.ID, *m.AllocationID)
		assert.Equal(t, "task-42", *m.WorkItemID)
	}

	final, err := h.Catalog.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, final.Quantity.Equal(stocktest.D("14")))
	assert.True(t, final.Value.Equal(stocktest.D("28")))
}

// a second settle is a no-op
func TestEngine_SettleIsIdempotent(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))
	record := plan(t, h, item.ID, "5")
	_, err := h.Engine.RecordConsumption(ctx, record.ID, service.ConsumptionInput{ActualUsed: stocktest.D("4")})
	require.NoError(t, err)

	_, err = h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)
	before := onHand(t, h, item.ID)

	again, err := h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadySettled)

	assert.Len(t, h.Store.AllMovements(item.ID), 1)
	assert.True(t, onHand(t, h, item.ID).Equal(before))
	assert.Len(t, h.Events.Named("allocation_settled"), 1)
}

func TestEngine_ConcurrentSettle(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))
	record := plan(t, h, item.ID, "5")
	_, err := h.Engine.RecordConsumption(ctx, record.ID, service.ConsumptionInput{ActualUsed: stocktest.D("4")})
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := h.Engine.Settle(ctx, record.ID)
			if !assert.NoError(t, err) {
				return
			}
			if !result.AlreadySettled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, settled)
	movements := h.Store.AllMovements(item.ID)
	require.Len(t, movements, 1)
	assert.Equal(t, repository.KindSale, movements[0].Kind)
	assert.Len(t, h.Events.Named("allocation_settled"), 1)
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("16")))
}

func TestEngine_SettleAssumesFullConsumption(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))
	record := plan(t, h, item.ID, "6")

	result, err := h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)

	assert.True(t, result.ConsumptionAssumed)
	assert.True(t, result.Consumed.Equal(stocktest.D("6")))
	assert.True(t, result.Record.ConsumptionAssumed)
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("14")))
}

func TestEngine_SettleFlaggedRecord(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("5"))
	record := plan(t, h, item.ID, "8")

	_, err := h.Engine.Settle(ctx, record.ID)
	require.ErrorIs(t, err, errors.ErrShortageNotJustified)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "3", appErr.Details["shortfall"])
	assert.Empty(t, h.Store.AllMovements(item.ID))
}

func TestEngine_SettleInsufficientStockAbortsEverything(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"))
	record := plan(t, h, item.ID, "8")
	_, err := h.Engine.RecordConsumption(ctx, record.ID, service.ConsumptionInput{ActualUsed: stocktest.D("8")})
	require.NoError(t, err)

	// stock drained elsewhere after planning
	_, err = h.Ledger.Record(ctx, service.RecordInput{StockItemID: item.ID, Kind: repository.KindWaste, Quantity: stocktest.D("5")})
	require.NoError(t, err)

	_, err = h.Engine.Settle(ctx, record.ID)
	require.ErrorIs(t, err, errors.ErrInsufficientStock)

	stored, err := h.Engine.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInUse, stored.Status)
	assert.Len(t, h.Store.AllMovements(item.ID), 1, "only the waste movement remains")
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("5")))
}

func TestEngine_Reverse(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))
	record := plan(t, h, item.ID, "10")
	_, err := h.Engine.RecordConsumption(ctx, record.ID, service.ConsumptionInput{
		ActualUsed:    stocktest.D("6"),
		ReturnToStock: true,
	})
	require.NoError(t, err)

	_, err = h.Engine.Reverse(ctx, record.ID)
	assert.ErrorIs(t, err, errors.ErrConflict, "only settled records can be reversed")

	_, err = h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, onHand(t, h, item.ID).Equal(stocktest.D("18")))

	reversed, err := h.Engine.Reverse(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusInUse, reversed.Status)
	assert.Nil(t, reversed.SettledAt)
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("20")))

	movements := h.Store.AllMovements(item.ID)
	require.Len(t, movements, 4)
	assert.Equal(t, repository.KindReturn, movements[2].Kind)
	assert.True(t, movements[2].Quantity.Equal(stocktest.D("6")))
	assert.Equal(t, repository.KindSale, movements[3].Kind)
	assert.True(t, movements[3].Quantity.Equal(stocktest.D("4")))

	replay, err := h.Ledger.Replay(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, replay.Replayed.Equal(stocktest.D("0")), "fixture stock predates the ledger")
}

func TestEngine_ReverseAssumedConsumption(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))
	record := plan(t, h, item.ID, "6")

	result, err := h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, result.ConsumptionAssumed)

	reversed, err := h.Engine.Reverse(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, reversed.ActualQuantityUsed.Valid, "assumed usage is not kept as recorded usage")
	assert.False(t, reversed.ConsumptionAssumed)
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("20")))

	again, err := h.Engine.Settle(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, again.ConsumptionAssumed)
	assert.True(t, again.Consumed.Equal(stocktest.D("6")))
	assert.True(t, onHand(t, h, item.ID).Equal(stocktest.D("14")))
}

func TestEngine_Delete(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("20"))

	record := plan(t, h, item.ID, "2")
	require.NoError(t, h.Engine.Delete(ctx, record.ID))
	_, err := h.Engine.Get(ctx, record.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	settled := plan(t, h, item.ID, "2")
	_, err = h.Engine.Settle(ctx, settled.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, h.Engine.Delete(ctx, settled.ID), errors.ErrConflict)
}

func TestEngine_CheckAvailability(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	enough := h.Fixtures.Item(t, stocktest.WithReference("A"), stocktest.WithQuantity("10"))
	short := h.Fixtures.Item(t, stocktest.WithReference("B"), stocktest.WithQuantity("1"))

	plan(t, h, enough.ID, "4")
	plan(t, h, short.ID, "3")

	availability, err := h.Engine.CheckAvailability(ctx, task42)
	require.NoError(t, err)
	assert.False(t, availability.Sufficient)
	assert.Equal(t, 1, availability.ShortLines)
	require.Len(t, availability.Lines, 2)

	for _, line := range availability.Lines {
		if line.StockItemID == short.ID {
			assert.True(t, line.Shortfall.Equal(stocktest.D("2")))
			assert.Equal(t, "B", line.Reference)
		} else {
			assert.True(t, line.Shortfall.IsZero())
		}
	}
}

func TestEngine_CompleteAndReopenWorkItem(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	a := h.Fixtures.Item(t, stocktest.WithQuantity("10"))
	b := h.Fixtures.Item(t, stocktest.WithQuantity("10"))

	plan(t, h, a.ID, "3")
	plan(t, h, b.ID, "4")

	results, err := h.Engine.CompleteWorkItem(ctx, task42)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, onHand(t, h, a.ID).Equal(stocktest.D("7")))
	assert.True(t, onHand(t, h, b.ID).Equal(stocktest.D("6")))

	again, err := h.Engine.CompleteWorkItem(ctx, task42)
	require.NoError(t, err)
	assert.Empty(t, again)

	reopened, err := h.Engine.ReopenWorkItem(ctx, task42)
	require.NoError(t, err)
	assert.Len(t, reopened, 2)
	assert.True(t, onHand(t, h, a.ID).Equal(stocktest.D("10")))
	assert.True(t, onHand(t, h, b.ID).Equal(stocktest.D("10")))
}

func TestEngine_CompleteWorkItemIsAtomic(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	ok := h.Fixtures.Item(t, stocktest.WithQuantity("10"))
	flagged := h.Fixtures.Item(t, stocktest.WithQuantity("1"))

	plan(t, h, ok.ID, "3")
	plan(t, h, flagged.ID, "5")

	_, err := h.Engine.CompleteWorkItem(ctx, task42)
	require.ErrorIs(t, err, errors.ErrShortageNotJustified)

	assert.True(t, onHand(t, h, ok.ID).Equal(stocktest.D("10")), "first settlement rolled back")
	records, err := h.Engine.ListByWorkItem(ctx, task42)
	require.NoError(t, err)
	for _, r := range records {
		assert.NotEqual(t, repository.StatusSettled, r.Status)
	}
	assert.Empty(t, h.Events.Named("allocation_settled"))
}
