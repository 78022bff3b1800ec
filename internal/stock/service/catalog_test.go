package service_test

import (
	"context"
	"testing"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/internal/stock/stocktest"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Create(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()

	item, err := h.Catalog.Create(ctx, service.CreateItemInput{
		Reference:   " VIS-10 ",
		Label:       "Screw M10",
		UnitPrice:   stocktest.D("0.25"),
		MinQuantity: stocktest.D("50"),
	})
	require.NoError(t, err)

	assert.Equal(t, "VIS-10", item.Reference)
	assert.Equal(t, "unit", item.Unit)
	assert.True(t, item.Quantity.IsZero())
	assert.True(t, item.Value.IsZero())

	_, err = h.Catalog.Create(ctx, service.CreateItemInput{Reference: "VIS-10", Label: "again"})
	assert.ErrorIs(t, err, errors.ErrDuplicateReference)
}

func TestCatalog_CreateRejectsBadInput(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()

	tests := []struct {
		name string
		in   service.CreateItemInput
		want error
	}{
		{"missing reference", service.CreateItemInput{Label: "x"}, errors.ErrValidation},
		{"negative price", service.CreateItemInput{Reference: "A", Label: "x", UnitPrice: stocktest.D("-1")}, errors.ErrInvalidQuantity},
		{"negative threshold", service.CreateItemInput{Reference: "A", Label: "x", MinQuantity: stocktest.D("-1")}, errors.ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Catalog.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// quantity=10, price=5, adjust -3 → quantity 7, value 35
func TestCatalog_AdjustQuantity(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("10"), stocktest.WithUnitPrice("5"))

	updated, err := h.Catalog.AdjustQuantity(ctx, item.ID, stocktest.D("-3"), "sale")
	require.NoError(t, err)

	assert.True(t, updated.Quantity.Equal(stocktest.D("7")))
	assert.True(t, updated.Value.Equal(stocktest.D("35")))

	stored, err := h.Catalog.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, stored.Value.Equal(stored.UnitPrice.Mul(stored.Quantity)))
}

func TestCatalog_AdjustQuantityInsufficient(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("2"), stocktest.WithUnitPrice("5"))

	_, err := h.Catalog.AdjustQuantity(ctx, item.ID, stocktest.D("-5"), "sale")
	require.ErrorIs(t, err, errors.ErrInsufficientStock)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, map[string]string{"requested": "5", "available": "2", "shortfall": "3"}, appErr.Details)

	stored, err := h.Catalog.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(stocktest.D("2")), "quantity must be unchanged")
}

func TestCatalog_UpdateRecomputesValue(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()
	item := h.Fixtures.Item(t, stocktest.WithQuantity("4"), stocktest.WithUnitPrice("2"))

	price := stocktest.D("3.5")
	label := "Renamed"
	updated, err := h.Catalog.Update(ctx, item.ID, service.UpdateItemInput{UnitPrice: &price, Label: &label})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", updated.Label)
	assert.True(t, updated.Value.Equal(stocktest.D("14")))
}

func TestCatalog_DeleteReferencedItem(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()

	unused := h.Fixtures.Item(t)
	require.NoError(t, h.Catalog.Delete(ctx, unused.ID))
	_, err := h.Catalog.Get(ctx, unused.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	used := h.Fixtures.Item(t, stocktest.WithQuantity("5"))
	h.Fixtures.Allocation(t, used.ID)
	assert.ErrorIs(t, h.Catalog.Delete(ctx, used.ID), errors.ErrConflict)
}

func TestCatalog_ListBelowThreshold(t *testing.T) {
	h := stocktest.NewHarness()
	ctx := context.Background()

	low := h.Fixtures.Item(t, stocktest.WithReference("A-LOW"), stocktest.WithQuantity("2"), stocktest.WithMinQuantity("5"))
	h.Fixtures.Item(t, stocktest.WithReference("B-OK"), stocktest.WithQuantity("20"), stocktest.WithMinQuantity("5"))
	h.Fixtures.Item(t, stocktest.WithReference("C-NONE"), stocktest.WithQuantity("0"))

	items, total, err := h.Catalog.List(ctx, repository.ItemFilter{BelowThreshold: true}, 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, low.ID, items[0].ID)
	assert.True(t, service.IsBelowThreshold(items[0]))
}
