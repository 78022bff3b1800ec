package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

const defaultUnit = "unit"

// CatalogService manages stock items and their on-hand quantity
type CatalogService struct {
	uow         *UnitOfWork
	items       ItemStore
	movements   MovementStore
	allocations AllocationStore
	logger      *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(uow *UnitOfWork, stores Stores, log *logger.Logger) *CatalogService {
	return &CatalogService{
		uow:         uow,
		items:       stores.Items,
		movements:   stores.Movements,
		allocations: stores.Allocations,
		logger:      log.WithComponent("catalog"),
	}
}

// CreateItemInput describes a new catalog entry
type CreateItemInput struct {
	Reference   string
	Label       string
	UnitPrice   decimal.Decimal
	MinQuantity decimal.Decimal
	Unit        string
}

// UpdateItemInput carries the fields to change; nil fields are kept
type UpdateItemInput struct {
	Label       *string
	UnitPrice   *decimal.Decimal
	MinQuantity *decimal.Decimal
	Unit        *string
}

// Create adds a stock item with zero quantity
func (s *CatalogService) Create(ctx context.Context, in CreateItemInput) (*repository.StockItem, error) {
	reference := strings.TrimSpace(in.Reference)
	label := strings.TrimSpace(in.Label)

	details := map[string]string{}
	if reference == "" {
		details["reference"] = "is required"
	}
	if label == "" {
		details["label"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	if err := checkPrices(in.UnitPrice, in.MinQuantity); err != nil {
		return nil, err
	}

	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = defaultUnit
	}

	item := &repository.StockItem{
		Reference:   reference,
		Label:       label,
		UnitPrice:   in.UnitPrice,
		MinQuantity: in.MinQuantity,
		Unit:        unit,
	}
	item.RecomputeValue()

	err := s.uow.Do(ctx, func(ctx context.Context) error {
		exists, err := s.items.ExistsByReference(ctx, reference)
		if err != nil {
			return fmt.Errorf("check reference: %w", err)
		}
		if exists {
			return errors.DuplicateReference(reference)
		}
		return s.items.Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("item_id", item.ID).Str("reference", item.Reference).Msg("stock item created")
	return item, nil
}

// Get returns a stock item
func (s *CatalogService) Get(ctx context.Context, id string) (*repository.StockItem, error) {
	return s.items.GetByID(ctx, id)
}

// List returns a page of stock items ordered by reference
func (s *CatalogService) List(ctx context.Context, filter repository.ItemFilter, page, perPage int) ([]*repository.StockItem, int64, error) {
	return s.items.List(ctx, filter, page, perPage)
}

// Update changes the descriptive fields of an item and recomputes its value
func (s *CatalogService) Update(ctx context.Context, id string, in UpdateItemInput) (*repository.StockItem, error) {
	if in.Label != nil && strings.TrimSpace(*in.Label) == "" {
		return nil, errors.Validation(map[string]string{"label": "is required"})
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return nil, errors.InvalidQuantity("unit_price", "must not be negative")
	}
	if in.MinQuantity != nil && in.MinQuantity.IsNegative() {
		return nil, errors.InvalidQuantity("min_quantity", "must not be negative")
	}

	var item *repository.StockItem
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.items.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if in.Label != nil {
			item.Label = strings.TrimSpace(*in.Label)
		}
		if in.UnitPrice != nil {
			item.UnitPrice = *in.UnitPrice
		}
		if in.MinQuantity != nil {
			item.MinQuantity = *in.MinQuantity
		}
		if in.Unit != nil && strings.TrimSpace(*in.Unit) != "" {
			item.Unit = strings.TrimSpace(*in.Unit)
		}
		item.RecomputeValue()

		return s.items.Update(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// Delete removes an item that no movement or allocation refers to
func (s *CatalogService) Delete(ctx context.Context, id string) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if _, err := s.items.GetByIDForUpdate(ctx, id); err != nil {
			return err
		}

		movements, err := s.movements.CountByItem(ctx, id)
		if err != nil {
			return fmt.Errorf("count movements: %w", err)
		}
		allocations, err := s.allocations.CountByItem(ctx, id)
		if err != nil {
			return fmt.Errorf("count allocations: %w", err)
		}
		if movements > 0 || allocations > 0 {
			return errors.Conflict("stock item has movements or allocations and cannot be deleted")
		}

		if err := s.items.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Info().Str("item_id", id).Msg("stock item deleted")
		return nil
	})
}

// AdjustQuantity adds delta to the on-hand quantity under a row lock. It
// joins the caller's transaction when there is one and does not write to
// the ledger.
func (s *CatalogService) AdjustQuantity(ctx context.Context, itemID string, delta decimal.Decimal, reason string) (*repository.StockItem, error) {
	var item *repository.StockItem
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.items.GetByIDForUpdate(ctx, itemID)
		if err != nil {
			return err
		}

		next := item.Quantity.Add(delta)
		if next.IsNegative() {
			return errors.InsufficientStock(delta.Abs().String(), item.Quantity.String(), next.Neg().String())
		}

		item.Quantity = next
		item.RecomputeValue()
		if err := s.items.Update(ctx, item); err != nil {
			return err
		}

		s.logger.Debug().
			Str("item_id", itemID).
			Str("delta", delta.String()).
			Str("quantity", item.Quantity.String()).
			Str("reason", reason).
			Msg("stock quantity adjusted")
		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// IsBelowThreshold reports whether an item with a threshold has reached it
func IsBelowThreshold(item *repository.StockItem) bool {
	return item.IsBelowThreshold()
}

func checkPrices(unitPrice, minQuantity decimal.Decimal) error {
	if unitPrice.IsNegative() {
		return errors.InvalidQuantity("unit_price", "must not be negative")
	}
	if minQuantity.IsNegative() {
		return errors.InvalidQuantity("min_quantity", "must not be negative")
	}
	return nil
}
