package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/actor"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// LedgerService appends movements and keeps on-hand quantities in step
// with them
type LedgerService struct {
	uow       *UnitOfWork
	catalog   *CatalogService
	items     ItemStore
	movements MovementStore
	logger    *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(uow *UnitOfWork, catalog *CatalogService, stores Stores, log *logger.Logger) *LedgerService {
	return &LedgerService{
		uow:       uow,
		catalog:   catalog,
		items:     stores.Items,
		movements: stores.Movements,
		logger:    log.WithComponent("ledger"),
	}
}

// MovementLinks ties a movement to the context that caused it
type MovementLinks struct {
	WorkItemType *repository.WorkItemType
	WorkItemID   *string
	ProjectID    *string
	SupplierID   *string
	AllocationID *string
}

// RecordInput describes one ledger posting. Quantity is signed for
// adjustment and transfer and positive for every other kind.
type RecordInput struct {
	StockItemID string
	Kind        repository.MovementKind
	Quantity    decimal.Decimal
	UnitPrice   decimal.NullDecimal
	Reference   *string
	Notes       *string
	Links       MovementLinks
	ActorID     string
}

// ReceiptInput describes goods received against a purchase order
type ReceiptInput struct {
	StockItemID string
	Quantity    decimal.Decimal
	UnitPrice   decimal.NullDecimal
	OrderNumber string
	SupplierID  *string
}

// ReplayResult compares the ledger with the stored quantity of an item
type ReplayResult struct {
	StockItemID string          `json:"stock_item_id"`
	Movements   int             `json:"movements"`
	Replayed    decimal.Decimal `json:"replayed"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Consistent  bool            `json:"consistent"`
}

// Record posts a movement and applies it to the item in one transaction
func (s *LedgerService) Record(ctx context.Context, in RecordInput) (*repository.Movement, error) {
	if !in.Kind.Valid() {
		return nil, errors.Validation(map[string]string{"kind": "must be one of purchase, sale, transfer, adjustment, waste, return"})
	}
	if in.Quantity.IsZero() {
		return nil, errors.InvalidQuantity("quantity", "must not be zero")
	}
	if !in.Kind.Signed() && in.Quantity.IsNegative() {
		return nil, errors.InvalidQuantity("quantity", "must be positive for "+string(in.Kind))
	}
	if in.UnitPrice.Valid && in.UnitPrice.Decimal.IsNegative() {
		return nil, errors.InvalidQuantity("unit_price", "must not be negative")
	}

	delta := in.Quantity
	if !in.Kind.Signed() {
		delta = in.Quantity.Mul(decimal.NewFromInt(int64(in.Kind.Sign())))
	}

	actorID := in.ActorID
	if actorID == "" {
		actorID = actor.CurrentActorID(ctx)
	}

	var movement *repository.Movement
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		item, err := s.catalog.AdjustQuantity(ctx, in.StockItemID, delta, string(in.Kind))
		if err != nil {
			return err
		}

		price := item.UnitPrice
		if in.UnitPrice.Valid {
			price = in.UnitPrice.Decimal
		}

		movement = &repository.Movement{
			StockItemID:   item.ID,
			Kind:          in.Kind,
			Quantity:      in.Quantity.Abs(),
			QuantityDelta: delta,
			UnitPrice:     price,
			TotalPrice:    price.Mul(in.Quantity.Abs()),
			Reference:     in.Reference,
			Notes:         in.Notes,
			WorkItemType:  in.Links.WorkItemType,
			WorkItemID:    in.Links.WorkItemID,
			ProjectID:     in.Links.ProjectID,
			SupplierID:    in.Links.SupplierID,
			AllocationID:  in.Links.AllocationID,
			PerformedBy:   actorID,
		}
		if err := s.movements.Create(ctx, movement); err != nil {
			return fmt.Errorf("append movement: %w", err)
		}

		emit(ctx, MovementRecorded{Movement: movement, Item: item})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("movement_id", movement.ID).
		Str("item_id", movement.StockItemID).
		Str("kind", string(movement.Kind)).
		Str("delta", movement.QuantityDelta.String()).
		Str("performed_by", movement.PerformedBy).
		Msg("movement recorded")

	return movement, nil
}

// ReceivePurchase posts the purchase movement for a received order
func (s *LedgerService) ReceivePurchase(ctx context.Context, in ReceiptInput) (*repository.Movement, error) {
	order := strings.TrimSpace(in.OrderNumber)
	if order == "" {
		return nil, errors.Validation(map[string]string{"order_number": "is required"})
	}
	if !in.Quantity.IsPositive() {
		return nil, errors.InvalidQuantity("quantity", "must be positive")
	}

	return s.Record(ctx, RecordInput{
		StockItemID: in.StockItemID,
		Kind:        repository.KindPurchase,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		Reference:   &order,
		Links:       MovementLinks{SupplierID: in.SupplierID},
	})
}

// History returns an item's movements, newest first
func (s *LedgerService) History(ctx context.Context, itemID string, page, perPage int) ([]*repository.Movement, int64, error) {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return nil, 0, err
	}
	return s.movements.ListByItem(ctx, itemID, page, perPage)
}

// Replay sums an item's ledger from the start and compares it with the
// stored quantity
func (s *LedgerService) Replay(ctx context.Context, itemID string) (*ReplayResult, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	movements, err := s.movements.ListByItemChronological(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	replayed := decimal.Zero
	for _, m := range movements {
		replayed = replayed.Add(m.QuantityDelta)
	}

	result := &ReplayResult{
		StockItemID: itemID,
		Movements:   len(movements),
		Replayed:    replayed,
		OnHand:      item.Quantity,
		Consistent:  replayed.Equal(item.Quantity),
	}
	if !result.Consistent {
		s.logger.Warn().
			Str("item_id", itemID).
			Str("replayed", replayed.String()).
			Str("on_hand", item.Quantity.String()).
			Msg("ledger does not match on-hand quantity")
	}

	return result, nil
}
