package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/actor"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/lock"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

const defaultRequestType = "additional"

// AllocationEngine plans, tracks and settles the stock used by work items
type AllocationEngine struct {
	uow         *UnitOfWork
	ledger      *LedgerService
	items       ItemStore
	allocations AllocationStore
	movements   MovementStore
	locker      lock.Locker
	now         func() time.Time
	logger      *logger.Logger
}

// NewAllocationEngine creates a new allocation engine. A nil locker falls
// back to the row locks alone.
func NewAllocationEngine(uow *UnitOfWork, ledger *LedgerService, stores Stores, locker lock.Locker, log *logger.Logger) *AllocationEngine {
	if locker == nil {
		locker = lock.Nop{}
	}
	return &AllocationEngine{
		uow:         uow,
		ledger:      ledger,
		items:       stores.Items,
		allocations: stores.Allocations,
		movements:   stores.Movements,
		locker:      locker,
		now:         time.Now,
		logger:      log.WithComponent("allocation"),
	}
}

// PlanInput reserves a stock item for a work item
type PlanInput struct {
	WorkItem          repository.WorkItem
	ProjectID         *string
	StockItemID       string
	EstimatedQuantity decimal.Decimal
	UnitType          string
}

// AdditionalInput asks for more than was estimated
type AdditionalInput struct {
	Amount        decimal.Decimal
	Justification string
	RequestType   string
}

// ConsumptionInput reports what a work item actually used
type ConsumptionInput struct {
	ActualUsed    decimal.Decimal
	Remaining     decimal.NullDecimal
	ReturnToStock bool
}

// SettleResult describes the postings made by a settlement
type SettleResult struct {
	Record             *repository.AllocationRecord `json:"record"`
	Consumed           decimal.Decimal              `json:"consumed"`
	Returned           decimal.Decimal              `json:"returned"`
	ConsumptionAssumed bool                         `json:"consumption_assumed"`
	AlreadySettled     bool                         `json:"already_settled"`
}

// AvailabilityLine is the availability of one allocated item
type AvailabilityLine struct {
	AllocationID string          `json:"allocation_id"`
	StockItemID  string          `json:"stock_item_id"`
	Reference    string          `json:"reference"`
	Label        string          `json:"label"`
	Required     decimal.Decimal `json:"required"`
	Available    decimal.Decimal `json:"available"`
	Shortfall    decimal.Decimal `json:"shortfall"`
}

// Availability summarises whether a work item can be carried out
type Availability struct {
	WorkItem   repository.WorkItem `json:"work_item"`
	Lines      []AvailabilityLine  `json:"lines"`
	ShortLines int                 `json:"short_lines"`
	Sufficient bool                `json:"sufficient"`
}

// Plan creates an allocation record. A record whose estimate exceeds the
// stock on hand starts in shortage_flagged.
func (e *AllocationEngine) Plan(ctx context.Context, in PlanInput) (*repository.AllocationRecord, error) {
	details := map[string]string{}
	if !in.WorkItem.Type.Valid() {
		details["work_item_type"] = "must be task or intervention"
	}
	if strings.TrimSpace(in.WorkItem.ID) == "" {
		details["work_item_id"] = "is required"
	}
	if in.StockItemID == "" {
		details["stock_item_id"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	if in.EstimatedQuantity.IsNegative() {
		return nil, errors.InvalidQuantity("estimated_quantity", "must not be negative")
	}

	unitType := strings.TrimSpace(in.UnitType)
	if unitType == "" {
		unitType = defaultUnit
	}

	var record *repository.AllocationRecord
	err := e.uow.Do(ctx, func(ctx context.Context) error {
		item, err := e.items.GetByID(ctx, in.StockItemID)
		if err != nil {
			return err
		}

		record = &repository.AllocationRecord{
			WorkItemType:       in.WorkItem.Type,
			WorkItemID:         in.WorkItem.ID,
			ProjectID:          in.ProjectID,
			StockItemID:        item.ID,
			EstimatedQuantity:  in.EstimatedQuantity,
			AdditionalQuantity: decimal.Zero,
			UnitType:           unitType,
			Status:             repository.StatusPlanned,
			CreatedBy:          actor.CurrentActorID(ctx),
		}

		status := Evaluate(record, item)
		if status.InShortage {
			record.Status = repository.StatusShortageFlagged
		}

		if err := e.allocations.Create(ctx, record); err != nil {
			return err
		}

		emit(ctx, AllocationPlanned{Record: record})
		if status.InShortage {
			emit(ctx, ShortageDetected{Record: record, Status: status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("allocation_id", record.ID).
		Str("work_item", workItemLabel(record.WorkItem())).
		Str("status", string(record.Status)).
		Msg("allocation planned")

	return record, nil
}

// Get returns an allocation record
func (e *AllocationEngine) Get(ctx context.Context, id string) (*repository.AllocationRecord, error) {
	return e.allocations.GetByID(ctx, id)
}

// ListByWorkItem returns every record of a work item
func (e *AllocationEngine) ListByWorkItem(ctx context.Context, wi repository.WorkItem) ([]*repository.AllocationRecord, error) {
	if !wi.Type.Valid() {
		return nil, errors.Validation(map[string]string{"work_item_type": "must be task or intervention"})
	}
	return e.allocations.ListByWorkItem(ctx, wi)
}

// AddAdditionalQuantity raises the quantity a record may consume. If the
// new total no longer fits the stock on hand the record is flagged again
// and any earlier justification is dropped.
func (e *AllocationEngine) AddAdditionalQuantity(ctx context.Context, id string, in AdditionalInput) (*repository.AllocationRecord, error) {
	if !in.Amount.IsPositive() {
		return nil, errors.InvalidQuantity("amount", "must be positive")
	}
	justification := strings.TrimSpace(in.Justification)
	if justification == "" {
		return nil, errors.Validation(map[string]string{"justification": "is required"})
	}
	requestType := strings.TrimSpace(in.RequestType)
	if requestType == "" {
		requestType = defaultRequestType
	}

	var record *repository.AllocationRecord
	err := e.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		record, err = e.allocations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if record.Status == repository.StatusSettled {
			return errors.Conflict("allocation is already settled")
		}

		item, err := e.items.GetByID(ctx, record.StockItemID)
		if err != nil {
			return err
		}

		actorID := actor.CurrentActorID(ctx)
		record.AdditionalQuantity = record.AdditionalQuantity.Add(in.Amount)
		record.Notes = appendNote(record.Notes, fmt.Sprintf("[%s] +%s %s (%s) by %s: %s",
			e.now().UTC().Format("2006-01-02 15:04"), in.Amount.String(), record.UnitType, requestType, actorID, justification))

		status := Evaluate(record, item)
		switch {
		case status.InShortage:
			record.Status = repository.StatusShortageFlagged
			record.JustificationShortage = nil
		case record.Status == repository.StatusShortageFlagged:
			record.Status = record.ResumeStatus()
		}

		if err := e.allocations.Update(ctx, record); err != nil {
			return err
		}

		emit(ctx, AdditionalQuantityRequested{
			Record:        record,
			Item:          item,
			Amount:        in.Amount,
			Justification: justification,
			RequestType:   requestType,
			RequestedBy:   actorID,
		})
		if status.InShortage {
			emit(ctx, ShortageDetected{Record: record, Status: status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("allocation_id", record.ID).
		Str("amount", in.Amount.String()).
		Str("status", string(record.Status)).
		Msg("additional quantity requested")

	return record, nil
}

// RecordConsumption stores the actual usage of a record. Without an explicit
// remaining quantity, a record returning to stock keeps whatever of its
// total was not used.
func (e *AllocationEngine) RecordConsumption(ctx context.Context, id string, in ConsumptionInput) (*repository.AllocationRecord, error) {
	if in.ActualUsed.IsNegative() {
		return nil, errors.InvalidQuantity("actual_quantity_used", "must not be negative")
	}
	if in.Remaining.Valid && in.Remaining.Decimal.IsNegative() {
		return nil, errors.InvalidQuantity("remaining_quantity", "must not be negative")
	}

	var record *repository.AllocationRecord
	err := e.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		record, err = e.allocations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if record.Status == repository.StatusSettled {
			return errors.Conflict("allocation is already settled")
		}

		total := record.Total()
		if in.ActualUsed.GreaterThan(total) {
			return errors.InvalidQuantity("actual_quantity_used", "exceeds estimated plus additional quantity ("+total.String()+")")
		}

		remaining := in.Remaining
		if remaining.Valid && remaining.Decimal.GreaterThan(total) {
			return errors.InvalidQuantity("remaining_quantity", "exceeds estimated plus additional quantity ("+total.String()+")")
		}
		if !remaining.Valid && in.ReturnToStock {
			remaining = decimal.NewNullDecimal(decimal.Max(decimal.Zero, total.Sub(in.ActualUsed)))
		}

		record.ActualQuantityUsed = decimal.NewNullDecimal(in.ActualUsed)
		record.RemainingQuantity = remaining
		record.ReturnToStock = in.ReturnToStock
		if record.Status != repository.StatusShortageFlagged {
			record.Status = repository.StatusInUse
		}

		return e.allocations.Update(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("allocation_id", record.ID).
		Str("actual", in.ActualUsed.String()).
		Bool("return_to_stock", record.ReturnToStock).
		Msg("consumption recorded")

	return record, nil
}

// Settle posts the consumption of a record to the ledger and closes it.
// Settling a settled record is a no-op.
func (e *AllocationEngine) Settle(ctx context.Context, id string) (*SettleResult, error) {
	release, err := e.locker.Acquire(ctx, allocationLockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *SettleResult
	err = e.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = e.settle(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logSettled(result)
	return result, nil
}

// Reverse undoes a settlement with compensating movements and reopens the
// record
func (e *AllocationEngine) Reverse(ctx context.Context, id string) (*repository.AllocationRecord, error) {
	release, err := e.locker.Acquire(ctx, allocationLockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	var record *repository.AllocationRecord
	err = e.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		record, err = e.reverse(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("allocation_id", record.ID).Msg("allocation reversed")
	return record, nil
}

// Delete removes a record that has not posted any movement
func (e *AllocationEngine) Delete(ctx context.Context, id string) error {
	return e.uow.Do(ctx, func(ctx context.Context) error {
		if _, err := e.allocations.GetByIDForUpdate(ctx, id); err != nil {
			return err
		}

		count, err := e.movements.CountByAllocation(ctx, id)
		if err != nil {
			return fmt.Errorf("count movements: %w", err)
		}
		if count > 0 {
			return errors.Conflict("allocation has posted movements and cannot be deleted")
		}

		if err := e.allocations.Delete(ctx, id); err != nil {
			return err
		}
		e.logger.Info().Str("allocation_id", id).Msg("allocation deleted")
		return nil
	})
}

// CheckAvailability compares every open record of a work item with the
// stock on hand
func (e *AllocationEngine) CheckAvailability(ctx context.Context, wi repository.WorkItem) (*Availability, error) {
	records, err := e.ListByWorkItem(ctx, wi)
	if err != nil {
		return nil, err
	}

	result := &Availability{WorkItem: wi, Lines: []AvailabilityLine{}, Sufficient: true}
	for _, record := range records {
		if record.Status == repository.StatusSettled {
			continue
		}

		item, err := e.items.GetByID(ctx, record.StockItemID)
		if err != nil {
			return nil, err
		}

		status := Evaluate(record, item)
		result.Lines = append(result.Lines, AvailabilityLine{
			AllocationID: record.ID,
			StockItemID:  item.ID,
			Reference:    item.Reference,
			Label:        item.Label,
			Required:     status.Required,
			Available:    status.Available,
			Shortfall:    status.Shortfall,
		})
		if status.InShortage {
			result.ShortLines++
			result.Sufficient = false
		}
	}

	return result, nil
}

// CompleteWorkItem settles every open record of a work item in one
// transaction. One failing record leaves all of them unsettled.
func (e *AllocationEngine) CompleteWorkItem(ctx context.Context, wi repository.WorkItem) ([]*SettleResult, error) {
	if !wi.Type.Valid() {
		return nil, errors.Validation(map[string]string{"work_item_type": "must be task or intervention"})
	}

	release, err := e.locker.Acquire(ctx, workItemLockKey(wi))
	if err != nil {
		return nil, err
	}
	defer release()

	var results []*SettleResult
	err = e.uow.Do(ctx, func(ctx context.Context) error {
		results = nil
		records, err := e.allocations.ListByWorkItem(ctx, wi)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.Status == repository.StatusSettled {
				continue
			}
			result, err := e.settle(ctx, record.ID)
			if err != nil {
				return err
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		e.logSettled(result)
	}
	e.logger.Info().Str("work_item", workItemLabel(wi)).Int("settled", len(results)).Msg("work item completed")
	return results, nil
}

// ReopenWorkItem reverses every settled record of a work item in one
// transaction
func (e *AllocationEngine) ReopenWorkItem(ctx context.Context, wi repository.WorkItem) ([]*repository.AllocationRecord, error) {
	if !wi.Type.Valid() {
		return nil, errors.Validation(map[string]string{"work_item_type": "must be task or intervention"})
	}

	release, err := e.locker.Acquire(ctx, workItemLockKey(wi))
	if err != nil {
		return nil, err
	}
	defer release()

	var reopened []*repository.AllocationRecord
	err = e.uow.Do(ctx, func(ctx context.Context) error {
		reopened = nil
		records, err := e.allocations.ListByWorkItem(ctx, wi)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.Status != repository.StatusSettled {
				continue
			}
			r, err := e.reverse(ctx, record.ID)
			if err != nil {
				return err
			}
			reopened = append(reopened, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("work_item", workItemLabel(wi)).Int("reopened", len(reopened)).Msg("work item reopened")
	return reopened, nil
}

// settle must run inside a unit of work
func (e *AllocationEngine) settle(ctx context.Context, id string) (*SettleResult, error) {
	record, err := e.allocations.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status == repository.StatusSettled {
		return &SettleResult{Record: record, Consumed: decimal.Zero, Returned: decimal.Zero, AlreadySettled: true}, nil
	}

	if record.Status == repository.StatusShortageFlagged {
		item, err := e.items.GetByID(ctx, record.StockItemID)
		if err != nil {
			return nil, err
		}
		return nil, errors.ShortageNotJustified(Evaluate(record, item).Shortfall.String())
	}

	result := &SettleResult{Record: record, Returned: decimal.Zero}
	if record.ActualQuantityUsed.Valid {
		result.Consumed = record.ActualQuantityUsed.Decimal
	} else {
		result.Consumed = record.Total()
		result.ConsumptionAssumed = true
	}

	links := allocationLinks(record)
	if result.Consumed.IsPositive() {
		if _, err := e.ledger.Record(ctx, RecordInput{
			StockItemID: record.StockItemID,
			Kind:        repository.KindSale,
			Quantity:    result.Consumed,
			Links:       links,
		}); err != nil {
			return nil, err
		}
	}
	if record.ReturnToStock && record.RemainingQuantity.Valid && record.RemainingQuantity.Decimal.IsPositive() {
		result.Returned = record.RemainingQuantity.Decimal
		if _, err := e.ledger.Record(ctx, RecordInput{
			StockItemID: record.StockItemID,
			Kind:        repository.KindReturn,
			Quantity:    result.Returned,
			Links:       links,
		}); err != nil {
			return nil, err
		}
	}

	settledAt := e.now()
	record.ActualQuantityUsed = decimal.NewNullDecimal(result.Consumed)
	record.ConsumptionAssumed = result.ConsumptionAssumed
	record.Status = repository.StatusSettled
	record.SettledAt = &settledAt
	if err := e.allocations.Update(ctx, record); err != nil {
		return nil, err
	}

	emit(ctx, AllocationSettled{
		Record:   record,
		Consumed: result.Consumed,
		Returned: result.Returned,
		Assumed:  result.ConsumptionAssumed,
	})
	return result, nil
}

// reverse must run inside a unit of work
func (e *AllocationEngine) reverse(ctx context.Context, id string) (*repository.AllocationRecord, error) {
	record, err := e.allocations.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != repository.StatusSettled {
		return nil, errors.Conflict("only settled allocations can be reversed")
	}

	restored := decimal.Zero
	if record.ActualQuantityUsed.Valid {
		restored = record.ActualQuantityUsed.Decimal
	}
	removed := decimal.Zero
	if record.ReturnToStock && record.RemainingQuantity.Valid {
		removed = record.RemainingQuantity.Decimal
	}

	links := allocationLinks(record)
	if restored.IsPositive() {
		if _, err := e.ledger.Record(ctx, RecordInput{
			StockItemID: record.StockItemID,
			Kind:        repository.KindReturn,
			Quantity:    restored,
			Links:       links,
		}); err != nil {
			return nil, err
		}
	}
	if removed.IsPositive() {
		if _, err := e.ledger.Record(ctx, RecordInput{
			StockItemID: record.StockItemID,
			Kind:        repository.KindSale,
			Quantity:    removed,
			Links:       links,
		}); err != nil {
			return nil, err
		}
	}

	record.Status = repository.StatusInUse
	record.SettledAt = nil
	if record.ConsumptionAssumed {
		// nobody recorded this usage; the next settle assumes it again
		record.ActualQuantityUsed = decimal.NullDecimal{}
		record.ConsumptionAssumed = false
	}
	if err := e.allocations.Update(ctx, record); err != nil {
		return nil, err
	}

	emit(ctx, AllocationReversed{Record: record, Restored: restored, Removed: removed})
	return record, nil
}

func (e *AllocationEngine) logSettled(result *SettleResult) {
	if result.AlreadySettled {
		e.logger.Debug().Str("allocation_id", result.Record.ID).Msg("allocation already settled")
		return
	}
	if result.ConsumptionAssumed {
		e.logger.Warn().
			Str("allocation_id", result.Record.ID).
			Str("consumed", result.Consumed.String()).
			Msg("no consumption recorded, settled the full planned quantity")
	}
	e.logger.Info().
		Str("allocation_id", result.Record.ID).
		Str("consumed", result.Consumed.String()).
		Str("returned", result.Returned.String()).
		Msg("allocation settled")
}

func allocationLinks(record *repository.AllocationRecord) MovementLinks {
	wiType, wiID, allocationID := record.WorkItemType, record.WorkItemID, record.ID
	return MovementLinks{
		WorkItemType: &wiType,
		WorkItemID:   &wiID,
		ProjectID:    record.ProjectID,
		AllocationID: &allocationID,
	}
}

func allocationLockKey(id string) string {
	return "stock:allocation:" + id
}

func workItemLockKey(wi repository.WorkItem) string {
	return "stock:work-item:" + string(wi.Type) + ":" + wi.ID
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
