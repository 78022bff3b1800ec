package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/i18n"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/permissions"
)

// ShortageStatus compares what a record needs with what is on hand
type ShortageStatus struct {
	InShortage bool            `json:"in_shortage"`
	Shortfall  decimal.Decimal `json:"shortfall"`
	Required   decimal.Decimal `json:"required"`
	Available  decimal.Decimal `json:"available"`
}

// Evaluate reports whether the item can cover the record. Settled records
// have already consumed their stock and are never short.
func Evaluate(record *repository.AllocationRecord, item *repository.StockItem) ShortageStatus {
	status := ShortageStatus{
		Required:  record.Total(),
		Available: item.Quantity,
		Shortfall: decimal.Zero,
	}
	if record.Status == repository.StatusSettled {
		return status
	}
	if status.Required.GreaterThan(status.Available) {
		status.InShortage = true
		status.Shortfall = status.Required.Sub(status.Available)
	}
	return status
}

// JustificationInput explains why a shortage is acceptable
type JustificationInput struct {
	Text   string
	Urgent bool
}

// ShortageWorkflow handles shortage justifications and stock notifications
type ShortageWorkflow struct {
	uow           *UnitOfWork
	items         ItemStore
	allocations   AllocationStore
	notifications NotificationStore
	recipients    RecipientDirectory
	now           func() time.Time
	logger        *logger.Logger
}

// NewShortageWorkflow creates a new shortage workflow
func NewShortageWorkflow(uow *UnitOfWork, stores Stores, log *logger.Logger) *ShortageWorkflow {
	return &ShortageWorkflow{
		uow:           uow,
		items:         stores.Items,
		allocations:   stores.Allocations,
		notifications: stores.Notifications,
		recipients:    stores.Recipients,
		now:           time.Now,
		logger:        log.WithComponent("shortage"),
	}
}

// EvaluateRecord loads a record and its item and evaluates them
func (w *ShortageWorkflow) EvaluateRecord(ctx context.Context, recordID string) (*ShortageStatus, error) {
	record, err := w.allocations.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	item, err := w.items.GetByID(ctx, record.StockItemID)
	if err != nil {
		return nil, err
	}
	status := Evaluate(record, item)
	return &status, nil
}

// RequestJustification stores a justification on the record, takes it out
// of shortage_flagged and notifies the stock managers
func (w *ShortageWorkflow) RequestJustification(ctx context.Context, recordID string, in JustificationInput) (*repository.AllocationRecord, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, errors.Validation(map[string]string{"justification": "is required"})
	}

	var record *repository.AllocationRecord
	var notified int
	err := w.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		record, err = w.allocations.GetByIDForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if record.Status == repository.StatusSettled {
			return errors.Conflict("allocation is already settled")
		}

		item, err := w.items.GetByID(ctx, record.StockItemID)
		if err != nil {
			return err
		}
		status := Evaluate(record, item)

		formatted := formatJustification(status.Shortfall, item.Unit, in.Urgent, text, w.now())
		record.JustificationShortage = &formatted
		if record.Status == repository.StatusShortageFlagged {
			record.Status = record.ResumeStatus()
		}
		if err := w.allocations.Update(ctx, record); err != nil {
			return err
		}

		params := map[string]string{
			"work_item":     workItemLabel(record.WorkItem()),
			"label":         item.Label,
			"reference":     item.Reference,
			"shortfall":     status.Shortfall.String(),
			"justification": text,
		}
		notified, err = w.notifyManagers(ctx, func(recipientID string) *repository.Notification {
			n := w.newNotification(recipientID, repository.CategoryStockShortage, "notifications.shortage", params)
			linkAllocation(n, record)
			return n
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info().
		Str("allocation_id", record.ID).
		Str("status", string(record.Status)).
		Bool("urgent", in.Urgent).
		Int("notified", notified).
		Msg("shortage justified")

	return record, nil
}

// ScanLowStock creates a stock_alert for every item at or below its
// threshold and every stock manager who has no unread alert for it yet.
// It returns the number of notifications created.
func (w *ShortageWorkflow) ScanLowStock(ctx context.Context) (int, error) {
	var created int
	err := w.uow.Do(ctx, func(ctx context.Context) error {
		created = 0
		items, err := w.items.ListBelowThreshold(ctx)
		if err != nil {
			return fmt.Errorf("list items below threshold: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		managers, err := w.managers(ctx)
		if err != nil {
			return err
		}

		for _, item := range items {
			n, err := w.alertLowStock(ctx, item, managers)
			if err != nil {
				return err
			}
			created += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	w.logger.Info().Int("created", created).Msg("low stock scan completed")
	return created, nil
}

// HandleEvent reacts to committed ledger and allocation events
func (w *ShortageWorkflow) HandleEvent(ctx context.Context, event DomainEvent) error {
	switch ev := event.(type) {
	case AdditionalQuantityRequested:
		return w.notifyAdditionalRequest(ctx, ev)
	case MovementRecorded:
		if !ev.Movement.QuantityDelta.IsNegative() {
			return nil
		}
		return w.uow.Do(ctx, func(ctx context.Context) error {
			// the event carries the item as it was between postings; a later
			// posting of the same unit may have lifted it back over the threshold
			item, err := w.items.GetByID(ctx, ev.Movement.StockItemID)
			if err != nil {
				return err
			}
			if !item.IsBelowThreshold() {
				return nil
			}
			managers, err := w.managers(ctx)
			if err != nil {
				return err
			}
			_, err = w.alertLowStock(ctx, item, managers)
			return err
		})
	}
	return nil
}

// ListNotifications returns a page of the recipient's notifications
func (w *ShortageWorkflow) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, page, perPage int) ([]*repository.Notification, int64, error) {
	return w.notifications.ListByRecipient(ctx, recipientID, unreadOnly, page, perPage)
}

// UnreadCount returns how many notifications the recipient has not read
func (w *ShortageWorkflow) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return w.notifications.CountUnread(ctx, recipientID)
}

// MarkRead marks one of the recipient's notifications as read
func (w *ShortageWorkflow) MarkRead(ctx context.Context, id, recipientID string) (*repository.Notification, error) {
	return w.notifications.MarkRead(ctx, id, recipientID)
}

func (w *ShortageWorkflow) notifyAdditionalRequest(ctx context.Context, ev AdditionalQuantityRequested) error {
	params := map[string]string{
		"work_item":     workItemLabel(ev.Record.WorkItem()),
		"label":         ev.Item.Label,
		"reference":     ev.Item.Reference,
		"quantity":      ev.Amount.String(),
		"unit":          ev.Record.UnitType,
		"request_type":  ev.RequestType,
		"justification": ev.Justification,
	}

	return w.uow.Do(ctx, func(ctx context.Context) error {
		_, err := w.notifyManagers(ctx, func(recipientID string) *repository.Notification {
			n := w.newNotification(recipientID, repository.CategoryAdditionalRequest, "notifications.additional_request", params)
			linkAllocation(n, ev.Record)
			return n
		})
		return err
	})
}

// alertLowStock must run inside a unit of work
func (w *ShortageWorkflow) alertLowStock(ctx context.Context, item *repository.StockItem, managers []*repository.Recipient) (int, error) {
	params := map[string]string{
		"label":        item.Label,
		"reference":    item.Reference,
		"quantity":     item.Quantity.String(),
		"min_quantity": item.MinQuantity.String(),
	}

	created := 0
	for _, m := range managers {
		n := w.newNotification(m.UserID, repository.CategoryStockAlert, "notifications.low_stock", params)
		itemID := item.ID
		n.StockItemID = &itemID
		inserted, err := w.notifications.CreateStockAlert(ctx, n)
		if err != nil {
			return created, fmt.Errorf("create stock alert: %w", err)
		}
		if !inserted {
			continue
		}
		emit(ctx, NotificationCreated{Notification: n})
		created++
	}
	return created, nil
}

// notifyManagers must run inside a unit of work
func (w *ShortageWorkflow) notifyManagers(ctx context.Context, build func(recipientID string) *repository.Notification) (int, error) {
	managers, err := w.managers(ctx)
	if err != nil {
		return 0, err
	}

	for _, m := range managers {
		n := build(m.UserID)
		if err := w.notifications.Create(ctx, n); err != nil {
			return 0, fmt.Errorf("create notification: %w", err)
		}
		emit(ctx, NotificationCreated{Notification: n})
	}
	return len(managers), nil
}

func (w *ShortageWorkflow) managers(ctx context.Context) ([]*repository.Recipient, error) {
	managers, err := w.recipients.ListByRoles(ctx, permissions.RolesWith(permissions.ModuleStock, permissions.ActionManage))
	if err != nil {
		return nil, fmt.Errorf("list stock managers: %w", err)
	}
	return managers, nil
}

func (w *ShortageWorkflow) newNotification(recipientID string, category repository.NotificationCategory, key string, params map[string]string) *repository.Notification {
	l := i18n.NewLocalizer(i18n.FallbackLocale())
	return &repository.Notification{
		RecipientID: recipientID,
		Title:       l.T(key+".title", params),
		Message:     l.T(key+".message", params),
		Category:    category,
	}
}

func linkAllocation(n *repository.Notification, record *repository.AllocationRecord) {
	itemID, wiType, wiID, allocationID := record.StockItemID, record.WorkItemType, record.WorkItemID, record.ID
	n.StockItemID = &itemID
	n.WorkItemType = &wiType
	n.WorkItemID = &wiID
	n.AllocationID = &allocationID
}

func formatJustification(shortfall decimal.Decimal, unit string, urgent bool, text string, at time.Time) string {
	urgency := "no"
	if urgent {
		urgency = "yes"
	}
	return fmt.Sprintf("Shortfall: %s %s\nUrgent: %s\nJustification: %s\nDate: %s",
		shortfall.String(), unit, urgency, text, at.UTC().Format("2006-01-02 15:04"))
}

func workItemLabel(wi repository.WorkItem) string {
	return string(wi.Type) + " " + wi.ID
}
