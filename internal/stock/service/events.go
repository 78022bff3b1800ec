package service

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// DomainEvent is raised by a service once its transaction has committed
type DomainEvent interface {
	EventName() string
}

// MovementRecorded follows every ledger posting
type MovementRecorded struct {
	Movement *repository.Movement
	Item     *repository.StockItem
}

func (MovementRecorded) EventName() string { return "movement_recorded" }

// AllocationPlanned follows Plan
type AllocationPlanned struct {
	Record *repository.AllocationRecord
}

func (AllocationPlanned) EventName() string { return "allocation_planned" }

// ShortageDetected is raised when a record enters shortage_flagged
type ShortageDetected struct {
	Record *repository.AllocationRecord
	Status ShortageStatus
}

func (ShortageDetected) EventName() string { return "shortage_detected" }

// AdditionalQuantityRequested follows AddAdditionalQuantity
type AdditionalQuantityRequested struct {
	Record        *repository.AllocationRecord
	Item          *repository.StockItem
	Amount        decimal.Decimal
	Justification string
	RequestType   string
	RequestedBy   string
}

func (AdditionalQuantityRequested) EventName() string { return "additional_quantity_requested" }

// AllocationSettled follows a settlement that posted movements
type AllocationSettled struct {
	Record   *repository.AllocationRecord
	Consumed decimal.Decimal
	Returned decimal.Decimal
	Assumed  bool
}

func (AllocationSettled) EventName() string { return "allocation_settled" }

// AllocationReversed follows Reverse
type AllocationReversed struct {
	Record   *repository.AllocationRecord
	Restored decimal.Decimal
	Removed  decimal.Decimal
}

func (AllocationReversed) EventName() string { return "allocation_reversed" }

// NotificationCreated is raised for every persisted notification
type NotificationCreated struct {
	Notification *repository.Notification
}

func (NotificationCreated) EventName() string { return "notification_created" }

// EventHandler reacts to a committed domain event
type EventHandler func(ctx context.Context, event DomainEvent) error

// EventBus dispatches domain events synchronously to its subscribers.
// Handler failures are logged; the change that raised the event is already
// committed and stays so.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *logger.Logger
}

// NewEventBus creates an event bus without subscribers
func NewEventBus(log *logger.Logger) *EventBus {
	return &EventBus{logger: log}
}

// Subscribe adds a handler that receives every event
func (b *EventBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish hands each event to every subscriber in subscription order
func (b *EventBus) Publish(ctx context.Context, events ...DomainEvent) {
	if b == nil || len(events) == 0 {
		return
	}

	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			if err := h(ctx, ev); err != nil {
				b.logger.Error().Err(err).Str("event", ev.EventName()).Msg("event handler failed")
			}
		}
	}
}

// SinkHandler forwards NotificationCreated events to a NotificationSink
func SinkHandler(sink NotificationSink) EventHandler {
	return func(ctx context.Context, event DomainEvent) error {
		ev, ok := event.(NotificationCreated)
		if !ok {
			return nil
		}
		return sink.Send(ctx, ev.Notification)
	}
}
