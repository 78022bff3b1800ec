package events

import (
	"context"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/messaging"
)

// ServiceName is the source stamped on published events
const ServiceName = "stock-service"

// StockEventPublisher forwards committed domain events to the stock.events
// exchange. It is also the NotificationSink of the service.
type StockEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a publisher on the stock events exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("stock_events"),
	}
}

// Send implements service.NotificationSink
func (p *StockEventPublisher) Send(ctx context.Context, n *repository.Notification) error {
	if p == nil {
		return nil
	}
	return p.publisher.Publish(ctx, messaging.EventNotificationCreated, messaging.NotificationCreatedEvent{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Category:       string(n.Category),
		Title:          n.Title,
		Message:        n.Message,
		StockItemID:    n.StockItemID,
		AllocationID:   n.AllocationID,
	})
}

// HandleEvent is subscribed to the service event bus. Notifications are
// left to Send.
func (p *StockEventPublisher) HandleEvent(ctx context.Context, event service.DomainEvent) error {
	if p == nil {
		return nil
	}

	var (
		eventType string
		data      interface{}
	)

	switch ev := event.(type) {
	case service.MovementRecorded:
		eventType = messaging.EventMovementRecorded
		data = messaging.MovementRecordedEvent{
			MovementID:    ev.Movement.ID,
			StockItemID:   ev.Movement.StockItemID,
			Kind:          string(ev.Movement.Kind),
			Quantity:      ev.Movement.Quantity,
			QuantityDelta: ev.Movement.QuantityDelta,
			OnHand:        ev.Item.Quantity,
			AllocationID:  ev.Movement.AllocationID,
			PerformedBy:   ev.Movement.PerformedBy,
		}
	case service.AllocationPlanned:
		eventType = messaging.EventAllocationPlanned
		data = allocationEvent(ev.Record)
	case service.AllocationSettled:
		eventType = messaging.EventAllocationSettled
		payload := allocationEvent(ev.Record)
		payload.ConsumedQuantity = ev.Consumed
		payload.ReturnedQuantity = ev.Returned
		payload.ConsumptionAssumed = ev.Assumed
		data = payload
	case service.AllocationReversed:
		eventType = messaging.EventAllocationReversed
		payload := allocationEvent(ev.Record)
		payload.ConsumedQuantity = ev.Restored.Neg()
		payload.ReturnedQuantity = ev.Removed.Neg()
		data = payload
	case service.ShortageDetected:
		eventType = messaging.EventShortageDetected
		data = messaging.ShortageDetectedEvent{
			AllocationID: ev.Record.ID,
			StockItemID:  ev.Record.StockItemID,
			Required:     ev.Status.Required,
			Available:    ev.Status.Available,
			Shortfall:    ev.Status.Shortfall,
		}
	case service.AdditionalQuantityRequested:
		eventType = messaging.EventAdditionalRequested
		data = messaging.AdditionalRequestedEvent{
			AllocationID:  ev.Record.ID,
			StockItemID:   ev.Record.StockItemID,
			Amount:        ev.Amount,
			RequestType:   ev.RequestType,
			Justification: ev.Justification,
			RequestedBy:   ev.RequestedBy,
		}
	default:
		return nil
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish stock event")
		return err
	}
	return nil
}

func allocationEvent(record *repository.AllocationRecord) messaging.AllocationEvent {
	return messaging.AllocationEvent{
		AllocationID: record.ID,
		WorkItemType: string(record.WorkItemType),
		WorkItemID:   record.WorkItemID,
		StockItemID:  record.StockItemID,
		Status:       string(record.Status),
	}
}
