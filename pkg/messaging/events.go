package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// User events (consumed)
	EventUserCreated     = "user.created"
	EventUserUpdated     = "user.updated"
	EventUserDeleted     = "user.deleted"
	EventUserRoleChanged = "user.role.changed"

	// Stock events (published)
	EventMovementRecorded    = "stock.movement.recorded"
	EventAllocationPlanned   = "stock.allocation.planned"
	EventAllocationSettled   = "stock.allocation.settled"
	EventAllocationReversed  = "stock.allocation.reversed"
	EventShortageDetected    = "stock.shortage.detected"
	EventAdditionalRequested = "stock.allocation.additional_requested"
	EventNotificationCreated = "stock.notification.created"
)

// Exchange names
const (
	ExchangeUserEvents  = "user.events"
	ExchangeStockEvents = "stock.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published when a user is created
type UserCreatedEvent struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleName  string `json:"role_name"`
}

// FullName returns the user's full name
func (e *UserCreatedEvent) FullName() string {
	return e.FirstName + " " + e.LastName
}

// UserUpdatedEvent is published when a user is updated
type UserUpdatedEvent struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"` // Changed fields
}

// UserDeletedEvent is published when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// UserRoleChangedEvent is published when a user's role changes
type UserRoleChangedEvent struct {
	UserID      string `json:"user_id"`
	OldRoleName string `json:"old_role_name"`
	NewRoleName string `json:"new_role_name"`
}

// Stock Events

// MovementRecordedEvent is published after a movement is committed
type MovementRecordedEvent struct {
	MovementID    string          `json:"movement_id"`
	StockItemID   string          `json:"stock_item_id"`
	Kind          string          `json:"kind"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	OnHand        decimal.Decimal `json:"on_hand"`
	AllocationID  *string         `json:"allocation_id,omitempty"`
	PerformedBy   string          `json:"performed_by"`
}

// AllocationEvent is published when an allocation record changes state
type AllocationEvent struct {
	AllocationID       string          `json:"allocation_id"`
	WorkItemType       string          `json:"work_item_type"`
	WorkItemID         string          `json:"work_item_id"`
	StockItemID        string          `json:"stock_item_id"`
	Status             string          `json:"status"`
	ConsumedQuantity   decimal.Decimal `json:"consumed_quantity,omitempty"`
	ReturnedQuantity   decimal.Decimal `json:"returned_quantity,omitempty"`
	ConsumptionAssumed bool            `json:"consumption_assumed,omitempty"`
}

// ShortageDetectedEvent is published when required stock exceeds availability
type ShortageDetectedEvent struct {
	AllocationID string          `json:"allocation_id"`
	StockItemID  string          `json:"stock_item_id"`
	Required     decimal.Decimal `json:"required"`
	Available    decimal.Decimal `json:"available"`
	Shortfall    decimal.Decimal `json:"shortfall"`
}

// AdditionalRequestedEvent is published when extra quantity is requested
type AdditionalRequestedEvent struct {
	AllocationID  string          `json:"allocation_id"`
	StockItemID   string          `json:"stock_item_id"`
	Amount        decimal.Decimal `json:"amount"`
	RequestType   string          `json:"request_type"`
	Justification string          `json:"justification"`
	RequestedBy   string          `json:"requested_by"`
}

// NotificationCreatedEvent is published for every notification handed to the sink
type NotificationCreatedEvent struct {
	NotificationID string  `json:"notification_id"`
	RecipientID    string  `json:"recipient_id"`
	Category       string  `json:"category"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	StockItemID    *string `json:"stock_item_id,omitempty"`
	AllocationID   *string `json:"allocation_id,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
