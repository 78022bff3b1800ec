package messaging

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/stockflow-backend/pkg/logger"
)

func newTestConsumer() *Consumer {
	return &Consumer{
		queueName:  "stock-service.test",
		handlers:   make(map[string]MessageHandler),
		maxRetries: 3,
		logger:     logger.Nop(),
	}
}

func TestConsumer_Dispatch(t *testing.T) {
	c := newTestConsumer()

	var got UserCreatedEvent
	var correlation string
	c.RegisterHandler(EventUserCreated, func(ctx context.Context, event *Event) error {
		correlation = getCorrelationID(ctx)
		return event.UnmarshalData(&got)
	})

	event, err := NewEvent(EventUserCreated, "user-service", "corr-1", UserCreatedEvent{
		UserID: "u-1", FirstName: "Ana", LastName: "Silva", RoleName: "stock_manager",
	})
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)

	_, err = c.Dispatch(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", got.FullName())
	assert.Equal(t, "corr-1", correlation)
}

func TestConsumer_DispatchUnknownAndMalformed(t *testing.T) {
	c := newTestConsumer()

	event, err := NewEvent("user.unknown", "user-service", "", map[string]string{})
	require.NoError(t, err)
	body, _ := json.Marshal(event)

	got, err := c.Dispatch(context.Background(), body)
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.NotNil(t, got)

	got, err = c.Dispatch(context.Background(), []byte("{not json"))
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestGetRetryCount(t *testing.T) {
	assert.Equal(t, 0, getRetryCount(amqp.Delivery{}))
	msg := amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{amqp.Table{"count": int64(2)}},
	}}
	assert.Equal(t, 2, getRetryCount(msg))
}

func TestNewEvent_DecimalPayload(t *testing.T) {
	event, err := NewEvent(EventMovementRecorded, "stock-service", "", MovementRecordedEvent{
		MovementID:    "m-1",
		Quantity:      decimal.RequireFromString("2.5"),
		QuantityDelta: decimal.RequireFromString("-2.5"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)

	var decoded MovementRecordedEvent
	require.NoError(t, event.UnmarshalData(&decoded))
	assert.True(t, decoded.QuantityDelta.Equal(decimal.RequireFromString("-2.5")))
}
