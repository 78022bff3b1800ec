package consumers

import (
	"context"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/messaging"
)

const queueName = "stock-service.user-events"

// RecipientStore is the recipient cache kept in step with user events
type RecipientStore interface {
	Set(ctx context.Context, rcpt *repository.Recipient) error
	Get(ctx context.Context, userID string) (*repository.Recipient, error)
	UpdateRole(ctx context.Context, userID, roleName string) error
	Delete(ctx context.Context, userID string) error
}

// UserEventConsumer consumes user events
type UserEventConsumer struct {
	consumer   *messaging.Consumer
	recipients RecipientStore
	logger     *logger.Logger
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(rmq *messaging.RabbitMQ, recipients RecipientStore, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, queueName, log)
	if err != nil {
		return nil, err
	}

	// Subscribe to user events
	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	c := &UserEventConsumer{
		consumer:   consumer,
		recipients: recipients,
		logger:     log.WithComponent("user_consumer"),
	}
	c.register(consumer)

	return c, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *UserEventConsumer) register(consumer *messaging.Consumer) {
	consumer.RegisterHandler(messaging.EventUserCreated, c.handleUserCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, c.handleUserUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, c.handleUserDeleted)
	consumer.RegisterHandler(messaging.EventUserRoleChanged, c.handleUserRoleChanged)
}

func (c *UserEventConsumer) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("name", data.FullName()).
		Msg("received user created event")

	rcpt := &repository.Recipient{
		UserID:    data.UserID,
		FirstName: data.FirstName,
		LastName:  data.LastName,
	}
	if data.Email != "" {
		rcpt.Email = &data.Email
	}
	if data.RoleName != "" {
		rcpt.RoleName = &data.RoleName
	}
	return c.recipients.Set(ctx, rcpt)
}

func (c *UserEventConsumer) handleUserUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user updated event")

	existing, err := c.recipients.Get(ctx, data.UserID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if v, ok := changedTo(data.Fields, "first_name"); ok {
		existing.FirstName = v
	}
	if v, ok := changedTo(data.Fields, "last_name"); ok {
		existing.LastName = v
	}
	if v, ok := changedTo(data.Fields, "email"); ok {
		existing.Email = &v
	}

	return c.recipients.Set(ctx, existing)
}

func (c *UserEventConsumer) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user deleted event")

	return c.recipients.Delete(ctx, data.UserID)
}

func (c *UserEventConsumer) handleUserRoleChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserRoleChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("old_role", data.OldRoleName).
		Str("new_role", data.NewRoleName).
		Msg("received user role changed event")

	return c.recipients.UpdateRole(ctx, data.UserID, data.NewRoleName)
}

// changedTo reads the new value of a field from an update event, which
// carries changes as {"field": {"from": ..., "to": ...}}
func changedTo(fields map[string]any, name string) (string, bool) {
	change, ok := fields[name].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := change["to"].(string)
	return v, ok
}
