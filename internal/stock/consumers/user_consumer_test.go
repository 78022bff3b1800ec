package consumers

import (
	"context"
	"testing"

	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecipients struct {
	byID map[string]*repository.Recipient
}

func (f *fakeRecipients) Set(_ context.Context, r *repository.Recipient) error {
	c := *r
	f.byID[r.UserID] = &c
	return nil
}

func (f *fakeRecipients) Get(_ context.Context, id string) (*repository.Recipient, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("recipient")
	}
	c := *r
	return &c, nil
}

func (f *fakeRecipients) UpdateRole(_ context.Context, id, role string) error {
	if r, ok := f.byID[id]; ok {
		r.RoleName = &role
	}
	return nil
}

func (f *fakeRecipients) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func newTestConsumer() (*UserEventConsumer, *fakeRecipients) {
	store := &fakeRecipients{byID: map[string]*repository.Recipient{}}
	return &UserEventConsumer{recipients: store, logger: logger.Nop()}, store
}

func event(t *testing.T, eventType string, data interface{}) *messaging.Event {
	t.Helper()
	ev, err := messaging.NewEvent(eventType, "user-service", "corr-1", data)
	require.NoError(t, err)
	return ev
}

func TestUserConsumer_Lifecycle(t *testing.T) {
	c, store := newTestConsumer()
	ctx := context.Background()

	require.NoError(t, c.handleUserCreated(ctx, event(t, messaging.EventUserCreated, messaging.UserCreatedEvent{
		UserID:    "u-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		RoleName:  "stock_manager",
	})))
	require.Contains(t, store.byID, "u-1")
	assert.Equal(t, "Ada Lovelace", store.byID["u-1"].FullName())
	assert.Equal(t, "stock_manager", *store.byID["u-1"].RoleName)

	require.NoError(t, c.handleUserUpdated(ctx, event(t, messaging.EventUserUpdated, messaging.UserUpdatedEvent{
		UserID: "u-1",
		Fields: map[string]any{
			"last_name": map[string]any{"from": "Lovelace", "to": "King"},
			"phone":     map[string]any{"from": "1", "to": "2"},
		},
	})))
	assert.Equal(t, "Ada King", store.byID["u-1"].FullName())

	require.NoError(t, c.handleUserRoleChanged(ctx, event(t, messaging.EventUserRoleChanged, messaging.UserRoleChangedEvent{
		UserID:      "u-1",
		OldRoleName: "stock_manager",
		NewRoleName: "viewer",
	})))
	assert.Equal(t, "viewer", *store.byID["u-1"].RoleName)

	require.NoError(t, c.handleUserDeleted(ctx, event(t, messaging.EventUserDeleted, messaging.UserDeletedEvent{UserID: "u-1"})))
	assert.NotContains(t, store.byID, "u-1")
}

func TestUserConsumer_UpdateUnknownUserIsIgnored(t *testing.T) {
	c, store := newTestConsumer()

	err := c.handleUserUpdated(context.Background(), event(t, messaging.EventUserUpdated, messaging.UserUpdatedEvent{
		UserID: "ghost",
		Fields: map[string]any{"first_name": map[string]any{"to": "Casper"}},
	}))
	require.NoError(t, err)
	assert.Empty(t, store.byID)
}

func TestUserConsumer_MalformedPayload(t *testing.T) {
	c, _ := newTestConsumer()
	ev := &messaging.Event{Type: messaging.EventUserCreated, Data: []byte(`"not an object"`)}
	assert.Error(t, c.handleUserCreated(context.Background(), ev))
}
