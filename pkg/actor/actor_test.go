package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentActorID(t *testing.T) {
	assert.Equal(t, SystemID, CurrentActorID(context.Background()))

	ctx := WithActor(context.Background(), &Actor{ID: "u-1", Name: "Ana"})
	assert.Equal(t, "u-1", CurrentActorID(ctx))

	ctx = WithActor(context.Background(), &Actor{})
	assert.Equal(t, SystemID, CurrentActorID(ctx))
}

func TestActor_IsSystem(t *testing.T) {
	var none *Actor
	assert.True(t, none.IsSystem())
	assert.True(t, SystemActor().IsSystem())
	assert.False(t, (&Actor{ID: "u-1"}).IsSystem())
	assert.Equal(t, "system", none.String())
}
