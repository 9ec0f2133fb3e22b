package registry_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/firmkit/fwdispatch/registry"
)

func TestPublish(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	first := uuid.New()
	second := uuid.New()

	assert.False(t, reg.Has(first))
	assert.True(t, reg.Publish(first))
	assert.True(t, reg.Has(first))

	assert.False(t, reg.Publish(first), "re-publishing must be a no-op")
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Publish(second))
	assert.Equal(t, []uuid.UUID{first, second}, reg.Tokens(), "publication order must be preserved")
}

func TestTokensSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	token := uuid.New()
	reg.Publish(token)

	snapshot := reg.Tokens()
	snapshot[0] = uuid.Nil

	assert.True(t, reg.Has(token))
	assert.Equal(t, []uuid.UUID{token}, reg.Tokens())
}
