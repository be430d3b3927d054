package fhe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_Decrypt(t *testing.T) {
	t.Run("authorized user gets the plaintext", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)
		h := rt.FakeInstance().Store(42, testContract, testOwner)

		first, err := c.Decrypt(ctx, h, testContract, testOwner)
		require.NoError(t, err)
		second, err := c.Decrypt(ctx, h, testContract, testOwner)
		require.NoError(t, err)

		assert.Equal(t, uint64(42), first)
		assert.Equal(t, first, second)
	})

	t.Run("unauthorized user is refused", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)
		h := rt.FakeInstance().Store(42, testContract, testOwner)

		_, err := c.Decrypt(ctx, h, testContract, testStranger)
		require.ErrorIs(t, err, ErrNotAuthorized)
		assert.NotErrorIs(t, err, ErrHandleNotFound)

		rt.FakeInstance().Allow(h, testStranger)
		got, err := c.Decrypt(ctx, h, testContract, testStranger)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), got)
	})

	t.Run("unknown handle", func(t *testing.T) {
		c := NewCoordinator(NewFakeRuntime(), SepoliaConfig)
		h, err := ParseHandle("0x01")
		require.NoError(t, err)

		_, err = c.Decrypt(testContext(t), h, testContract, testOwner)
		assert.ErrorIs(t, err, ErrHandleNotFound)
		assert.NotErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("zero handle never reaches the service", func(t *testing.T) {
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.Decrypt(testContext(t), Handle{}, testContract, testOwner)
		assert.ErrorIs(t, err, ErrUninitializedHandle)
		assert.Empty(t, rt.Calls())
		_, decrypts := rt.FakeInstance().Calls()
		assert.Zero(t, decrypts)
	})
}
