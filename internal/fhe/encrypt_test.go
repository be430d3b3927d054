package fhe

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testOwner    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e4d17dc79C8")
	testStranger = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func TestCoordinator_EncryptValues(t *testing.T) {
	t.Run("returns one handle per value in order", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)

		values := []Value{
			{Plaintext: 7, Width: Uint8},
			{Plaintext: 65535, Width: Uint16},
			{Plaintext: 1 << 31, Width: Uint32},
			{Plaintext: ^uint64(0), Width: Uint64},
		}
		out, err := c.EncryptValues(ctx, values, testContract, testOwner)
		require.NoError(t, err)
		require.Len(t, out.Handles, len(values))
		assert.NotEmpty(t, out.Proof)

		for i, v := range values {
			got, err := c.Decrypt(ctx, out.Handles[i], testContract, testOwner)
			require.NoError(t, err)
			assert.Equal(t, v.Plaintext, got, "handle %d", i)
		}

		encrypts, _ := rt.FakeInstance().Calls()
		assert.Equal(t, 1, encrypts, "a batch is a single request")
	})

	t.Run("unsupported width is rejected before initialization", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EncryptValues(ctx, []Value{
			{Plaintext: 1, Width: Uint8},
			{Plaintext: 1, Width: BitWidth(128)},
		}, testContract, testOwner)
		require.ErrorIs(t, err, ErrUnsupportedBitWidth)
		assert.EqualError(t, err, "value 1: unsupported bit width: uint128 (supported: uint8, uint16, uint32, uint64)")

		assert.Empty(t, rt.Calls())
		assert.Equal(t, StateUninitialized, c.State())
	})

	t.Run("out of range value is rejected", func(t *testing.T) {
		ctx := testContext(t)
		rt := NewFakeRuntime()
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EncryptValues(ctx, []Value{{Plaintext: 256, Width: Uint8}}, testContract, testOwner)
		require.ErrorIs(t, err, ErrValueOutOfRange)
		assert.Empty(t, rt.Calls())
	})

	t.Run("empty batch", func(t *testing.T) {
		c := NewCoordinator(NewFakeRuntime(), SepoliaConfig)
		_, err := c.EncryptValues(testContext(t), nil, testContract, testOwner)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("zero addresses", func(t *testing.T) {
		c := NewCoordinator(NewFakeRuntime(), SepoliaConfig)
		v := []Value{{Plaintext: 1, Width: Uint8}}

		_, err := c.EncryptValues(testContext(t), v, common.Address{}, testOwner)
		assert.ErrorIs(t, err, ErrInvalidAddress)
		_, err = c.EncryptValues(testContext(t), v, testContract, common.Address{})
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("initialization failure is returned", func(t *testing.T) {
		rt := NewFakeRuntime()
		rt.SetErrors(assert.AnError, nil)
		c := NewCoordinator(rt, SepoliaConfig)

		_, err := c.EncryptValues(testContext(t), []Value{{Plaintext: 1, Width: Uint8}}, testContract, testOwner)
		var initErr *InitError
		assert.ErrorAs(t, err, &initErr)
	})
}

func TestCoordinator_EncryptValue(t *testing.T) {
	ctx := testContext(t)
	c := NewCoordinator(NewFakeRuntime(), SepoliaConfig)

	handle, proof, err := c.EncryptValue(ctx, Value{Plaintext: 1, Width: Uint32}, testContract, testOwner)
	require.NoError(t, err)
	assert.False(t, handle.IsZero())
	assert.NotEmpty(t, proof)
}

func TestCheckEncrypted(t *testing.T) {
	var svcErr *ServiceError

	assert.ErrorAs(t, checkEncrypted(nil, 1), &svcErr)
	assert.ErrorAs(t, checkEncrypted(&EncryptedInput{Proof: []byte{1}}, 1), &svcErr)
	assert.EqualError(t, checkEncrypted(&EncryptedInput{Handles: make([]Handle, 2), Proof: []byte{1}}, 1),
		"encryption service encrypt failed: service returned 2 handles for 1 values")
	assert.ErrorAs(t, checkEncrypted(&EncryptedInput{Handles: make([]Handle, 1)}, 1), &svcErr)
	assert.NoError(t, checkEncrypted(&EncryptedInput{Handles: make([]Handle, 1), Proof: []byte{1}}, 1))
}
