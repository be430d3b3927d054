package cmd

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/veilart/gallery/internal/fhe"
)

func TestRunChecks(t *testing.T) {
	t.Run("all good", func(t *testing.T) {
		world := newTestWorld(t, fhe.SepoliaConfig.ChainID)

		var out bytes.Buffer
		ok := runChecks(testContext(t), &out, world.config(contestantKey), world.relayer.Client)
		assert.True(t, ok, out.String())
		assert.Contains(t, out.String(), "configuration is valid\n")
		assert.Contains(t, out.String(), "connected to "+world.node.URL+"\n")
		assert.Contains(t, out.String(), "chain id: 11155111 (sepolia)\n")
		assert.Contains(t, out.String(), "account "+contestantAccount.Hex()+"\n")
		assert.Contains(t, out.String(), "balance: 1.0000 ETH\n")
		assert.Contains(t, out.String(), "contract deployed at "+testContract.Hex()+"\n")
		assert.Contains(t, out.String(), "entries: 0\n")
		assert.Contains(t, out.String(), "gas price: 1.0000 gwei\n")
		assert.Contains(t, out.String(), "relayer "+world.relayer.URL+" is ready\n")
		assert.Contains(t, out.String(), "no IPFS provider configured")
		assert.Contains(t, out.String(), "All checks passed.")
	})

	t.Run("low balance", func(t *testing.T) {
		world := newTestWorld(t, fhe.SepoliaConfig.ChainID)
		world.node.SetBalance(big.NewInt(1_000_000_000_000_000))

		var out bytes.Buffer
		ok := runChecks(testContext(t), &out, world.config(contestantKey), world.relayer.Client)
		assert.False(t, ok)
		assert.Contains(t, out.String(), "balance: 0.0010 ETH\n")
		assert.Contains(t, out.String(), "balance is below the recommended minimum of 0.0500 ETH")
		assert.Contains(t, out.String(), "Some checks failed.")
	})

	t.Run("nothing deployed and no account", func(t *testing.T) {
		world := newTestWorld(t, fhe.SepoliaConfig.ChainID)
		cfg := world.config("")
		elsewhere := common.HexToAddress("0x00000000000000000000000000000000000000aa")
		cfg.ContractAddress = elsewhere.Hex()

		var out bytes.Buffer
		ok := runChecks(testContext(t), &out, cfg, world.relayer.Client)
		assert.False(t, ok)
		assert.Contains(t, out.String(), "no account configured")
		assert.Contains(t, out.String(), "no contract deployed at "+elsewhere.Hex())
	})

	t.Run("wrong chain", func(t *testing.T) {
		world := newTestWorld(t, 31337)

		var out bytes.Buffer
		ok := runChecks(testContext(t), &out, world.config(contestantKey), world.relayer.Client)
		assert.False(t, ok)
		assert.Contains(t, out.String(), "serves chain 31337, expected 11155111 (sepolia)")
	})

	t.Run("invalid configuration", func(t *testing.T) {
		world := newTestWorld(t, fhe.SepoliaConfig.ChainID)
		cfg := world.config(contestantKey)
		cfg.IPFS.Provider = "s3"

		var out bytes.Buffer
		ok := runChecks(testContext(t), &out, cfg, world.relayer.Client)
		assert.False(t, ok)
		assert.Contains(t, out.String(), `invalid configuration`)
		assert.NotContains(t, out.String(), "Network")
	})
}
