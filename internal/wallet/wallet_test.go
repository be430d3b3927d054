package wallet

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/ktesting"

	"github.com/veilart/gallery/internal/chain"
)

// Well known development key; never holds funds.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testAccount  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	log := ktesting.NewLogger(t, ktesting.NewConfig(ktesting.Verbosity(10)))
	return klog.NewContext(t.Context(), log)
}

func testDialer(ctx context.Context, rpcURL string) (Node, error) {
	return DialWithClient(ctx, rpcURL, http.DefaultClient)
}

func newTestWallet(t *testing.T, chainID uint64) (*KeyWallet, *chain.MockNode) {
	t.Helper()
	node := chain.NewMockNode(t, chain.NewMemoryContest(testContract, nil), chainID)
	key, err := LoadKey(testKeyHex, "")
	require.NoError(t, err)
	return NewKeyWallet(key, node.Backend, node.URL, testDialer), node
}

func TestLoadKey(t *testing.T) {
	t.Run("hex key with prefix", func(t *testing.T) {
		key, err := LoadKey("0x"+testKeyHex, "")
		require.NoError(t, err)
		assert.Equal(t, testAccount, crypto.PubkeyToAddress(key.PublicKey))
	})

	t.Run("key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte(testKeyHex+"\n"), 0o600))

		key, err := LoadKey("", path)
		require.NoError(t, err)
		assert.Equal(t, testAccount, crypto.PubkeyToAddress(key.PublicKey))
	})

	t.Run("hex key wins over file", func(t *testing.T) {
		key, err := LoadKey(testKeyHex, "/does/not/exist")
		require.NoError(t, err)
		assert.Equal(t, testAccount, crypto.PubkeyToAddress(key.PublicKey))
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadKey("", "")
		assert.ErrorIs(t, err, ErrNoAccount)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKey("", filepath.Join(t.TempDir(), "missing"))
		assert.ErrorContains(t, err, "reading private key file")
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := LoadKey("not-a-key", "")
		assert.ErrorContains(t, err, "invalid private key")
	})
}

func TestKeyWallet(t *testing.T) {
	t.Run("reports account, chain and balance", func(t *testing.T) {
		ctx := testContext(t)
		w, node := newTestWallet(t, 11155111)
		node.SetBalance(big.NewInt(42))

		assert.Equal(t, testAccount, w.Account())
		id, err := w.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(11155111), id)

		balance, err := w.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(42), balance.Int64())
	})

	t.Run("network checks", func(t *testing.T) {
		ctx := testContext(t)
		w, _ := newTestWallet(t, 31337)

		ok, err := w.CheckNetwork(ctx, 11155111)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, w.RequireNetwork(ctx, 11155111), ErrWrongNetwork)

		ok, err = w.CheckNetwork(ctx, 31337)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, w.RequireNetwork(ctx, 31337))
	})

	t.Run("transact opts sign for the node's chain", func(t *testing.T) {
		ctx := testContext(t)
		w, _ := newTestWallet(t, 11155111)

		opts, err := w.TransactOpts(ctx)
		require.NoError(t, err)
		assert.Equal(t, testAccount, opts.From)
		assert.Equal(t, ctx, opts.Context)
	})

	t.Run("submits through the contract client", func(t *testing.T) {
		ctx := testContext(t)
		w, node := newTestWallet(t, 11155111)
		contest, err := chain.NewClient(testContract, node.Backend, w)
		require.NoError(t, err)

		id, _, err := contest.SubmitEntry(ctx, chain.Submission{Title: "Sunset Dreams", Categories: []string{"painting"}})
		require.NoError(t, err)
		entry, err := node.Contest.Entry(id)
		require.NoError(t, err)
		assert.Equal(t, testAccount, entry.Contestant)
	})

	t.Run("switch network", func(t *testing.T) {
		ctx := testContext(t)
		w, _ := newTestWallet(t, 11155111)
		other := chain.NewMockNode(t, chain.NewMemoryContest(testContract, nil), 31337)

		err := w.SwitchNetwork(ctx, other.URL, 11155111)
		require.ErrorIs(t, err, ErrWrongNetwork)
		id, err := w.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(11155111), id, "failed switch keeps the old connection")

		require.NoError(t, w.SwitchNetwork(ctx, other.URL, 31337))
		id, err = w.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(31337), id)
		assert.Equal(t, other.URL, w.RPCURL())
	})

	t.Run("switch network needs a dialer", func(t *testing.T) {
		ctx := testContext(t)
		node := chain.NewMockNode(t, chain.NewMemoryContest(testContract, nil), 1)
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		w := NewKeyWallet(key, node.Backend, node.URL, nil)

		assert.Error(t, w.SwitchNetwork(ctx, node.URL, 1))
	})
}

func TestKeyWallet_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	w, _ := newTestWallet(t, 11155111)
	other := chain.NewMockNode(t, chain.NewMemoryContest(testContract, nil), 31337)

	events := w.Watch(ctx, 10*time.Millisecond)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w.SwitchAccount(ctx, key)
	select {
	case e := <-events:
		assert.Equal(t, Event{Type: AccountChanged, Account: crypto.PubkeyToAddress(key.PublicKey), ChainID: 11155111}, e)
	case <-time.After(5 * time.Second):
		t.Fatal("no account event")
	}

	require.NoError(t, w.SwitchNetwork(ctx, other.URL, 31337))
	select {
	case e := <-events:
		assert.Equal(t, NetworkChanged, e.Type)
		assert.Equal(t, uint64(31337), e.ChainID)
	case <-time.After(5 * time.Second):
		t.Fatal("no network event")
	}

	cancel()
	for range events {
	}
}
