// Package wallet holds the account that signs transactions and tracks which
// network it is connected to.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/logs"
	"github.com/veilart/gallery/pkg/version"
)

var (
	// ErrNoAccount is returned when neither a private key nor a key file is
	// configured.
	ErrNoAccount = errors.New("no account configured: set a private key or a private key file")

	// ErrWrongNetwork is returned when the node serves a different chain than
	// the one the contract is deployed on.
	ErrWrongNetwork = errors.New("connected to the wrong network")
)

// Wallet signs transactions for a single account.
type Wallet interface {
	Account() common.Address
	ChainID(ctx context.Context) (uint64, error)
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// Node is the part of a node connection the wallet uses. *ethclient.Client
// satisfies it.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Dialer opens a connection to the node at rpcURL.
type Dialer func(ctx context.Context, rpcURL string) (Node, error)

// Dial connects to the JSON-RPC endpoint at rpcURL. Requests are logged
// depending on the verbosity of the logger in the request context.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	return DialWithClient(ctx, rpcURL, client.NewHTTPClient(nil, 60*time.Second))
}

// DialWithClient is Dial with a caller supplied HTTP client.
func DialWithClient(ctx context.Context, rpcURL string, httpClient *http.Client) (*ethclient.Client, error) {
	c, err := rpc.DialOptions(ctx, rpcURL,
		rpc.WithHTTPClient(httpClient),
		rpc.WithHeader("User-Agent", version.UserAgent()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rpcURL, err)
	}
	return ethclient.NewClient(c), nil
}

// LoadKey reads the account key. hexKey takes precedence over keyFile. Both
// accept an optional 0x prefix.
func LoadKey(hexKey, keyFile string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" && keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading private key file: %w", err)
		}
		hexKey = string(data)
	}
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoAccount
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// KeyWallet is a Wallet backed by a private key held in memory.
type KeyWallet struct {
	dial Dialer

	mu     sync.RWMutex
	key    *ecdsa.PrivateKey
	node   Node
	rpcURL string
}

var _ Wallet = (*KeyWallet)(nil)

// NewKeyWallet returns a wallet for key connected to node. dial is used by
// SwitchNetwork and may be nil if the network is never switched.
func NewKeyWallet(key *ecdsa.PrivateKey, node Node, rpcURL string, dial Dialer) *KeyWallet {
	return &KeyWallet{dial: dial, key: key, node: node, rpcURL: rpcURL}
}

func (w *KeyWallet) Account() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

// Node returns the current node connection.
func (w *KeyWallet) Node() Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.node
}

// RPCURL returns the endpoint of the current node connection.
func (w *KeyWallet) RPCURL() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rpcURL
}

// ChainID asks the node which chain it serves.
func (w *KeyWallet) ChainID(ctx context.Context) (uint64, error) {
	id, err := w.Node().ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s does not fit in 64 bits", id)
	}
	return id.Uint64(), nil
}

// Balance returns the account balance in wei.
func (w *KeyWallet) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := w.Node().BalanceAt(ctx, w.Account(), nil)
	if err != nil {
		return nil, fmt.Errorf("querying balance: %w", err)
	}
	return balance, nil
}

// TransactOpts returns options that sign with the wallet key for the chain
// the node serves.
func (w *KeyWallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	chainID, err := w.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	key := w.key
	w.mu.RUnlock()

	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("creating transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// CheckNetwork reports whether the node serves chain expected.
func (w *KeyWallet) CheckNetwork(ctx context.Context, expected uint64) (bool, error) {
	got, err := w.ChainID(ctx)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}

// RequireNetwork returns ErrWrongNetwork unless the node serves chain
// expected.
func (w *KeyWallet) RequireNetwork(ctx context.Context, expected uint64) error {
	got, err := w.ChainID(ctx)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: node serves chain %d, expected %d", ErrWrongNetwork, got, expected)
	}
	return nil
}

// SwitchNetwork connects to rpcURL and keeps the new connection only if it
// serves chain expected. The previous connection is closed on success.
func (w *KeyWallet) SwitchNetwork(ctx context.Context, rpcURL string, expected uint64) error {
	log := klog.FromContext(ctx).WithName("wallet")
	if w.dial == nil {
		return errors.New("switching networks is not supported by this wallet")
	}

	node, err := w.dial(ctx, rpcURL)
	if err != nil {
		return err
	}
	id, err := node.ChainID(ctx)
	if err != nil {
		node.Close()
		return fmt.Errorf("querying chain id: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != expected {
		node.Close()
		return fmt.Errorf("%w: %s serves chain %s, expected %d", ErrWrongNetwork, rpcURL, id, expected)
	}

	w.mu.Lock()
	old := w.node
	w.node, w.rpcURL = node, rpcURL
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}

	log.Info("Switched network", "rpcURL", rpcURL, "chainID", expected)
	return nil
}

// SwitchAccount replaces the signing key.
func (w *KeyWallet) SwitchAccount(ctx context.Context, key *ecdsa.PrivateKey) {
	w.mu.Lock()
	w.key = key
	w.mu.Unlock()
	klog.FromContext(ctx).WithName("wallet").V(logs.Debug).Info("Switched account", "account", w.Account().Hex())
}

// Close closes the node connection.
func (w *KeyWallet) Close() {
	if node := w.Node(); node != nil {
		node.Close()
	}
}
