package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/pkg/logs"
)

// Backend is what Client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client is the Contest backed by the deployed contract.
type Client struct {
	address  common.Address
	backend  Backend
	contract *bind.BoundContract
	signer   Signer
}

var _ Contest = (*Client)(nil)

// NewClient binds the contract at address. signer may be nil, in which case
// every write fails with ErrReadOnly.
func NewClient(address common.Address, backend Backend, signer Signer) (*Client, error) {
	if address == (common.Address{}) {
		return nil, ErrNoContractAddress
	}
	return &Client{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, contestABI, backend, backend, backend),
		signer:   signer,
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) callOpts(ctx context.Context) *bind.CallOpts {
	opts := &bind.CallOpts{Context: ctx}
	if c.signer != nil {
		opts.From = c.signer.Account()
	}
	return opts
}

func (c *Client) call(ctx context.Context, method string, params ...any) ([]any, error) {
	var out []any
	if err := c.contract.Call(c.callOpts(ctx), &out, method, params...); err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, fromRPCError(err))
	}
	return out, nil
}

func (c *Client) NextEntryID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "nextEntryId")
	if err != nil {
		return 0, err
	}
	return toUint64(out[0])
}

func (c *Client) GetEntry(ctx context.Context, id uint64) (*Entry, error) {
	out, err := c.call(ctx, "getEntry", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}

	entryID, err := toUint64(out[0])
	if err != nil {
		return nil, err
	}
	scores, err := fhe.HandleFromBig(*abi.ConvertType(out[8], new(*big.Int)).(**big.Int))
	if err != nil {
		return nil, err
	}

	return &Entry{
		ID:              entryID,
		Contestant:      *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Title:           *abi.ConvertType(out[2], new(string)).(*string),
		DescriptionHash: *abi.ConvertType(out[3], new(string)).(*string),
		FileHash:        *abi.ConvertType(out[4], new(string)).(*string),
		Tags:            *abi.ConvertType(out[5], new([]string)).(*[]string),
		Categories:      *abi.ConvertType(out[6], new([]string)).(*[]string),
		Timestamp:       time.Unix(int64(*abi.ConvertType(out[7], new(uint64)).(*uint64)), 0).UTC(),
		ScoresHandle:    scores,
	}, nil
}

func (c *Client) GetAllEntries(ctx context.Context) ([]uint64, error) {
	out, err := c.call(ctx, "getAllEntries")
	if err != nil {
		return nil, err
	}

	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, 0, len(raw))
	for _, b := range raw {
		id, err := toUint64(b)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) GetCategoryVotes(ctx context.Context, id uint64, category string) (fhe.Handle, error) {
	out, err := c.call(ctx, "getCategoryVotes", new(big.Int).SetUint64(id), category)
	if err != nil {
		return fhe.Handle{}, err
	}
	return fhe.HandleFromBig(*abi.ConvertType(out[0], new(*big.Int)).(**big.Int))
}

func (c *Client) SubmitEntry(ctx context.Context, s Submission) (uint64, common.Hash, error) {
	receipt, err := c.transact(ctx, "submitEntry", s.Title, s.DescriptionHash, s.FileHash, nonNil(s.Tags), nonNil(s.Categories))
	if err != nil {
		return 0, common.Hash{}, err
	}

	event := contestABI.Events["EntrySubmitted"]
	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) < 2 || log.Topics[0] != event.ID {
			continue
		}
		id, err := toUint64(new(big.Int).SetBytes(log.Topics[1].Bytes()))
		if err != nil {
			return 0, receipt.TxHash, err
		}
		return id, receipt.TxHash, nil
	}
	return 0, receipt.TxHash, &TxError{Method: "submitEntry", Hash: receipt.TxHash, Reason: "receipt has no EntrySubmitted event"}
}

func (c *Client) ScoreEntry(ctx context.Context, id uint64) (common.Hash, error) {
	receipt, err := c.transact(ctx, "scoreEntry", new(big.Int).SetUint64(id))
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

func (c *Client) VoteEntry(ctx context.Context, id uint64, category string) (common.Hash, error) {
	receipt, err := c.transact(ctx, "voteEntry", new(big.Int).SetUint64(id), category)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// transact sends a transaction and waits for it to be mined. Reverts caught
// during gas estimation are mapped to sentinel errors.
func (c *Client) transact(ctx context.Context, method string, params ...any) (*types.Receipt, error) {
	logger := klog.FromContext(ctx).WithName("chain")

	if c.signer == nil {
		return nil, ErrReadOnly
	}
	opts, err := c.signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		err = fromRPCError(err)
		if errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrInvalidCategory) {
			return nil, err
		}
		return nil, &TxError{Method: method, Reason: err.Error()}
	}
	logger.Info("Transaction sent", "method", method, "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, &TxError{Method: method, Hash: tx.Hash(), Reason: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &TxError{Method: method, Hash: tx.Hash(), Reason: "transaction reverted"}
	}

	logger.V(logs.Debug).Info("Transaction mined", "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
	return receipt, nil
}

func toUint64(v any) (uint64, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("expected *big.Int, got %T", v)
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("value %s does not fit in 64 bits", b)
	}
	return b.Uint64(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
