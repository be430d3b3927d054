package chain

import (
	"errors"
	"fmt"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

// MockNode is a JSON-RPC node serving a MemoryContest at its address. It
// implements the subset of the eth namespace that contract bindings and the
// wallet use. Transactions are mined as soon as they are received.
type MockNode struct {
	// URL is the HTTP endpoint of the node.
	URL string
	// Backend is connected to URL.
	Backend *ethclient.Client
	// Contest holds the contract state.
	Contest *MemoryContest

	eth *mockEth
}

// NewMockNode starts a node for chainID. It is stopped when the test ends.
func NewMockNode(t testing.TB, contest *MemoryContest, chainID uint64) *MockNode {
	t.Helper()

	eth := &mockEth{
		contest:  contest,
		chainID:  new(big.Int).SetUint64(chainID),
		balance:  new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		nonces:   map[common.Address]uint64{},
		receipts: map[common.Hash]*types.Receipt{},
	}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	backend, err := ethclient.Dial(httpServer.URL)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	return &MockNode{URL: httpServer.URL, Backend: backend, Contest: contest, eth: eth}
}

// SetBalance sets the balance reported for every account.
func (n *MockNode) SetBalance(wei *big.Int) {
	n.eth.mu.Lock()
	defer n.eth.mu.Unlock()
	n.eth.balance = new(big.Int).Set(wei)
}

// Transactions returns the number of transactions mined.
func (n *MockNode) Transactions() int {
	n.eth.mu.Lock()
	defer n.eth.mu.Unlock()
	return len(n.eth.receipts)
}

// rpcRevertError is a JSON-RPC error carrying an Error(string) revert payload,
// as nodes report failed calls and gas estimations.
type rpcRevertError struct {
	reason string
}

func (e *rpcRevertError) Error() string  { return "execution reverted: " + e.reason }
func (e *rpcRevertError) ErrorCode() int { return 3 }
func (e *rpcRevertError) ErrorData() any { return hexutil.Encode(revertData(e.reason)) }

var errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

func revertData(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, errorSelector...), packed...)
}

func toRevert(err error) error {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		return &rpcRevertError{reason: reasonEntryNotFound}
	case errors.Is(err, ErrInvalidCategory):
		return &rpcRevertError{reason: reasonInvalidCategory}
	}
	return err
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (a callArgs) data() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

// mockEth is registered as the eth namespace. Method names map to
// eth_<lowerCamelCase>.
type mockEth struct {
	contest *MemoryContest
	chainID *big.Int

	mu       sync.Mutex
	balance  *big.Int
	block    uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
}

func (e *mockEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(e.chainID)
}

func (e *mockEth) BlockNumber() hexutil.Uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return hexutil.Uint64(e.block)
}

func (e *mockEth) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1_000_000_000))
}

func (e *mockEth) GetBalance(account common.Address, block string) *hexutil.Big {
	e.mu.Lock()
	defer e.mu.Unlock()
	return (*hexutil.Big)(new(big.Int).Set(e.balance))
}

// GetBlockByNumber returns a pre-London header so that bindings build
// legacy transactions.
func (e *mockEth) GetBlockByNumber(number string, full bool) *types.Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &types.Header{
		Number:     new(big.Int).SetUint64(e.block),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		Time:       uint64(e.contest.now().Unix()),
	}
}

func (e *mockEth) GetCode(account common.Address, block string) hexutil.Bytes {
	if account != e.contest.Address() {
		return hexutil.Bytes{}
	}
	return hexutil.Bytes{0x60, 0x80, 0x60, 0x40}
}

func (e *mockEth) GetTransactionCount(account common.Address, block string) hexutil.Uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return hexutil.Uint64(e.nonces[account])
}

func (e *mockEth) Call(args callArgs, block *string) (hexutil.Bytes, error) {
	method, params, err := e.decode(args.To, args.data())
	if err != nil {
		return nil, err
	}

	var out []any
	switch method.Name {
	case "nextEntryId":
		out = []any{new(big.Int).SetUint64(e.contest.NextEntryID())}
	case "getAllEntries":
		ids := []*big.Int{}
		for _, id := range e.contest.EntryIDs() {
			ids = append(ids, new(big.Int).SetUint64(id))
		}
		out = []any{ids}
	case "getEntry":
		entry, err := e.contest.Entry(params[0].(*big.Int).Uint64())
		if err != nil {
			return nil, toRevert(err)
		}
		out = []any{
			new(big.Int).SetUint64(entry.ID),
			entry.Contestant,
			entry.Title,
			entry.DescriptionHash,
			entry.FileHash,
			nonNil(entry.Tags),
			nonNil(entry.Categories),
			uint64(entry.Timestamp.Unix()),
			entry.ScoresHandle.Big(),
		}
	case "getCategoryVotes":
		handle, err := e.contest.CategoryVotes(params[0].(*big.Int).Uint64(), params[1].(string))
		if err != nil {
			return nil, toRevert(err)
		}
		out = []any{handle.Big()}
	default:
		return nil, fmt.Errorf("%s is not a view function", method.Name)
	}

	return method.Outputs.Pack(out...)
}

func (e *mockEth) EstimateGas(args callArgs, block *string) (hexutil.Uint64, error) {
	method, params, err := e.decode(args.To, args.data())
	if err != nil {
		return 0, err
	}
	switch method.Name {
	case "scoreEntry":
		err = e.contest.checkScore(params[0].(*big.Int).Uint64())
	case "voteEntry":
		err = e.contest.checkVote(params[0].(*big.Int).Uint64(), params[1].(string))
	}
	if err != nil {
		return 0, toRevert(err)
	}
	return 200_000, nil
}

func (e *mockEth) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(e.chainID), tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %w", err)
	}
	method, params, err := e.decode(tx.To(), tx.Data())
	if err != nil {
		return common.Hash{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if tx.Nonce() != e.nonces[from] {
		return common.Hash{}, fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), e.nonces[from])
	}
	e.nonces[from]++
	e.block++

	logs, err := e.apply(from, method, params)
	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 100_000,
		GasUsed:           100_000,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(e.block),
	}
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		for i, l := range logs {
			l.TxHash = tx.Hash()
			l.BlockNumber = e.block
			l.Index = uint(i)
		}
		receipt.Logs = logs
	}
	e.receipts[tx.Hash()] = receipt
	return tx.Hash(), nil
}

func (e *mockEth) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receipts[hash]
}

func (e *mockEth) decode(to *common.Address, data []byte) (*abi.Method, []any, error) {
	if to == nil || *to != e.contest.Address() {
		return nil, nil, errors.New("no contract at target address")
	}
	if len(data) < 4 {
		return nil, nil, errors.New("missing method selector")
	}
	method, err := contestABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	params, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, params, nil
}

// apply runs a state-changing method and returns the logs it emits.
func (e *mockEth) apply(from common.Address, method *abi.Method, params []any) ([]*types.Log, error) {
	address := e.contest.Address()
	topic := func(id uint64) common.Hash { return common.BigToHash(new(big.Int).SetUint64(id)) }

	switch method.Name {
	case "submitEntry":
		s := Submission{
			Title:           params[0].(string),
			DescriptionHash: params[1].(string),
			FileHash:        params[2].(string),
			Tags:            params[3].([]string),
			Categories:      params[4].([]string),
		}
		id, _ := e.contest.Submit(from, s)
		event := contestABI.Events["EntrySubmitted"]
		data, err := event.Inputs.NonIndexed().Pack(s.Title)
		if err != nil {
			return nil, err
		}
		return []*types.Log{{
			Address: address,
			Topics:  []common.Hash{event.ID, topic(id), common.BytesToHash(from.Bytes())},
			Data:    data,
		}}, nil

	case "scoreEntry":
		id := params[0].(*big.Int).Uint64()
		if _, err := e.contest.Score(from, id); err != nil {
			return nil, err
		}
		event := contestABI.Events["EntryScored"]
		return []*types.Log{{
			Address: address,
			Topics:  []common.Hash{event.ID, topic(id), common.BytesToHash(from.Bytes())},
			Data:    []byte{},
		}}, nil

	case "voteEntry":
		id, category := params[0].(*big.Int).Uint64(), params[1].(string)
		if _, err := e.contest.Vote(from, id, category); err != nil {
			return nil, err
		}
		event := contestABI.Events["EntryVoted"]
		data, err := event.Inputs.NonIndexed().Pack(category)
		if err != nil {
			return nil, err
		}
		return []*types.Log{{
			Address: address,
			Topics:  []common.Hash{event.ID, topic(id), common.BytesToHash(from.Bytes())},
			Data:    data,
		}}, nil
	}
	return nil, fmt.Errorf("%s is not a transaction", method.Name)
}
