package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Revert reasons used by the contract.
const (
	reasonEntryNotFound   = "Entry not found"
	reasonInvalidCategory = "Entry does not belong to this category"
)

var (
	// ErrEntryNotFound is returned for an entry id the contract does not know.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrInvalidCategory is returned when voting in a category the entry was
	// not registered under.
	ErrInvalidCategory = errors.New("entry does not belong to this category")

	// ErrNoContractAddress is returned when no contract address is
	// configured.
	ErrNoContractAddress = errors.New("contract address is not configured")

	// ErrReadOnly is returned for writes when no account is available to
	// sign them.
	ErrReadOnly = errors.New("no account available to sign transactions")
)

// TxError reports a transaction that was sent but failed.
type TxError struct {
	Method string
	Hash   common.Hash
	Reason string
}

func (e *TxError) Error() string {
	if e.Hash == (common.Hash{}) {
		return fmt.Sprintf("%s transaction failed: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s transaction %s failed: %s", e.Method, e.Hash.Hex(), e.Reason)
}

// revertError maps a contract revert reason to a sentinel error.
func revertError(reason string) error {
	switch reason {
	case reasonEntryNotFound:
		return ErrEntryNotFound
	case reasonInvalidCategory:
		return ErrInvalidCategory
	}
	return nil
}

// fromRPCError translates a call or gas estimation failure into a sentinel
// error when the node reports a known revert reason. Other errors are
// returned unchanged.
func fromRPCError(err error) error {
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(s); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					if sentinel := revertError(reason); sentinel != nil {
						return fmt.Errorf("%w: %s", sentinel, err)
					}
				}
			}
		}
	}

	// Some nodes only include the reason in the message.
	msg := err.Error()
	for _, reason := range []string{reasonEntryNotFound, reasonInvalidCategory} {
		if strings.Contains(msg, reason) {
			return fmt.Errorf("%w: %s", revertError(reason), err)
		}
	}
	return err
}
