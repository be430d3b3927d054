package fhe

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BitWidth is the width of an encrypted unsigned integer.
type BitWidth uint8

const (
	Uint8  BitWidth = 8
	Uint16 BitWidth = 16
	Uint32 BitWidth = 32
	Uint64 BitWidth = 64
)

// Supported reports whether the service can encrypt values of this width.
func (w BitWidth) Supported() bool {
	switch w {
	case Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// Max returns the largest value representable in w bits.
func (w BitWidth) Max() uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return 1<<w - 1
}

func (w BitWidth) String() string {
	return fmt.Sprintf("uint%d", uint8(w))
}

// ParseBitWidth parses the type names used by the contract ABI and the
// relayer, e.g. "uint8" or "uint64".
func ParseBitWidth(s string) (BitWidth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "uint64":
		return Uint64, nil
	}
	return 0, fmt.Errorf("%w: %q (supported: uint8, uint16, uint32, uint64)", ErrUnsupportedBitWidth, s)
}

// Value is one plaintext pending encryption.
type Value struct {
	Plaintext uint64
	Width     BitWidth
}

func (v Value) validate() error {
	if !v.Width.Supported() {
		return fmt.Errorf("%w: %s (supported: uint8, uint16, uint32, uint64)", ErrUnsupportedBitWidth, v.Width)
	}
	if v.Plaintext > v.Width.Max() {
		return fmt.Errorf("%w: %d does not fit in %s", ErrValueOutOfRange, v.Plaintext, v.Width)
	}
	return nil
}

// HandleSize is the size of a ciphertext handle in bytes.
const HandleSize = 32

// Handle is an opaque reference to an encrypted value. On chain it is a
// uint256.
type Handle [HandleSize]byte

// IsZero reports whether h is the all-zero handle, which the contract returns
// for a counter that has never been written.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Hex returns the 0x-prefixed hex encoding of h.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// Big returns h as an unsigned integer, the form used by the contract ABI.
func (h Handle) Big() *big.Int {
	return new(uint256.Int).SetBytes32(h[:]).ToBig()
}

// HandleFromBig converts a uint256 read from the contract into a Handle.
func HandleFromBig(b *big.Int) (Handle, error) {
	if b == nil {
		return Handle{}, nil
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return Handle{}, fmt.Errorf("handle %s does not fit in 256 bits", b)
	}
	return Handle(u.Bytes32()), nil
}

// ParseHandle parses a handle from hex (with or without 0x) or from a decimal
// uint256 string.
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
		}
		if len(raw) > HandleSize {
			return Handle{}, fmt.Errorf("invalid handle %q: longer than %d bytes", s, HandleSize)
		}
		var h Handle
		copy(h[HandleSize-len(raw):], raw)
		return h, nil
	}
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return Handle(u.Bytes32()), nil
}

// EncryptedInput is the result of encrypting one batch: a handle per value,
// in input order, and one proof covering all of them.
type EncryptedInput struct {
	Handles []Handle
	Proof   []byte
}

// Instance is a live connection to the encryption service.
type Instance interface {
	// Encrypt encrypts values as a single batch bound to contract and user.
	Encrypt(ctx context.Context, contract, user common.Address, values []Value) (*EncryptedInput, error)

	// Decrypt asks the service to decrypt handle for user. The service
	// decides whether user is allowed to see the value.
	Decrypt(ctx context.Context, handle Handle, contract, user common.Address) (uint64, error)
}

// Runtime creates Instances. LoadModule must succeed before NewInstance is
// called.
type Runtime interface {
	// LoadModule prepares the local computation module.
	LoadModule(ctx context.Context) error

	// NewInstance creates a service instance bound to network.
	NewInstance(ctx context.Context, network NetworkConfig) (Instance, error)
}
