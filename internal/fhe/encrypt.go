package fhe

import (
	"context"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/logs"
)

// EncryptValues encrypts values as one batch bound to contract and user.
//
// Inputs are validated before anything else happens: an unsupported width or
// a value that does not fit its width fails without initializing the service
// or making a request. On success the result holds exactly one handle per
// value, in the order given, and a single proof. There are no partial
// results.
func (c *Coordinator) EncryptValues(ctx context.Context, values []Value, contract, user common.Address) (*EncryptedInput, error) {
	if len(values) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, v := range values {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	if err := checkAddresses(contract, user); err != nil {
		return nil, err
	}

	instance, err := c.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}

	klog.FromContext(ctx).WithName("fhe").V(logs.Debug).Info("Encrypting values", "count", len(values), "contract", contract, "user", user)

	out, err := instance.Encrypt(ctx, contract, user, slices.Clone(values))
	if err == nil {
		err = checkEncrypted(out, len(values))
	}
	observe("encrypt", err)
	if err != nil {
		return nil, fmt.Errorf("encrypting %d values: %w", len(values), err)
	}

	return out, nil
}

// EncryptValue encrypts a single value and returns its handle and proof.
func (c *Coordinator) EncryptValue(ctx context.Context, value Value, contract, user common.Address) (Handle, []byte, error) {
	out, err := c.EncryptValues(ctx, []Value{value}, contract, user)
	if err != nil {
		return Handle{}, nil, err
	}
	return out.Handles[0], out.Proof, nil
}

func checkEncrypted(out *EncryptedInput, want int) error {
	if out == nil {
		return &ServiceError{Op: "encrypt", Reason: "service returned no result"}
	}
	if len(out.Handles) != want {
		return &ServiceError{Op: "encrypt", Reason: fmt.Sprintf("service returned %d handles for %d values", len(out.Handles), want)}
	}
	if len(out.Proof) == 0 {
		return &ServiceError{Op: "encrypt", Reason: "service returned an empty proof"}
	}
	return nil
}

func checkAddresses(contract, user common.Address) error {
	if (contract == common.Address{}) {
		return fmt.Errorf("%w: contract address is zero", ErrInvalidAddress)
	}
	if (user == common.Address{}) {
		return fmt.Errorf("%w: user address is zero", ErrInvalidAddress)
	}
	return nil
}
