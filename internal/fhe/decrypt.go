package fhe

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/logs"
)

// Decrypt asks the service to decrypt handle on behalf of user.
//
// No access check is made here; the service decides. A refusal is returned
// as an error matching ErrNotAuthorized, an unknown handle as
// ErrHandleNotFound, and the all-zero handle as ErrUninitializedHandle without
// contacting the service. The returned value is only meaningful when err is
// nil.
func (c *Coordinator) Decrypt(ctx context.Context, handle Handle, contract, user common.Address) (uint64, error) {
	if handle.IsZero() {
		return 0, ErrUninitializedHandle
	}
	if err := checkAddresses(contract, user); err != nil {
		return 0, err
	}

	instance, err := c.EnsureInitialized(ctx)
	if err != nil {
		return 0, err
	}

	klog.FromContext(ctx).WithName("fhe").V(logs.Debug).Info("Requesting decryption", "handle", handle, "contract", contract, "user", user)

	value, err := instance.Decrypt(ctx, handle, contract, user)
	observe("decrypt", err)
	if err != nil {
		return 0, fmt.Errorf("decrypting handle %s: %w", handle, err)
	}

	return value, nil
}
