package wallet

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/logs"
)

// EventType identifies what changed.
type EventType string

const (
	AccountChanged EventType = "AccountChanged"
	NetworkChanged EventType = "NetworkChanged"
)

// Event is emitted by Watch when the account or the network changes.
type Event struct {
	Type    EventType
	Account common.Address
	ChainID uint64
}

// Watch polls the wallet every interval and sends an event whenever the
// account or the chain id differs from the previous observation. The channel
// is closed when ctx is done. Failed chain id queries are logged and do not
// produce an event.
func (w *KeyWallet) Watch(ctx context.Context, interval time.Duration) <-chan Event {
	log := klog.FromContext(ctx).WithName("wallet")
	events := make(chan Event)

	account := w.Account()
	chainID, err := w.ChainID(ctx)
	if err != nil {
		log.Error(err, "Initial chain id query failed")
	}

	go func() {
		defer close(events)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		send := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if current := w.Account(); current != account {
				account = current
				log.Info("Account changed", "account", account.Hex())
				if !send(Event{Type: AccountChanged, Account: account, ChainID: chainID}) {
					return
				}
			}

			current, err := w.ChainID(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.V(logs.Debug).Info("Chain id query failed", "err", err)
				continue
			}
			if current != chainID {
				chainID = current
				log.Info("Network changed", "chainID", chainID)
				if !send(Event{Type: NetworkChanged, Account: account, ChainID: chainID}) {
					return
				}
			}
		}
	}()

	return events
}
