package relayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/pkg/client"
)

const defaultTimeout = 30 * time.Second

// Options configures a Runtime.
type Options struct {
	// HTTPClient is used for all relayer requests. If nil, a client with a
	// 30 second timeout is used.
	HTTPClient *http.Client

	// KeyFile is a JWKS document holding the relayer's encryption key. When
	// set, the key is not fetched from the relayer.
	KeyFile string
}

// Runtime is the fhe.Runtime backed by a relayer.
type Runtime struct {
	httpClient *http.Client
	keyFile    string

	mu     sync.Mutex
	loaded bool
	pinned *PublicKey
}

var _ fhe.Runtime = (*Runtime)(nil)

func NewRuntime(opts Options) *Runtime {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = client.NewHTTPClient(nil, defaultTimeout)
	}
	return &Runtime{
		httpClient: httpClient,
		keyFile:    opts.KeyFile,
	}
}

// LoadModule checks the local cryptography and loads the pinned key file,
// if any.
func (r *Runtime) LoadModule(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("relayer")

	if err := selfTest(); err != nil {
		return fmt.Errorf("encryption self-test failed: %w", err)
	}

	var pinned *PublicKey
	if r.keyFile != "" {
		key, err := loadKeyFile(r.keyFile)
		if err != nil {
			return err
		}
		logger.Info("Using pinned relayer key", "file", r.keyFile, "kid", key.KeyID, "scheme", key.Scheme())
		pinned = &key
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = true
	r.pinned = pinned
	return nil
}

// NewInstance returns a Client for network. The relayer key is fetched
// immediately so that an unreachable relayer fails here rather than on the
// first encryption.
func (r *Runtime) NewInstance(ctx context.Context, network fhe.NetworkConfig) (fhe.Instance, error) {
	r.mu.Lock()
	loaded, pinned := r.loaded, r.pinned
	r.mu.Unlock()

	if !loaded {
		return nil, errors.New("computation module is not loaded")
	}
	if err := network.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network configuration: %w", err)
	}

	var keys keyFetcher
	if pinned != nil {
		keys = staticKey{key: *pinned}
	} else {
		keys = newRemoteKeys(network.RelayerURL, r.httpClient)
	}

	if _, err := keys.FetchKey(ctx); err != nil {
		return nil, fmt.Errorf("while fetching relayer key: %w", err)
	}

	klog.FromContext(ctx).WithName("relayer").Info("Connected to relayer", "url", network.RelayerURL, "network", network.Name)

	return &Client{
		relayerURL: network.RelayerURL,
		network:    network,
		httpClient: r.httpClient,
		keys:       keys,
	}, nil
}
