package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/internal/chain"
	"github.com/veilart/gallery/internal/config"
	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/internal/fhe/relayer"
	"github.com/veilart/gallery/internal/gallery"
	"github.com/veilart/gallery/internal/ipfs"
	"github.com/veilart/gallery/internal/wallet"
	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/logs"
	"github.com/veilart/gallery/pkg/version"
)

const (
	httpTimeout      = 60 * time.Second
	uploadMaxElapsed = 2 * time.Minute
)

func printVersion(w io.Writer, verbose bool) {
	fmt.Fprintln(w, "VeilArt version: ", version.VeilArtVersion, runtime.GOOS+"/"+runtime.GOARCH)
	if verbose {
		fmt.Fprintln(w, "  Commit: ", version.Commit)
		fmt.Fprintln(w, "  Built:  ", version.BuildDate)
		fmt.Fprintln(w, "  Go:     ", runtime.Version())
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadConfig reads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.File != "" {
		klog.FromContext(cmd.Context()).V(logs.Debug).Info("Loaded config file", "file", cfg.File)
	}
	return cfg, nil
}

// env holds the collaborators of a command, built from the configuration.
type env struct {
	cfg        *config.Config
	network    fhe.NetworkConfig
	httpClient *http.Client

	node *ethclient.Client
	// wallet is nil when no account is configured.
	wallet *wallet.KeyWallet
	// contest is nil when no contract address is configured.
	contest     *chain.Client
	coordinator *fhe.Coordinator
	store       ipfs.Store
	gateway     *ipfs.Gateway
}

// setup builds the env of cmd. Callers close it.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newEnv(cmd.Context(), cfg, client.NewHTTPClient(nil, httpTimeout))
}

func newEnv(ctx context.Context, cfg *config.Config, httpClient *http.Client) (*env, error) {
	log := klog.FromContext(ctx)

	network, err := cfg.FHENetwork()
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:        cfg,
		network:    network,
		httpClient: httpClient,
		gateway:    ipfs.NewGateway(cfg.IPFS.Gateway, httpClient),
	}

	opts := cfg.IPFSOptions()
	opts.HTTPClient = httpClient
	store, err := ipfs.NewStore(ctx, opts)
	if err != nil {
		return nil, err
	}
	e.store = retryingStore{Store: store, maxElapsed: uploadMaxElapsed}

	e.node, err = wallet.DialWithClient(ctx, network.NetworkURL, httpClient)
	if err != nil {
		return nil, err
	}

	key, err := wallet.LoadKey(cfg.PrivateKey, cfg.PrivateKeyFile)
	switch {
	case errors.Is(err, wallet.ErrNoAccount):
		log.V(logs.Debug).Info("No account configured, only read operations are available")
	case err != nil:
		e.node.Close()
		return nil, err
	default:
		e.wallet = wallet.NewKeyWallet(key, e.node, network.NetworkURL, func(ctx context.Context, rpcURL string) (wallet.Node, error) {
			node, err := wallet.DialWithClient(ctx, rpcURL, httpClient)
			if err != nil {
				return nil, err
			}
			return node, nil
		})
	}

	if contract := cfg.Contract(); contract != (common.Address{}) {
		var signer chain.Signer
		if e.wallet != nil {
			signer = e.wallet
		}
		if e.contest, err = chain.NewClient(contract, e.node, signer); err != nil {
			e.close()
			return nil, err
		}
	}

	e.coordinator = fhe.NewCoordinator(relayer.NewRuntime(relayer.Options{
		HTTPClient: httpClient,
		KeyFile:    cfg.RelayerKeyFile,
	}), network)

	return e, nil
}

func (e *env) close() {
	if e.wallet != nil {
		e.wallet.Close()
		return
	}
	if e.node != nil {
		e.node.Close()
	}
}

// signer returns the wallet as an interface, nil when there is none.
func (e *env) signer() wallet.Wallet {
	if e.wallet == nil {
		return nil
	}
	return e.wallet
}

// requireContest returns the contest or chain.ErrNoContractAddress.
func (e *env) requireContest() (*chain.Client, error) {
	if e.contest == nil {
		return nil, chain.ErrNoContractAddress
	}
	return e.contest, nil
}

// requireAccount returns the account after checking that the node serves the
// configured chain.
func (e *env) requireAccount(ctx context.Context) (common.Address, error) {
	if e.wallet == nil {
		return common.Address{}, fmt.Errorf("%w: set private-key or private-key-file", wallet.ErrNoAccount)
	}
	if err := e.wallet.RequireNetwork(ctx, e.network.ChainID); err != nil {
		return common.Address{}, err
	}
	return e.wallet.Account(), nil
}

func (e *env) service() (*gallery.Service, error) {
	contest, err := e.requireContest()
	if err != nil {
		return nil, err
	}
	return gallery.NewService(gallery.Options{
		Contest:     contest,
		Store:       e.store,
		Gateway:     e.gateway,
		Coordinator: e.coordinator,
		Wallet:      e.signer(),
		CacheTTL:    e.cfg.CacheTTL,
	}), nil
}

// initialize makes the encryption service ready, retrying failures to reach
// the relayer with exponential backoff for up to maxElapsed. Failures of the
// local module are not retried.
func initialize(ctx context.Context, coordinator *fhe.Coordinator, maxElapsed time.Duration) error {
	log := klog.FromContext(ctx)

	operation := func() (fhe.Instance, error) {
		instance, err := coordinator.EnsureInitialized(ctx)
		var initErr *fhe.InitError
		if errors.As(err, &initErr) && initErr.Phase == fhe.PhaseLoadModule {
			return nil, backoff.Permanent(err)
		}
		return instance, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Info("Retrying encryption service initialization", "in", d.Round(time.Millisecond), "err", err)
		}),
	)
	return err
}

// retryUpload uploads data, retrying server errors and failed connections.
// Client errors such as bad credentials are returned at once.
func retryUpload(ctx context.Context, store ipfs.Store, name, contentType string, data []byte, maxElapsed time.Duration) (ipfs.Result, error) {
	log := klog.FromContext(ctx)

	operation := func() (ipfs.Result, error) {
		res, err := store.Upload(ctx, name, contentType, data)
		var uploadErr *ipfs.UploadError
		if errors.As(err, &uploadErr) && uploadErr.StatusCode >= 400 && uploadErr.StatusCode < 500 {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Info("Retrying upload", "provider", store.Name(), "in", d.Round(time.Millisecond), "err", err)
		}),
	)
}

// retryingStore retries uploads with retryUpload.
type retryingStore struct {
	ipfs.Store
	maxElapsed time.Duration
}

func (s retryingStore) Upload(ctx context.Context, name, contentType string, data []byte) (ipfs.Result, error) {
	return retryUpload(ctx, s.Store, name, contentType, data, s.maxElapsed)
}
