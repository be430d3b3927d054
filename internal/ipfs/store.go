// Package ipfs uploads content to IPFS pinning services and reads it back
// through an HTTP gateway.
package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/logs"
)

// Provider names accepted in configuration.
const (
	ProviderPinata      = "pinata"
	ProviderWeb3Storage = "web3storage"
	ProviderKubo        = "kubo"
	ProviderLocal       = "local"
)

// DefaultGateway is used when no gateway is configured.
const DefaultGateway = "https://ipfs.io/ipfs/"

// ErrInvalidCID is returned for strings that are not content identifiers.
var ErrInvalidCID = errors.New("invalid content identifier")

// Result describes uploaded content.
type Result struct {
	// Hash is the content identifier.
	Hash string `json:"hash"`
	// URL is where the content can be fetched over HTTP.
	URL string `json:"url"`
}

// Store uploads content.
type Store interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	Upload(ctx context.Context, name, contentType string, data []byte) (Result, error)
}

// UploadError reports a failed upload.
type UploadError struct {
	Provider   string
	StatusCode int
	Reason     string
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("failed to upload to %s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("failed to upload to %s: status %d: %s", e.Provider, e.StatusCode, e.Reason)
}

// Options selects and configures a Store.
type Options struct {
	// Provider forces a provider. When empty, the first provider with
	// credentials is used, in the order Pinata, Web3.Storage, Kubo, and the
	// local store is the fallback.
	Provider string

	PinataAPIKey     string
	PinataSecretKey  string
	Web3StorageToken string
	KuboURL          string

	HTTPClient *http.Client
}

// NewStore returns the Store selected by opts.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	log := klog.FromContext(ctx).WithName("ipfs")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = client.NewHTTPClient(nil, 5*time.Minute)
	}

	provider := opts.Provider
	if provider == "" {
		switch {
		case opts.PinataAPIKey != "" && opts.PinataSecretKey != "":
			provider = ProviderPinata
		case opts.Web3StorageToken != "":
			provider = ProviderWeb3Storage
		case opts.KuboURL != "":
			provider = ProviderKubo
		default:
			log.Info("No IPFS service configured, content is kept in memory and will not be reachable through a gateway")
			provider = ProviderLocal
		}
	}

	var store Store
	switch provider {
	case ProviderPinata:
		if opts.PinataAPIKey == "" || opts.PinataSecretKey == "" {
			return nil, errors.New("pinata needs both an API key and a secret key")
		}
		store = NewPinataStore(opts.PinataAPIKey, opts.PinataSecretKey, httpClient)
	case ProviderWeb3Storage:
		if opts.Web3StorageToken == "" {
			return nil, errors.New("web3.storage needs a token")
		}
		store = NewWeb3Store(opts.Web3StorageToken, httpClient)
	case ProviderKubo:
		if opts.KuboURL == "" {
			return nil, errors.New("kubo needs an RPC URL")
		}
		kubo, err := NewKuboStore(opts.KuboURL, httpClient)
		if err != nil {
			return nil, err
		}
		store = kubo
	case ProviderLocal:
		store = NewLocalStore()
	default:
		return nil, fmt.Errorf("unknown IPFS provider %q", provider)
	}

	log.V(logs.Debug).Info("Using IPFS store", "provider", store.Name())
	return &instrumented{Store: store}, nil
}

// UploadText uploads content as a plain text file.
func UploadText(ctx context.Context, store Store, content string) (Result, error) {
	return store.Upload(ctx, "content.txt", "text/plain", []byte(content))
}

// UploadJSON uploads v as indented JSON.
func UploadJSON(ctx context.Context, store Store, v any) (Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encoding JSON: %w", err)
	}
	return store.Upload(ctx, "metadata.json", "application/json", data)
}

// instrumented records upload metrics and logs around a Store.
type instrumented struct {
	Store
}

func (s *instrumented) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	log := klog.FromContext(ctx).WithName("ipfs").WithValues("provider", s.Name(), "name", name)

	res, err := s.Store.Upload(ctx, name, contentType, data)
	if err != nil {
		metricUploads.WithLabelValues(s.Name(), "failure").Inc()
		return Result{}, err
	}
	metricUploads.WithLabelValues(s.Name(), "success").Inc()
	metricUploadBytes.WithLabelValues(s.Name()).Observe(float64(len(data)))
	log.Info("Uploaded content", "cid", res.Hash, "bytes", len(data))
	return res, nil
}
