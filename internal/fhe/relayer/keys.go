package relayer

import (
	"context"
	"crypto/ecdh"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/logs"
	"github.com/veilart/gallery/pkg/version"
)

const (
	keyCacheTTL = 15 * time.Minute

	// maxKeySetSize bounds the JWKS response body.
	maxKeySetSize = 1 << 20
)

// PublicKey is an encryption key published by the relayer.
type PublicKey struct {
	KeyID string

	sealer sealer
}

// Scheme is the sealing scheme used with this key, SchemeHPKE or SchemeJWE.
func (k PublicKey) Scheme() string {
	return k.sealer.Scheme()
}

// keyFetcher returns the key to seal payloads to.
type keyFetcher interface {
	FetchKey(ctx context.Context) (PublicKey, error)
}

var (
	_ keyFetcher = (*remoteKeys)(nil)
	_ keyFetcher = staticKey{}
)

// remoteKeys fetches the relayer's JWKS and caches the chosen key.
type remoteKeys struct {
	endpoint   string
	httpClient *http.Client

	mu        sync.Mutex
	cached    PublicKey
	fetchedAt time.Time
}

func newRemoteKeys(relayerURL string, httpClient *http.Client) *remoteKeys {
	return &remoteKeys{
		endpoint:   client.FullURL(relayerURL, keyPath),
		httpClient: httpClient,
	}
}

func (k *remoteKeys) FetchKey(ctx context.Context) (PublicKey, error) {
	logger := klog.FromContext(ctx).WithName("relayer")
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.fetchedAt.IsZero() && time.Since(k.fetchedAt) < keyCacheTTL {
		logger.V(logs.Trace).Info("Using cached key", "fetchedAt", k.fetchedAt.Format(time.RFC3339Nano), "kid", k.cached.KeyID)
		return k.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.endpoint, nil)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	version.SetUserAgent(req)

	res, err := k.httpClient.Do(req)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to fetch keys from %s: %w", k.endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return PublicKey{}, fmt.Errorf("unexpected status code %d from %s: %s", res.StatusCode, k.endpoint, client.ErrorBody(res))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxKeySetSize))
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to read response body: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to parse JWKs response: %w", err)
	}

	key, err := selectKey(set)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w at %s", err, k.endpoint)
	}

	logger.Info("Fetched relayer encryption key", "kid", key.KeyID, "scheme", key.Scheme())
	k.cached = key
	k.fetchedAt = time.Now()
	return key, nil
}

// staticKey is a key pinned from a local file.
type staticKey struct {
	key PublicKey
}

func (s staticKey) FetchKey(context.Context) (PublicKey, error) {
	return s.key, nil
}

// loadKeyFile reads a JWKS document from path and selects a key from it.
func loadKeyFile(path string) (PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to read key file: %w", err)
	}
	set, err := jwk.Parse(data)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	key, err := selectKey(set)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w in %s", err, path)
	}
	return key, nil
}

// selectKey returns the first usable encryption key in set. Keys without an
// ID, keys marked for signing, RSA keys smaller than 2048 bits or not meant
// for RSA-OAEP-256, and keys on curves other than X25519 are skipped.
func selectKey(set jwk.Set) (PublicKey, error) {
	for i := range set.Len() {
		key, ok := set.Key(i)
		if !ok {
			continue
		}

		kid, ok := key.KeyID()
		if !ok || kid == "" {
			continue
		}

		if use, ok := key.KeyUsage(); ok && use != "enc" {
			continue
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			continue
		}

		switch pub := raw.(type) {
		case *rsa.PublicKey:
			alg, ok := key.Algorithm()
			if !ok || alg.String() != jwa.RSA_OAEP_256().String() {
				continue
			}
			s, err := newJWESealer(kid, pub)
			if err != nil {
				continue
			}
			return PublicKey{KeyID: kid, sealer: s}, nil

		case *ecdh.PublicKey:
			s, err := newHPKESealer(pub)
			if err != nil {
				continue
			}
			return PublicKey{KeyID: kid, sealer: s}, nil
		}
	}

	return PublicKey{}, fmt.Errorf("no usable encryption key found")
}
