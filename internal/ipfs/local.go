package ipfs

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// LocalStore keeps content in memory under its real CIDv1 (raw codec,
// sha2-256), so hashes match what a node would compute for a single-block
// raw upload. Nothing is published.
type LocalStore struct {
	// GatewayURL is used to build result URLs. Defaults to DefaultGateway.
	GatewayURL string

	mu      sync.RWMutex
	content map[string][]byte
}

func NewLocalStore() *LocalStore {
	return &LocalStore{GatewayURL: DefaultGateway, content: map[string][]byte{}}
}

func (s *LocalStore) Name() string { return ProviderLocal }

func (s *LocalStore) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return Result{}, &UploadError{Provider: s.Name(), Reason: err.Error()}
	}
	hash := c.String()

	s.mu.Lock()
	s.content[hash] = slices.Clone(data)
	s.mu.Unlock()

	return Result{Hash: hash, URL: s.GatewayURL + hash}, nil
}

// Get returns content previously uploaded under hash.
func (s *LocalStore) Get(hash string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.content[hash]
	return slices.Clone(data), ok
}

// ComputeCID returns the CIDv1 of data stored as a single raw block.
func ComputeCID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hashing content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// ValidCID reports whether s parses as a CIDv0 or CIDv1.
func ValidCID(s string) bool {
	_, err := ParseCID(s)
	return err == nil
}

// ParseCID parses s as a content identifier.
func ParseCID(s string) (cid.Cid, error) {
	if s == "" {
		return cid.Undef, ErrInvalidCID
	}
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w %q: %s", ErrInvalidCID, s, err)
	}
	return c, nil
}
