package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/version"
)

// PlaceholderURL is returned for entries without content.
const PlaceholderURL = "/placeholder.svg"

// maxFetchSize bounds content read from a gateway.
const maxFetchSize = 10 << 20

// Gateway reads content over HTTP.
type Gateway struct {
	base       string
	httpClient *http.Client
}

// NewGateway returns a gateway rooted at base, for example
// https://ipfs.io/ipfs/. An empty base selects DefaultGateway.
func NewGateway(base string, httpClient *http.Client) *Gateway {
	if base == "" {
		base = DefaultGateway
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if httpClient == nil {
		httpClient = client.NewHTTPClient(nil, time.Minute)
	}
	return &Gateway{base: base, httpClient: httpClient}
}

// URL returns where hash can be fetched. Full http(s) URLs are returned as
// they are.
func (g *Gateway) URL(hash string) string {
	switch {
	case hash == "":
		return PlaceholderURL
	case strings.HasPrefix(hash, "http://"), strings.HasPrefix(hash, "https://"):
		return hash
	}
	return g.base + hash
}

// FetchText returns the content at hash as a string.
func (g *Gateway) FetchText(ctx context.Context, hash string) (string, error) {
	data, err := g.fetch(ctx, hash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchJSON decodes the content at hash into v.
func (g *Gateway) FetchJSON(ctx context.Context, hash string, v any) error {
	data, err := g.fetch(ctx, hash)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", hash, err)
	}
	return nil
}

func (g *Gateway) fetch(ctx context.Context, hash string) ([]byte, error) {
	if hash == "" {
		return nil, ErrInvalidCID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL(hash), nil)
	if err != nil {
		return nil, err
	}
	version.SetUserAgent(req)

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s from IPFS: %w", hash, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to load %s from IPFS: status %d: %s", hash, res.StatusCode, client.ErrorBody(res))
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s from IPFS: %w", hash, err)
	}
	if len(data) > maxFetchSize {
		return nil, fmt.Errorf("failed to load %s from IPFS: content is larger than %d bytes", hash, maxFetchSize)
	}
	return data, nil
}
