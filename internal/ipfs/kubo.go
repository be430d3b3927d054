package ipfs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ipfs/boxo/files"
	"github.com/ipfs/kubo/client/rpc"
	"github.com/ipfs/kubo/core/coreiface/options"
)

// KuboStore adds files to a Kubo node through its RPC API. Content is
// pinned by the node and served by GatewayURL.
type KuboStore struct {
	// GatewayURL defaults to DefaultGateway.
	GatewayURL string

	api *rpc.HttpApi
}

// NewKuboStore connects to the RPC API at url, for example
// http://127.0.0.1:5001.
func NewKuboStore(url string, httpClient *http.Client) (*KuboStore, error) {
	api, err := rpc.NewURLApiWithClient(url, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating kubo client: %w", err)
	}
	return &KuboStore{GatewayURL: DefaultGateway, api: api}, nil
}

func (s *KuboStore) Name() string { return ProviderKubo }

func (s *KuboStore) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	p, err := s.api.Unixfs().Add(ctx, files.NewBytesFile(data),
		options.Unixfs.CidVersion(1),
		options.Unixfs.RawLeaves(true),
	)
	if err != nil {
		return Result{}, &UploadError{Provider: s.Name(), Reason: err.Error()}
	}
	hash := p.RootCid().String()
	return Result{Hash: hash, URL: s.GatewayURL + hash}, nil
}
