package ipfs

import (
	"context"
	"net/http"

	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/version"
)

const (
	web3StorageAPIURL     = "https://api.web3.storage"
	web3StorageGatewayURL = "https://w3s.link/ipfs/"
	web3UploadPath        = "upload"
)

// Web3Store uploads files to Web3.Storage with a bearer token.
type Web3Store struct {
	// APIURL and GatewayURL default to the public Web3.Storage endpoints.
	APIURL     string
	GatewayURL string

	token      string
	httpClient *http.Client
}

func NewWeb3Store(token string, httpClient *http.Client) *Web3Store {
	return &Web3Store{
		APIURL:     web3StorageAPIURL,
		GatewayURL: web3StorageGatewayURL,
		token:      token,
		httpClient: httpClient,
	}
}

func (s *Web3Store) Name() string { return ProviderWeb3Storage }

func (s *Web3Store) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	body, formType, err := multipartFile(name, contentType, data, nil)
	if err != nil {
		return Result{}, &UploadError{Provider: s.Name(), Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.FullURL(s.APIURL, web3UploadPath), body)
	if err != nil {
		return Result{}, &UploadError{Provider: s.Name(), Reason: err.Error()}
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Bearer "+s.token)
	version.SetUserAgent(req)

	var out struct {
		CID string `json:"cid"`
	}
	if err := doUpload(s.httpClient, s.Name(), req, &out); err != nil {
		return Result{}, err
	}
	if out.CID == "" {
		return Result{}, &UploadError{Provider: s.Name(), Reason: "response has no cid"}
	}
	return Result{Hash: out.CID, URL: s.GatewayURL + out.CID}, nil
}
