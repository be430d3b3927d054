package relayer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/logs"
	"github.com/veilart/gallery/pkg/version"
)

const (
	keyPath         = "v1/keyurl"
	inputProofPath  = "v1/input-proof"
	userDecryptPath = "v1/user-decrypt"

	// maxResponseBodySize bounds successful response bodies.
	maxResponseBodySize = 1 << 20
)

// InputProofRequest asks the relayer to register a sealed batch of inputs.
type InputProofRequest struct {
	ContractAddress string `json:"contractAddress"`
	UserAddress     string `json:"userAddress"`
	ContractChainID uint64 `json:"contractChainId"`
	KeyID           string `json:"keyId"`
	Scheme          string `json:"scheme"`
	// Ciphertext is the base64 encoded sealed payload.
	Ciphertext string `json:"ciphertext"`
}

type InputProofResponse struct {
	Handles    []string `json:"handles"`
	InputProof string   `json:"inputProof"`
}

type UserDecryptRequest struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
	UserAddress     string `json:"userAddress"`
	ContractChainID uint64 `json:"contractChainId"`
}

type UserDecryptResponse struct {
	// Value is the decimal plaintext.
	Value string `json:"value"`
}

// Client is a service instance bound to one relayer and network.
type Client struct {
	relayerURL string
	network    fhe.NetworkConfig
	httpClient *http.Client
	keys       keyFetcher
}

var _ fhe.Instance = (*Client)(nil)

// Encrypt seals values to the relayer's key and returns the handles and proof
// it issues. Every handle is checked against its position, width and chain.
func (c *Client) Encrypt(ctx context.Context, contract, user common.Address, values []fhe.Value) (*fhe.EncryptedInput, error) {
	key, err := c.keys.FetchKey(ctx)
	if err != nil {
		return nil, &fhe.ServiceError{Op: "input-proof", Reason: err.Error()}
	}

	payload := &inputPayload{
		Contract: contract,
		User:     user,
		ChainID:  c.network.ChainID,
		Values:   values,
	}
	plaintext, err := payload.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sealed, err := key.sealer.Seal(plaintext)
	if err != nil {
		return nil, err
	}

	var res InputProofResponse
	err = c.post(ctx, "input-proof", inputProofPath, InputProofRequest{
		ContractAddress: contract.Hex(),
		UserAddress:     user.Hex(),
		ContractChainID: c.network.ChainID,
		KeyID:           key.KeyID,
		Scheme:          key.Scheme(),
		Ciphertext:      base64.StdEncoding.EncodeToString(sealed),
	}, &res)
	if err != nil {
		return nil, err
	}

	return c.checkInputProof(res, values)
}

func (c *Client) checkInputProof(res InputProofResponse, values []fhe.Value) (*fhe.EncryptedInput, error) {
	invalid := func(format string, args ...any) error {
		return &fhe.ServiceError{Op: "input-proof", StatusCode: http.StatusOK, Reason: fmt.Sprintf(format, args...)}
	}

	raw, err := hexutil.Decode(res.InputProof)
	if err != nil {
		return nil, invalid("invalid input proof encoding: %s", err)
	}
	proof, err := parseInputProof(raw)
	if err != nil {
		return nil, invalid("%s", err)
	}
	if len(res.Handles) != len(values) || len(proof.Handles) != len(values) {
		return nil, invalid("relayer returned %d handles and a proof for %d, expected %d", len(res.Handles), len(proof.Handles), len(values))
	}

	out := &fhe.EncryptedInput{
		Handles: make([]fhe.Handle, len(values)),
		Proof:   raw,
	}
	for i, s := range res.Handles {
		h, err := fhe.ParseHandle(s)
		if err != nil {
			return nil, invalid("%s", err)
		}
		if h != proof.Handles[i] {
			return nil, invalid("handle %d does not match the input proof", i)
		}
		if err := checkHandle(h, i, c.network.ChainID, values[i].Width); err != nil {
			return nil, invalid("%s", err)
		}
		out.Handles[i] = h
	}
	return out, nil
}

// Decrypt asks the relayer to decrypt handle for user.
func (c *Client) Decrypt(ctx context.Context, handle fhe.Handle, contract, user common.Address) (uint64, error) {
	var res UserDecryptResponse
	err := c.post(ctx, "user-decrypt", userDecryptPath, UserDecryptRequest{
		Handle:          handle.Hex(),
		ContractAddress: contract.Hex(),
		UserAddress:     user.Hex(),
		ContractChainID: c.network.ChainID,
	}, &res)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseUint(res.Value, 10, 64)
	if err != nil {
		return 0, &fhe.ServiceError{Op: "user-decrypt", StatusCode: http.StatusOK, Reason: fmt.Sprintf("invalid plaintext %q", res.Value)}
	}
	return value, nil
}

// post sends in as JSON and decodes the response into out. Refusals map to
// fhe.ErrNotAuthorized, unknown handles to fhe.ErrHandleNotFound, and
// everything else to *fhe.ServiceError.
func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	endpoint := client.FullURL(c.relayerURL, path)

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	version.SetUserAgent(req)

	klog.FromContext(ctx).WithName("relayer").V(logs.Trace).Info("Sending request", "op", op, "url", endpoint)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &fhe.ServiceError{Op: op, Reason: err.Error()}
	}
	defer res.Body.Close()

	switch code := res.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", fhe.ErrNotAuthorized, client.ErrorBody(res))
	case code == http.StatusNotFound && op == "user-decrypt":
		return fmt.Errorf("%w: %s", fhe.ErrHandleNotFound, client.ErrorBody(res))
	case code < 200 || code >= 300:
		return &fhe.ServiceError{Op: op, StatusCode: code, Reason: client.ErrorBody(res)}
	}

	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBodySize)).Decode(out); err != nil {
		return &fhe.ServiceError{Op: op, StatusCode: res.StatusCode, Reason: fmt.Sprintf("invalid response body: %s", err)}
	}
	return nil
}
