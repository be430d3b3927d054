package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/veilart/gallery/pkg/client"
	"github.com/veilart/gallery/pkg/version"
)

const (
	pinataAPIURL     = "https://api.pinata.cloud"
	pinataGatewayURL = "https://gateway.pinata.cloud/ipfs/"
	pinFilePath      = "pinning/pinFileToIPFS"
)

// PinataStore pins files with the Pinata API.
type PinataStore struct {
	// APIURL and GatewayURL default to the public Pinata endpoints.
	APIURL     string
	GatewayURL string

	apiKey     string
	secretKey  string
	httpClient *http.Client
}

func NewPinataStore(apiKey, secretKey string, httpClient *http.Client) *PinataStore {
	return &PinataStore{
		APIURL:     pinataAPIURL,
		GatewayURL: pinataGatewayURL,
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

func (s *PinataStore) Name() string { return ProviderPinata }

func (s *PinataStore) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	body, formType, err := multipartFile(name, contentType, data, func(w *multipart.Writer) error {
		metadata, err := json.Marshal(map[string]string{"name": name})
		if err != nil {
			return err
		}
		return w.WriteField("pinataMetadata", string(metadata))
	})
	if err != nil {
		return Result{}, &UploadError{Provider: s.Name(), Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.FullURL(s.APIURL, pinFilePath), body)
	if err != nil {
		return Result{}, &UploadError{Provider: s.Name(), Reason: err.Error()}
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("pinata_api_key", s.apiKey)
	req.Header.Set("pinata_secret_api_key", s.secretKey)
	version.SetUserAgent(req)

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := doUpload(s.httpClient, s.Name(), req, &out); err != nil {
		return Result{}, err
	}
	if out.IpfsHash == "" {
		return Result{}, &UploadError{Provider: s.Name(), Reason: "response has no IpfsHash"}
	}
	return Result{Hash: out.IpfsHash, URL: s.GatewayURL + out.IpfsHash}, nil
}

// multipartFile builds a form with data in the "file" field. extra may add
// further fields.
func multipartFile(name, contentType string, data []byte, extra func(*multipart.Writer) error) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if extra != nil {
		if err := extra(w); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// doUpload sends req and decodes a successful JSON response into out.
func doUpload(httpClient *http.Client, provider string, req *http.Request, out any) error {
	res, err := httpClient.Do(req)
	if err != nil {
		return &UploadError{Provider: provider, Reason: err.Error()}
	}
	defer res.Body.Close()

	if code := res.StatusCode; code < 200 || code >= 300 {
		return &UploadError{Provider: provider, StatusCode: code, Reason: client.ErrorBody(res)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return &UploadError{Provider: provider, StatusCode: res.StatusCode, Reason: fmt.Sprintf("decoding response: %s", err)}
	}
	return nil
}
