package client

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"k8s.io/client-go/transport"
)

// maxErrorBodySize bounds how much of a failed response is kept for error
// messages.
const maxErrorBodySize = 500

// NewHTTPClient returns an HTTP client for talking to external services.
// Requests and responses are logged depending on the verbosity of the logger
// in the request context. rootCAs may be nil to use the system roots.
func NewHTTPClient(rootCAs *x509.CertPool, timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if rootCAs != nil {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}
		tr.TLSClientConfig.RootCAs = rootCAs
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport.NewDebuggingRoundTripper(tr, transport.DebugByContext),
	}
}

// FullURL joins base and path with exactly one slash between them.
func FullURL(base, path string) string {
	for strings.HasSuffix(base, "/") {
		base = strings.TrimSuffix(base, "/")
	}
	for strings.HasPrefix(path, "/") {
		path = strings.TrimPrefix(path, "/")
	}
	return fmt.Sprintf("%s/%s", base, path)
}

// ErrorBody returns a short description of a failed response. JSON bodies of
// the form {"message": "..."} or {"error": "..."} are reduced to the message.
func ErrorBody(res *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "<empty body>"
	}

	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		switch {
		case msg.Message != "":
			return msg.Message
		case msg.Error != "":
			return msg.Error
		}
	}

	return string(body)
}
