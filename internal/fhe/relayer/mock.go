package relayer

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"filippo.io/hpke"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/transport"

	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/pkg/version"
)

const (
	MockHPKEKeyID = "hpke-test-key-1"
	MockRSAKeyID  = "rsa-test-key-1"
)

type mockCiphertext struct {
	value    uint64
	contract common.Address
	allowed  map[common.Address]bool
}

// MockRelayer is a relayer backed by an in-memory ciphertext store. It
// decrypts the payloads it receives, mints handles and input proofs signed by
// a throwaway key, and enforces an access list on decryption: the user an
// input was encrypted for may decrypt it, and others only once Allow has been
// called.
type MockRelayer struct {
	// URL is the base URL to use as the relayer URL.
	URL string
	// Client trusts the server's certificate and logs requests depending on
	// the verbosity of the logger in the request context.
	Client *http.Client

	t      testing.TB
	mux    *http.ServeMux
	signer *ecdsa.PrivateKey

	hpkeKey hpke.PrivateKey
	hpkePub *ecdh.PublicKey
	rsaKey  *rsa.PrivateKey

	mu          sync.Mutex
	keyStatus   int
	keyRequests int
	seq         uint64
	ciphertexts map[fhe.Handle]*mockCiphertext
}

// MockRelayerOption configures a MockRelayer.
type MockRelayerOption func(*MockRelayer)

// WithRSAKey makes the relayer publish a 2048 bit RSA-OAEP-256 key instead of
// an X25519 key.
func WithRSAKey() MockRelayerOption {
	return func(m *MockRelayer) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(m.t, err)
		m.rsaKey = key
	}
}

// NewMockRelayer starts a MockRelayer which is shut down when the test ends.
func NewMockRelayer(t testing.TB, opts ...MockRelayerOption) *MockRelayer {
	t.Helper()

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	hpkeKey, err := hpke.NewDHKEMPrivateKey(priv)
	require.NoError(t, err)

	m := &MockRelayer{
		t:           t,
		mux:         http.NewServeMux(),
		signer:      signer,
		hpkeKey:     hpkeKey,
		hpkePub:     priv.PublicKey(),
		ciphertexts: map[fhe.Handle]*mockCiphertext{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.mux.HandleFunc("GET /"+keyPath, m.handleKeys)
	m.mux.HandleFunc("POST /"+inputProofPath, m.handleInputProof)
	m.mux.HandleFunc("POST /"+userDecryptPath, m.handleUserDecrypt)

	server := httptest.NewTLSServer(m)
	t.Cleanup(server.Close)

	m.URL = server.URL
	m.Client = server.Client()
	m.Client.Transport = transport.NewDebuggingRoundTripper(m.Client.Transport, transport.DebugByContext)
	return m
}

func (m *MockRelayer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.t.Log(r.Method, r.RequestURI)

	if r.Header.Get("User-Agent") != version.UserAgent() {
		http.Error(w, "should set user agent on all requests", http.StatusInternalServerError)
		return
	}
	m.mux.ServeHTTP(w, r)
}

// Signer is the address that signs input proofs.
func (m *MockRelayer) Signer() common.Address {
	return crypto.PubkeyToAddress(m.signer.PublicKey)
}

// SetKeyStatus makes the key endpoint fail with code. 0 restores it.
func (m *MockRelayer) SetKeyStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyStatus = code
}

// KeyRequests returns how many times the key endpoint was called.
func (m *MockRelayer) KeyRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyRequests
}

// Store records value as a uint32 ciphertext owned by contract and readable
// by users, the way the contract stores the result of on-chain arithmetic.
func (m *MockRelayer) Store(value uint64, contract common.Address, users ...common.Address) fhe.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeLocked(value, fhe.Uint32, 0, fhe.SepoliaConfig.ChainID, contract, users...)
}

// Allow grants user access to handle.
func (m *MockRelayer) Allow(handle fhe.Handle, user common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ct, ok := m.ciphertexts[handle]; ok {
		ct.allowed[user] = true
	}
}

// JWKS returns the key set served by the relayer.
func (m *MockRelayer) JWKS() []byte {
	var (
		key jwk.Key
		err error
	)
	if m.rsaKey != nil {
		key, err = jwk.Import(&m.rsaKey.PublicKey)
		require.NoError(m.t, err)
		require.NoError(m.t, key.Set(jwk.KeyIDKey, MockRSAKeyID))
		require.NoError(m.t, key.Set(jwk.AlgorithmKey, jwa.RSA_OAEP_256()))
	} else {
		key, err = jwk.Import(m.hpkePub)
		require.NoError(m.t, err)
		require.NoError(m.t, key.Set(jwk.KeyIDKey, MockHPKEKeyID))
	}
	require.NoError(m.t, key.Set(jwk.KeyUsageKey, "enc"))

	set := jwk.NewSet()
	require.NoError(m.t, set.AddKey(key))
	data, err := json.Marshal(set)
	require.NoError(m.t, err)
	return data
}

func (m *MockRelayer) storeLocked(value uint64, width fhe.BitWidth, index int, chainID uint64, contract common.Address, users ...common.Address) fhe.Handle {
	m.seq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.seq)

	h := fhe.Handle(sha256.Sum256(append(seq[:], contract.Bytes()...)))
	stampHandle(&h, index, chainID, width)

	allowed := map[common.Address]bool{}
	for _, u := range users {
		allowed[u] = true
	}
	m.ciphertexts[h] = &mockCiphertext{value: value, contract: contract, allowed: allowed}
	return h
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"message": fmt.Sprintf(format, args...)})
}

func (m *MockRelayer) handleKeys(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.keyRequests++
	status := m.keyStatus
	m.mu.Unlock()

	if status != 0 {
		writeMessage(w, status, "key service unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(m.JWKS())
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Header.Get("Content-Type") != "application/json" {
		writeMessage(w, http.StatusUnsupportedMediaType, "should send JSON on all requests")
		return false
	}
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request format: %s", err)
		return false
	}
	return true
}

func (m *MockRelayer) handleInputProof(w http.ResponseWriter, r *http.Request) {
	var req InputProofRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	sealed, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "ciphertext is not base64: %s", err)
		return
	}

	var plaintext []byte
	switch {
	case req.Scheme == SchemeHPKE && req.KeyID == MockHPKEKeyID:
		plaintext, err = openHPKE(m.hpkeKey, sealed)
	case req.Scheme == SchemeJWE && req.KeyID == MockRSAKeyID && m.rsaKey != nil:
		plaintext, err = openJWE(m.rsaKey, sealed)
	default:
		writeMessage(w, http.StatusBadRequest, "unknown key %q for scheme %q", req.KeyID, req.Scheme)
		return
	}
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to decrypt payload: %s", err)
		return
	}

	var payload inputPayload
	if err := payload.UnmarshalBinary(plaintext); err != nil {
		writeMessage(w, http.StatusBadRequest, "%s", err)
		return
	}

	contract, user := common.HexToAddress(req.ContractAddress), common.HexToAddress(req.UserAddress)
	if payload.Contract != contract || payload.User != user || payload.ChainID != req.ContractChainID {
		writeMessage(w, http.StatusBadRequest, "sealed payload does not match the request")
		return
	}
	for i, v := range payload.Values {
		if !v.Width.Supported() || v.Plaintext > v.Width.Max() {
			writeMessage(w, http.StatusBadRequest, "value %d is not a valid %s", i, v.Width)
			return
		}
	}

	m.mu.Lock()
	handles := make([]fhe.Handle, len(payload.Values))
	res := InputProofResponse{Handles: make([]string, len(payload.Values))}
	for i, v := range payload.Values {
		handles[i] = m.storeLocked(v.Plaintext, v.Width, i, payload.ChainID, contract, user)
		res.Handles[i] = handles[i].Hex()
	}
	m.mu.Unlock()

	sig, err := crypto.Sign(proofDigest(handles, contract, user, payload.ChainID), m.signer)
	require.NoError(m.t, err)

	proof := &inputProof{Handles: handles, Signatures: [][]byte{sig}}
	res.InputProof = hexutil.Encode(proof.Bytes())
	writeJSON(w, http.StatusOK, res)
}

func (m *MockRelayer) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var req UserDecryptRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	h, err := fhe.ParseHandle(req.Handle)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "%s", err)
		return
	}

	m.mu.Lock()
	ct, ok := m.ciphertexts[h]
	var allowed bool
	if ok {
		allowed = ct.contract == common.HexToAddress(req.ContractAddress) && ct.allowed[common.HexToAddress(req.UserAddress)]
	}
	m.mu.Unlock()

	switch {
	case !ok:
		writeMessage(w, http.StatusNotFound, "handle %s not found", h)
	case !allowed:
		writeMessage(w, http.StatusForbidden, "%s is not allowed to decrypt %s", req.UserAddress, h)
	default:
		writeJSON(w, http.StatusOK, UserDecryptResponse{Value: strconv.FormatUint(ct.value, 10)})
	}
}
