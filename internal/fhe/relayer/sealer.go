package relayer

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rsa"
	"fmt"

	"filippo.io/hpke"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
)

const (
	// minRSAKeySize is the smallest RSA key we will seal to.
	minRSAKeySize = 2048

	SchemeHPKE = "hpke"
	SchemeJWE  = "jwe"
)

// hpkeInfo binds sealed payloads to this protocol.
var hpkeInfo = []byte("veilart/input-proof/v1")

// sealer encrypts a payload to the relayer's public key.
type sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Scheme() string
}

func hpkeSuite() (hpke.KEM, hpke.KDF, hpke.AEAD) {
	return hpke.DHKEM(ecdh.X25519()), hpke.HKDFSHA256(), hpke.AES256GCM()
}

// hpkeSealer uses HPKE base mode with X25519, HKDF-SHA256 and AES-256-GCM.
// The output is the encapsulated key followed by the ciphertext.
type hpkeSealer struct {
	publicKey hpke.PublicKey
}

func newHPKESealer(publicKey *ecdh.PublicKey) (*hpkeSealer, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("HPKE public key cannot be nil")
	}
	if publicKey.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("HPKE public key must be an X25519 key")
	}

	pk, err := hpke.NewDHKEMPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create HPKE public key: %w", err)
	}
	return &hpkeSealer{publicKey: pk}, nil
}

func (s *hpkeSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("data to encrypt cannot be empty")
	}

	_, kdf, aead := hpkeSuite()
	sealed, err := hpke.Seal(s.publicKey, kdf, aead, hpkeInfo, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal data with HPKE: %w", err)
	}
	return sealed, nil
}

func (s *hpkeSealer) Scheme() string { return SchemeHPKE }

// openHPKE reverses hpkeSealer.Seal.
func openHPKE(privateKey hpke.PrivateKey, sealed []byte) ([]byte, error) {
	_, kdf, aead := hpkeSuite()
	plaintext, err := hpke.Open(privateKey, kdf, aead, hpkeInfo, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open HPKE ciphertext: %w", err)
	}
	return plaintext, nil
}

// jweSealer produces JWE compact serializations using RSA-OAEP-256 for key
// wrapping and A256GCM for content encryption.
type jweSealer struct {
	keyID     string
	publicKey *rsa.PublicKey
}

func newJWESealer(keyID string, publicKey *rsa.PublicKey) (*jweSealer, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("RSA public key cannot be nil")
	}
	if size := publicKey.N.BitLen(); size < minRSAKeySize {
		return nil, fmt.Errorf("RSA key size must be at least %d bits, got %d bits", minRSAKeySize, size)
	}
	if keyID == "" {
		return nil, fmt.Errorf("keyID cannot be empty")
	}
	return &jweSealer{keyID: keyID, publicKey: publicKey}, nil
}

func (s *jweSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("data to encrypt cannot be empty")
	}

	headers := jwe.NewHeaders()
	if err := headers.Set("kid", s.keyID); err != nil {
		return nil, fmt.Errorf("failed to set key ID header: %w", err)
	}

	sealed, err := jwe.Encrypt(
		plaintext,
		jwe.WithKey(jwa.RSA_OAEP_256(), s.publicKey, jwe.WithPerRecipientHeaders(headers)),
		jwe.WithContentEncryption(jwa.A256GCM()),
		jwe.WithCompact(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt data: %w", err)
	}
	return sealed, nil
}

func (s *jweSealer) Scheme() string { return SchemeJWE }

func openJWE(privateKey *rsa.PrivateKey, sealed []byte) ([]byte, error) {
	return jwe.Decrypt(sealed, jwe.WithKey(jwa.RSA_OAEP_256(), privateKey))
}

// selfTest seals and opens a probe with a throwaway key to make sure the
// cryptographic primitives work in this process.
func selfTest() error {
	kem, kdf, aead := hpkeSuite()
	privateKey, err := kem.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate HPKE key pair: %w", err)
	}

	probe := []byte("veilart self-test")
	sealed, err := hpke.Seal(privateKey.PublicKey(), kdf, aead, hpkeInfo, probe)
	if err != nil {
		return fmt.Errorf("failed to seal probe: %w", err)
	}
	opened, err := hpke.Open(privateKey, kdf, aead, hpkeInfo, sealed)
	if err != nil {
		return fmt.Errorf("failed to open probe: %w", err)
	}
	if !bytes.Equal(probe, opened) {
		return fmt.Errorf("probe did not survive a round trip")
	}
	return nil
}
