// Package relayer implements the encryption service runtime on top of a
// relayer's HTTP API.
//
// Plaintexts never leave the process in the clear: each batch is sealed to
// the relayer's published encryption key, using HPKE for X25519 keys or JWE
// (RSA-OAEP-256 with A256GCM) for RSA keys. The relayer answers with one
// handle per value and a signed input proof which the contract verifies on
// chain.
package relayer
