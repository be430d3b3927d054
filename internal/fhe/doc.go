// Package fhe coordinates access to an external homomorphic-encryption
// service on behalf of the rest of the application.
//
// The service is started in two phases: the local computation module is
// loaded first, then a service instance is created for a fixed target network.
// A Coordinator owns that lifecycle. It runs at most one initialization at a
// time, shares the outcome with every concurrent caller, caches the resulting
// Instance until Reset, and leaves the state retryable after a failure.
//
// Encryption packs one or more plaintext values into a single batch bound to a
// contract address and a user address. The service returns one ciphertext
// handle per value, in input order, plus one validity proof covering all of
// them. Decryption is a request to the service, which alone decides whether
// the caller may see the value; a refusal is reported as ErrNotAuthorized and
// never as a number.
package fhe
