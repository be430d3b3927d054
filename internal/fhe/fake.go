package fhe

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeRuntime is an in-memory Runtime for tests. It records the order of
// phase calls and can be made to fail or block in either phase.
type FakeRuntime struct {
	// Gate, if non-nil, blocks LoadModule until it is closed.
	Gate chan struct{}

	mu          sync.Mutex
	loadErr     error
	instanceErr error
	calls       []string
	instance    *FakeInstance
}

// NewFakeRuntime returns a FakeRuntime whose instances share one
// FakeInstance.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{instance: NewFakeInstance()}
}

// SetErrors makes subsequent LoadModule and NewInstance calls fail with the
// given errors. nil clears a failure.
func (f *FakeRuntime) SetErrors(loadErr, instanceErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = loadErr
	f.instanceErr = instanceErr
}

// Calls returns the phases run so far, in order.
func (f *FakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeInstance returns the instance handed out by NewInstance.
func (f *FakeRuntime) FakeInstance() *FakeInstance {
	return f.instance
}

func (f *FakeRuntime) LoadModule(ctx context.Context) error {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, PhaseLoadModule)
	return f.loadErr
}

func (f *FakeRuntime) NewInstance(_ context.Context, network NetworkConfig) (Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, PhaseCreateInstance)
	if f.instanceErr != nil {
		return nil, f.instanceErr
	}
	if len(f.calls) < 2 || f.calls[len(f.calls)-2] != PhaseLoadModule {
		return nil, fmt.Errorf("instance created before module was loaded")
	}
	return f.instance, nil
}

// FakeInstance keeps ciphertexts in memory together with the users allowed to
// decrypt them. The user a value is encrypted for is always allowed.
type FakeInstance struct {
	mu           sync.Mutex
	next         uint64
	entries      map[Handle]*fakeEntry
	encryptCalls int
	decryptCalls int
}

type fakeEntry struct {
	value    uint64
	contract common.Address
	allowed  map[common.Address]bool
}

func NewFakeInstance() *FakeInstance {
	return &FakeInstance{entries: map[Handle]*fakeEntry{}}
}

func (f *FakeInstance) Encrypt(_ context.Context, contract, user common.Address, values []Value) (*EncryptedInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encryptCalls++

	out := &EncryptedInput{}
	proof := sha256.New()
	for _, v := range values {
		h := f.storeLocked(v.Plaintext, contract, user)
		out.Handles = append(out.Handles, h)
		proof.Write(h[:])
	}
	out.Proof = append([]byte{byte(len(values))}, proof.Sum(nil)...)
	return out, nil
}

func (f *FakeInstance) Decrypt(_ context.Context, handle Handle, contract, user common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decryptCalls++

	e, ok := f.entries[handle]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
	}
	if e.contract != contract || !e.allowed[user] {
		return 0, fmt.Errorf("%w: %s may not decrypt %s", ErrNotAuthorized, user, handle)
	}
	return e.value, nil
}

// Store records value as a ciphertext readable by users and returns its
// handle, as the contract does when it updates an encrypted counter.
func (f *FakeInstance) Store(value uint64, contract common.Address, users ...common.Address) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeLocked(value, contract, users...)
}

// Allow grants user access to handle.
func (f *FakeInstance) Allow(handle Handle, user common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[handle]; ok {
		e.allowed[user] = true
	}
}

// Calls returns how many encrypt and decrypt requests were made.
func (f *FakeInstance) Calls() (encrypt, decrypt int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encryptCalls, f.decryptCalls
}

func (f *FakeInstance) storeLocked(value uint64, contract common.Address, users ...common.Address) Handle {
	f.next++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], f.next)
	h := Handle(sha256.Sum256(append(seed[:], contract.Bytes()...)))

	allowed := map[common.Address]bool{}
	for _, u := range users {
		allowed[u] = true
	}
	f.entries[h] = &fakeEntry{value: value, contract: contract, allowed: allowed}
	return h
}
