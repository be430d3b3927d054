package relayer

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veilart/gallery/internal/fhe"
)

// signatureSize is the size of a recoverable secp256k1 signature.
const signatureSize = crypto.SignatureLength

// inputProof is the proof the contract checks before accepting handles:
//
//	n(1) | signers(1) | handles(32*n) | signatures(65*signers) | extra
type inputProof struct {
	Handles    []fhe.Handle
	Signatures [][]byte
	Extra      []byte
}

func (p *inputProof) Bytes() []byte {
	buf := make([]byte, 0, 2+fhe.HandleSize*len(p.Handles)+signatureSize*len(p.Signatures)+len(p.Extra))
	buf = append(buf, byte(len(p.Handles)), byte(len(p.Signatures)))
	for _, h := range p.Handles {
		buf = append(buf, h[:]...)
	}
	for _, sig := range p.Signatures {
		buf = append(buf, sig...)
	}
	return append(buf, p.Extra...)
}

func parseInputProof(data []byte) (*inputProof, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("input proof too short: %d bytes", len(data))
	}

	n, signers := int(data[0]), int(data[1])
	need := 2 + n*fhe.HandleSize + signers*signatureSize
	if len(data) < need {
		return nil, fmt.Errorf("input proof declares %d handles and %d signatures but is only %d bytes", n, signers, len(data))
	}

	p := &inputProof{
		Handles:    make([]fhe.Handle, n),
		Signatures: make([][]byte, signers),
	}
	off := 2
	for i := range p.Handles {
		copy(p.Handles[i][:], data[off:off+fhe.HandleSize])
		off += fhe.HandleSize
	}
	for i := range p.Signatures {
		p.Signatures[i] = data[off : off+signatureSize]
		off += signatureSize
	}
	p.Extra = data[off:]
	return p, nil
}

// proofDigest is the message the relayer's signers sign.
func proofDigest(handles []fhe.Handle, contract, user common.Address, chainID uint64) []byte {
	data := make([]byte, 0, fhe.HandleSize*len(handles)+common.AddressLength*2+8)
	for _, h := range handles {
		data = append(data, h[:]...)
	}
	data = append(data, contract.Bytes()...)
	data = append(data, user.Bytes()...)
	data = binary.BigEndian.AppendUint64(data, chainID)
	return crypto.Keccak256(data)
}

// Signers recovers the addresses that signed the proof.
func (p *inputProof) Signers(contract, user common.Address, chainID uint64) ([]common.Address, error) {
	digest := proofDigest(p.Handles, contract, user, chainID)
	signers := make([]common.Address, 0, len(p.Signatures))
	for i, sig := range p.Signatures {
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		signers = append(signers, crypto.PubkeyToAddress(*pub))
	}
	return signers, nil
}

// Handle metadata lives in the last 11 bytes:
//
//	... | index(1) | chainID(8) | type(1) | version(1)
const (
	handleIndexOffset   = 21
	handleChainIDOffset = 22
	handleTypeOffset    = 30
	handleVersionOffset = 31

	handleVersion = 0
)

// typeCode is the ciphertext type recorded in a handle.
func typeCode(w fhe.BitWidth) byte {
	switch w {
	case fhe.Uint8:
		return 2
	case fhe.Uint16:
		return 3
	case fhe.Uint32:
		return 4
	case fhe.Uint64:
		return 5
	}
	return 0
}

// stampHandle writes the metadata bytes of h.
func stampHandle(h *fhe.Handle, index int, chainID uint64, w fhe.BitWidth) {
	h[handleIndexOffset] = byte(index)
	binary.BigEndian.PutUint64(h[handleChainIDOffset:handleTypeOffset], chainID)
	h[handleTypeOffset] = typeCode(w)
	h[handleVersionOffset] = handleVersion
}

// checkHandle verifies that h was minted for value index of a batch on
// chainID with width w.
func checkHandle(h fhe.Handle, index int, chainID uint64, w fhe.BitWidth) error {
	if got := int(h[handleIndexOffset]); got != index {
		return fmt.Errorf("handle %s has index %d, expected %d", h, got, index)
	}
	if got := binary.BigEndian.Uint64(h[handleChainIDOffset:handleTypeOffset]); got != chainID {
		return fmt.Errorf("handle %s is for chain %d, expected %d", h, got, chainID)
	}
	if got, want := h[handleTypeOffset], typeCode(w); got != want {
		return fmt.Errorf("handle %s has type %d, expected %d for %s", h, got, want, w)
	}
	return nil
}
