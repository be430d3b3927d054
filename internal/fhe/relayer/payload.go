package relayer

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilart/gallery/internal/fhe"
)

const payloadVersion = 1

// inputPayload is the plaintext sealed to the relayer:
//
//	version(1) | contract(20) | user(20) | chainID(8) | n(1) | n * (bits(1) | value(8))
//
// Integers are big-endian.
type inputPayload struct {
	Contract common.Address
	User     common.Address
	ChainID  uint64
	Values   []fhe.Value
}

const (
	payloadHeaderSize = 1 + common.AddressLength*2 + 8 + 1
	payloadValueSize  = 1 + 8
	maxBatchSize      = 255
)

func (p *inputPayload) MarshalBinary() ([]byte, error) {
	if len(p.Values) == 0 || len(p.Values) > maxBatchSize {
		return nil, fmt.Errorf("batch must contain between 1 and %d values, got %d", maxBatchSize, len(p.Values))
	}

	buf := make([]byte, 0, payloadHeaderSize+payloadValueSize*len(p.Values))
	buf = append(buf, payloadVersion)
	buf = append(buf, p.Contract.Bytes()...)
	buf = append(buf, p.User.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, p.ChainID)
	buf = append(buf, byte(len(p.Values)))
	for _, v := range p.Values {
		buf = append(buf, byte(v.Width))
		buf = binary.BigEndian.AppendUint64(buf, v.Plaintext)
	}
	return buf, nil
}

func (p *inputPayload) UnmarshalBinary(data []byte) error {
	if len(data) < payloadHeaderSize {
		return fmt.Errorf("payload too short: %d bytes", len(data))
	}
	if data[0] != payloadVersion {
		return fmt.Errorf("unsupported payload version %d", data[0])
	}

	off := 1
	p.Contract = common.BytesToAddress(data[off : off+common.AddressLength])
	off += common.AddressLength
	p.User = common.BytesToAddress(data[off : off+common.AddressLength])
	off += common.AddressLength
	p.ChainID = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	n := int(data[off])
	off++

	if want := payloadHeaderSize + n*payloadValueSize; len(data) != want {
		return fmt.Errorf("payload declares %d values but is %d bytes, expected %d", n, len(data), want)
	}

	p.Values = make([]fhe.Value, n)
	for i := range p.Values {
		p.Values[i] = fhe.Value{
			Width:     fhe.BitWidth(data[off]),
			Plaintext: binary.BigEndian.Uint64(data[off+1 : off+payloadValueSize]),
		}
		off += payloadValueSize
	}
	return nil
}
