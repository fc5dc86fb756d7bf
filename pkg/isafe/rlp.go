// Copyright 2025 Certen Protocol
//
// RLP wire encoding for Address. iSafe events are decoded off-chain from the
// same canonical binary encoding the chain itself uses; this repo uses
// go-ethereum's RLP codec as the canonical-binary-encoding analogue (see
// DESIGN.md).

package isafe

import (
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// EncodeRLP implements rlp.Encoder. Addresses are variable length (20-32
// bytes) so they're carried as a length-prefixed byte string rather than a
// fixed-size array like Digest.
func (a Address) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, a.raw)
}

// DecodeRLP implements rlp.Decoder.
func (a *Address) DecodeRLP(s *rlp.Stream) error {
	var raw []byte
	if err := s.Decode(&raw); err != nil {
		return err
	}
	addr, err := NewAddress(raw)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
