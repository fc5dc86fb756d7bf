// Copyright 2025 Certen Protocol
//
// Address and digest types for the iSafe protocol projection.

package isafe

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is an on-chain account or member identifier. iSafe addresses are
// 20-32 bytes; unlike go-ethereum's fixed 20-byte common.Address, the
// underlying length varies by chain, so Address stores its raw bytes
// directly and borrows go-ethereum's hex conventions for textual form.
type Address struct {
	raw []byte
}

// ZeroAddress is the 32-byte all-zero address used as a safe default.
var ZeroAddress = Address{raw: make([]byte, 32)}

// NewAddress validates length (20-32 bytes) and returns an Address.
func NewAddress(raw []byte) (Address, error) {
	if len(raw) < 20 || len(raw) > 32 {
		return Address{}, fmt.Errorf("isafe: address must be 20-32 bytes, got %d", len(raw))
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Address{raw: cp}, nil
}

// ParseAddress parses a "0x"-prefixed hex string into an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("isafe: malformed address %q: %w", s, err)
	}
	return NewAddress(raw)
}

// Bytes returns the raw address bytes. The caller must not mutate them.
func (a Address) Bytes() []byte { return a.raw }

// String renders the address as lowercase "0x"-prefixed hex, the same
// textual form the chain's IotaAddress::to_string() produces.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a.raw)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return len(a.raw) == 0 }

// Equal compares two addresses by raw bytes.
func (a Address) Equal(other Address) bool { return bytes.Equal(a.raw, other.raw) }

// Digest is a 32-byte transaction digest.
type Digest [32]byte

// ErrMalformedDigest is returned when decoded digest bytes are not exactly
// 32 bytes. The codec wraps this as a MalformedEventError.
type ErrMalformedDigest struct {
	Len int
}

func (e *ErrMalformedDigest) Error() string {
	return fmt.Sprintf("isafe: transaction digest must be 32 bytes, got %d", e.Len)
}

// NewDigest validates and constructs a Digest from raw bytes.
func NewDigest(raw []byte) (Digest, error) {
	var d Digest
	if len(raw) != 32 {
		return d, &ErrMalformedDigest{Len: len(raw)}
	}
	copy(d[:], raw)
	return d, nil
}

// ParseDigest parses a "0x"-prefixed hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("isafe: malformed digest %q: %w", s, err)
	}
	return NewDigest(raw)
}

// String renders the digest as lowercase "0x"-prefixed hex.
func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}
