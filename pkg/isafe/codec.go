// Copyright 2025 Certen Protocol
//
// Event Codec: decodes a raw chain event record into a typed iSafe event,
// filtering by the configured package id.

package isafe

import (
	"log"
	"os"
)

// RawEvent is the chain-delivered record the Checkpoint Driver feeds the
// Codec: a package id, a type name, and opaque canonical-binary contents.
type RawEvent struct {
	PackageID Address
	TypeName  string
	Contents  []byte
}

// Codec decodes RawEvents into typed Events, dropping anything not
// originating from the configured iSafe package.
type Codec struct {
	packageID Address
	logger    *log.Logger
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithLogger overrides the Codec's logger.
func WithLogger(logger *log.Logger) CodecOption {
	return func(c *Codec) { c.logger = logger }
}

// NewCodec builds a Codec scoped to packageID, the configured iSafe package.
func NewCodec(packageID Address, opts ...CodecOption) *Codec {
	c := &Codec{
		packageID: packageID,
		logger:    log.New(os.Stderr, "[isafe-codec] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode drops a RawEvent from a different package silently, with a
// warning (nil, nil); an unrecognized type name within the configured
// package is dropped without logging (nil, nil); anything else that fails
// to decode under its declared layout returns a *MalformedEventError.
func (c *Codec) Decode(raw RawEvent) (Event, error) {
	if !raw.PackageID.Equal(c.packageID) {
		c.logger.Printf("dropping event from non-iSafe package: %s", raw.PackageID)
		return nil, nil
	}
	return decodeByTypeName(raw.TypeName, raw.Contents)
}

// IsConfiguredPackage reports whether id is the package this Codec decodes
// events for.
func (c *Codec) IsConfiguredPackage(id Address) bool {
	return id.Equal(c.packageID)
}
