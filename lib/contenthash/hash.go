// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The bytes are
// the ASCII domain name, zero-padded.
type domainKey [32]byte

var (
	contentDomainKey = domainKey{
		'a', 's', 's', 'e', 't', 'p', 'i', 'p', 'e', '.', 'c', 'o', 'n', 't', 'e', 'n',
		't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	fullDomainKey = domainKey{
		'a', 's', 's', 'e', 't', 'p', 'i', 'p', 'e', '.', 'f', 'u', 'l', 'l', 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	pathDomainKey = domainKey{
		'a', 's', 's', 'e', 't', 'p', 'i', 'p', 'e', '.', 'p', 'a', 't', 'h', 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Content hashes the meta bytes and asset bytes of a single source
// path. Each input is length-prefixed so that moving bytes from the
// meta into the asset (or back) produces a different hash.
func Content(metaBytes, assetBytes []byte) Hash {
	hasher := newHasher(contentDomainKey)
	writeFramed(hasher, metaBytes)
	writeFramed(hasher, assetBytes)
	return sum(hasher)
}

// Full combines a content hash with the full hashes of the asset's
// load dependencies. Order matters: callers pass dependencies in the
// order they are recorded in the processed meta.
func Full(content Hash, dependencies []Hash) Hash {
	hasher := newHasher(fullDomainKey)
	hasher.Write(content[:])
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(dependencies)))
	hasher.Write(count[:])
	for _, dependency := range dependencies {
		hasher.Write(dependency[:])
	}
	return sum(hasher)
}

// Path hashes a (path, label) pair. An empty label and a missing label
// are the same thing.
func Path(path, label string) Hash {
	hasher := newHasher(pathDomainKey)
	writeFramed(hasher, []byte(path))
	writeFramed(hasher, []byte(label))
	return sum(hasher)
}

// IsZero reports whether h is the all-zero hash, which the pipeline
// uses for "no recorded hash".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// MarshalText encodes the hash as hex so it reads naturally in JSON
// meta files.
func (h Hash) MarshalText() ([]byte, error) {
	encoded := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(encoded, h[:])
	return encoded, nil
}

// UnmarshalText decodes a 64-character hex string.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Parse parses a 64-character hex string into a Hash.
func Parse(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(len(h)) {
		return Hash{}, fmt.Errorf("hash must be %d hex characters, got %d", hex.EncodedLen(len(h)), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("invalid hash hex: %w", err)
	}
	return h, nil
}

func newHasher(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func writeFramed(hasher *blake3.Hasher, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	hasher.Write(length[:])
	hasher.Write(data)
}

func sum(hasher *blake3.Hasher) Hash {
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}
