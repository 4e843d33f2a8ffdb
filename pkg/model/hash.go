package model

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// HashSize is the length of a commit hash in bytes.
const HashSize = 32

// Hash identifies a commit by its content. The zero value is NoAncestorHash.
type Hash [HashSize]byte

// NoAncestorHash is the hash of the empty history. A branch created on an
// empty repository points here.
var NoAncestorHash = Hash{}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, enough for log lines.
func (h Hash) Short() string {
	return h.String()[:12]
}

func (h Hash) IsNoAncestor() bool {
	return h == NoAncestorHash
}

// ParseHash decodes a hex encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrapf(err, "invalid hash %q", s)
	}
	if len(b) != HashSize {
		return h, errors.Errorf("invalid hash %q: expected %d bytes, got %d", s, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a raw 32 byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
