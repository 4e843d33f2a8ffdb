// Package model defines the data types shared by the version store and the
// catalog upgrade engine: content keys, commits, operations and branches.
package model

import (
	"strings"

	"github.com/pkg/errors"
)

// ContentKey names a catalog entry by its path segments, e.g.
// ["warehouse", "sales", "orders"]. Keys are not stable across renames;
// ContentID is.
type ContentKey []string

// ContentID is the stable identity of a catalog entry. It survives commits
// that replace the entry's value.
type ContentID string

// ContentType is the type tag stored next to every payload.
type ContentType byte

const (
	TypeUnknown      ContentType = 0
	TypeIcebergTable ContentType = 1
)

func (t ContentType) String() string {
	switch t {
	case TypeIcebergTable:
		return "ICEBERG_TABLE"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidKey is returned for empty keys or keys with empty segments.
var ErrInvalidKey = errors.New("invalid content key")

// NewContentKey builds a key from its segments.
func NewContentKey(elements ...string) ContentKey {
	k := make(ContentKey, len(elements))
	copy(k, elements)
	return k
}

func (k ContentKey) Validate() error {
	if len(k) == 0 {
		return errors.Wrap(ErrInvalidKey, "key has no elements")
	}
	for i, e := range k {
		if e == "" {
			return errors.Wrapf(ErrInvalidKey, "element %d of %q is empty", i, k.String())
		}
		if strings.ContainsRune(e, 0) {
			return errors.Wrapf(ErrInvalidKey, "element %d of %q contains a NUL byte", i, k.String())
		}
	}
	return nil
}

func (k ContentKey) String() string {
	return strings.Join(k, ".")
}

// MapKey returns an unambiguous string form of the key, usable as a map key.
func (k ContentKey) MapKey() string {
	return strings.Join(k, "\x00")
}

// ContentKeyFromMapKey reverses MapKey.
func ContentKeyFromMapKey(s string) ContentKey {
	return ContentKey(strings.Split(s, "\x00"))
}

// Compare orders keys element by element; a prefix sorts first.
func (k ContentKey) Compare(other ContentKey) int {
	for i := 0; i < len(k) && i < len(other); i++ {
		if c := strings.Compare(k[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	}
	return 0
}

func (k ContentKey) Equal(other ContentKey) bool {
	return k.Compare(other) == 0
}

// Entry is one live key together with its stored value.
type Entry struct {
	Key       ContentKey
	ContentID ContentID
	Type      ContentType
	Payload   []byte
}
