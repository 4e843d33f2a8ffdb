// Package content encodes and decodes the table metadata pointers stored as
// payloads in the version store.
//
// Two wire formats exist for the same logical value. The legacy format only
// carries the metadata location and the content id:
//
//	Content {
//	  1: IcebergRefState { 1: metadata_location }
//	  5: id
//	}
//
// The current format adds the snapshot, schema, partition spec and sort
// order ids:
//
//	Content {
//	  1: id
//	  2: IcebergRefState {
//	       1: snapshot_id  2: schema_id  3: spec_id  4: sort_order_id
//	       5: metadata_location
//	     }
//	}
//
// Both use the protobuf wire format.
package content

import (
	"fmt"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/pkg/errors"
)

// ErrCorruptPayload is returned for payloads with an unknown type tag or a
// shape that matches neither format.
var ErrCorruptPayload = errors.New("corrupt payload")

// UnknownID is written to the numeric ids of a table upgraded from the
// legacy format. Iceberg uses -1 for "no current snapshot" and never assigns
// negative schema, spec or sort order ids.
const UnknownID = -1

// Encoding identifies the wire format of a payload.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingLegacy
	EncodingCurrent
)

func (e Encoding) String() string {
	switch e {
	case EncodingLegacy:
		return "legacy"
	case EncodingCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// Value is a decoded table pointer: either LegacyIcebergTable or
// IcebergTable.
type Value interface {
	Location() string
	ContentID() model.ContentID
	Encoding() Encoding
	isValue()
}

// LegacyIcebergTable is a table pointer in the legacy format.
type LegacyIcebergTable struct {
	MetadataLocation string
	ID               model.ContentID
}

// IcebergTable is a table pointer in the current format.
type IcebergTable struct {
	MetadataLocation string
	SnapshotID       int64
	SchemaID         int32
	SpecID           int32
	SortOrderID      int32
	ID               model.ContentID
}

func (t LegacyIcebergTable) Location() string           { return t.MetadataLocation }
func (t LegacyIcebergTable) ContentID() model.ContentID { return t.ID }
func (LegacyIcebergTable) Encoding() Encoding           { return EncodingLegacy }
func (LegacyIcebergTable) isValue()                     {}

func (t IcebergTable) Location() string           { return t.MetadataLocation }
func (t IcebergTable) ContentID() model.ContentID { return t.ID }
func (IcebergTable) Encoding() Encoding           { return EncodingCurrent }
func (IcebergTable) isValue()                     {}

// Upgrade widens a value to the current format. Location and content id are
// carried over, the numeric ids of a legacy value become UnknownID. Current
// values are returned unchanged.
func Upgrade(v Value) IcebergTable {
	switch t := v.(type) {
	case LegacyIcebergTable:
		return IcebergTable{
			MetadataLocation: t.MetadataLocation,
			SnapshotID:       UnknownID,
			SchemaID:         UnknownID,
			SpecID:           UnknownID,
			SortOrderID:      UnknownID,
			ID:               t.ID,
		}
	case IcebergTable:
		return t
	default:
		panic(fmt.Sprintf("unknown content value %T", v))
	}
}

// UpgradePayload decodes a stored payload and returns the current encoding
// of the upgraded value.
func UpgradePayload(typ model.ContentType, payload []byte) ([]byte, error) {
	v, err := Decode(typ, payload)
	if err != nil {
		return nil, err
	}
	return Encode(Upgrade(v)), nil
}
