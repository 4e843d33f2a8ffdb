package content

import (
	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	legacyFieldState = 1
	legacyFieldID    = 5

	currentFieldID    = 1
	currentFieldState = 2

	legacyStateFieldLocation = 1

	stateFieldSnapshotID  = 1
	stateFieldSchemaID    = 2
	stateFieldSpecID      = 3
	stateFieldSortOrderID = 4
	stateFieldLocation    = 5
)

// Classify reports the wire format of a payload by looking at its top level
// field numbers only.
func Classify(typ model.ContentType, payload []byte) (Encoding, error) {
	if typ != model.TypeIcebergTable {
		return EncodingUnknown, errors.Wrapf(ErrCorruptPayload, "unsupported type tag %d", typ)
	}
	if len(payload) == 0 {
		return EncodingUnknown, errors.Wrap(ErrCorruptPayload, "empty payload")
	}

	var hasLegacyID, hasCurrentState bool
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, _ []byte) error {
		switch {
		case num == legacyFieldID && typ == protowire.BytesType:
			hasLegacyID = true
		case num == currentFieldState && typ == protowire.BytesType:
			hasCurrentState = true
		}
		return nil
	})
	if err != nil {
		return EncodingUnknown, err
	}

	switch {
	case hasLegacyID && !hasCurrentState:
		return EncodingLegacy, nil
	case hasCurrentState && !hasLegacyID:
		return EncodingCurrent, nil
	default:
		return EncodingUnknown, errors.Wrap(ErrCorruptPayload, "payload matches neither legacy nor current table format")
	}
}

// Decode parses a payload in either format.
func Decode(typ model.ContentType, payload []byte) (Value, error) {
	enc, err := Classify(typ, payload)
	if err != nil {
		return nil, err
	}
	if enc == EncodingLegacy {
		return decodeLegacy(payload)
	}
	return decodeCurrent(payload)
}

// Encode serializes a table in the current format. Fields are always written
// in the same order and the numeric ids are always present, so equal tables
// produce equal bytes.
func Encode(t IcebergTable) []byte {
	var state []byte
	state = protowire.AppendTag(state, stateFieldSnapshotID, protowire.VarintType)
	state = protowire.AppendVarint(state, uint64(t.SnapshotID))
	state = protowire.AppendTag(state, stateFieldSchemaID, protowire.VarintType)
	state = protowire.AppendVarint(state, uint64(int64(t.SchemaID)))
	state = protowire.AppendTag(state, stateFieldSpecID, protowire.VarintType)
	state = protowire.AppendVarint(state, uint64(int64(t.SpecID)))
	state = protowire.AppendTag(state, stateFieldSortOrderID, protowire.VarintType)
	state = protowire.AppendVarint(state, uint64(int64(t.SortOrderID)))
	state = protowire.AppendTag(state, stateFieldLocation, protowire.BytesType)
	state = protowire.AppendString(state, t.MetadataLocation)

	var b []byte
	b = protowire.AppendTag(b, currentFieldID, protowire.BytesType)
	b = protowire.AppendString(b, string(t.ID))
	b = protowire.AppendTag(b, currentFieldState, protowire.BytesType)
	b = protowire.AppendBytes(b, state)
	return b
}

// EncodeLegacy serializes a table in the legacy format. The store never
// writes it; it exists for fixtures and tooling that seed old repositories.
func EncodeLegacy(t LegacyIcebergTable) []byte {
	var state []byte
	state = protowire.AppendTag(state, legacyStateFieldLocation, protowire.BytesType)
	state = protowire.AppendString(state, t.MetadataLocation)

	var b []byte
	b = protowire.AppendTag(b, legacyFieldState, protowire.BytesType)
	b = protowire.AppendBytes(b, state)
	b = protowire.AppendTag(b, legacyFieldID, protowire.BytesType)
	b = protowire.AppendString(b, string(t.ID))
	return b
}

func decodeLegacy(payload []byte) (LegacyIcebergTable, error) {
	var t LegacyIcebergTable
	var hasState bool
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case legacyFieldID:
			t.ID = model.ContentID(v)
		case legacyFieldState:
			hasState = true
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == legacyStateFieldLocation && typ == protowire.BytesType {
					t.MetadataLocation = string(v)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	if !hasState {
		return t, errors.Wrap(ErrCorruptPayload, "legacy table without ref state")
	}
	return t, nil
}

func decodeCurrent(payload []byte) (IcebergTable, error) {
	var t IcebergTable
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case currentFieldID:
			t.ID = model.ContentID(v)
		case currentFieldState:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
				switch {
				case num == stateFieldLocation && typ == protowire.BytesType:
					t.MetadataLocation = string(v)
				case typ == protowire.VarintType:
					n, _ := protowire.ConsumeVarint(v)
					switch num {
					case stateFieldSnapshotID:
						t.SnapshotID = int64(n)
					case stateFieldSchemaID:
						t.SchemaID = int32(int64(n))
					case stateFieldSpecID:
						t.SpecID = int32(int64(n))
					case stateFieldSortOrderID:
						t.SortOrderID = int32(int64(n))
					}
				}
				return nil
			})
		}
		return nil
	})
	return t, err
}

// walkFields calls fn for every top level field of b. For length delimited
// fields v is the field content, for varints it is the raw varint bytes.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(ErrCorruptPayload, "tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		var v []byte
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				v = b[:n]
			}
		}
		if n < 0 {
			return errors.Wrapf(ErrCorruptPayload, "field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
