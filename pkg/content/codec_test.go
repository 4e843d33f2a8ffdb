package content

import (
	"encoding/base64"
	"testing"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Legacy payload written by the old catalog for a table with metadata
// location "test-metadata-location" and content id "test-content-id".
const legacyPayloadBase64 = "ChgKFnRlc3QtbWV0YWRhdGEtbG9jYXRpb24qD3Rlc3QtY29udGVudC1pZA=="

func legacyFixture(t *testing.T) []byte {
	b, err := base64.StdEncoding.DecodeString(legacyPayloadBase64)
	require.NoError(t, err)
	return b
}

func TestClassifyLegacyFixture(t *testing.T) {
	enc, err := Classify(model.TypeIcebergTable, legacyFixture(t))
	require.NoError(t, err)
	assert.Equal(t, EncodingLegacy, enc)
}

func TestDecodeLegacyFixture(t *testing.T) {
	v, err := Decode(model.TypeIcebergTable, legacyFixture(t))
	require.NoError(t, err)

	legacy, ok := v.(LegacyIcebergTable)
	require.True(t, ok, "expected legacy value, got %T", v)
	assert.Equal(t, "test-metadata-location", legacy.MetadataLocation)
	assert.Equal(t, model.ContentID("test-content-id"), legacy.ID)
}

func TestEncodeLegacyMatchesFixture(t *testing.T) {
	b := EncodeLegacy(LegacyIcebergTable{
		MetadataLocation: "test-metadata-location",
		ID:               "test-content-id",
	})
	assert.Equal(t, legacyFixture(t), b)
}

func TestUpgradePayload(t *testing.T) {
	upgraded, err := UpgradePayload(model.TypeIcebergTable, legacyFixture(t))
	require.NoError(t, err)

	enc, err := Classify(model.TypeIcebergTable, upgraded)
	require.NoError(t, err)
	assert.Equal(t, EncodingCurrent, enc)

	v, err := Decode(model.TypeIcebergTable, upgraded)
	require.NoError(t, err)
	assert.Equal(t, IcebergTable{
		MetadataLocation: "test-metadata-location",
		SnapshotID:       UnknownID,
		SchemaID:         UnknownID,
		SpecID:           UnknownID,
		SortOrderID:      UnknownID,
		ID:               "test-content-id",
	}, v)
}

func TestUpgradeKeepsCurrentValue(t *testing.T) {
	table := IcebergTable{MetadataLocation: "m", SnapshotID: 1, SchemaID: 2, SpecID: 3, SortOrderID: 4, ID: "id"}
	assert.Equal(t, table, Upgrade(table))
}

func TestEncodeIsDeterministic(t *testing.T) {
	table := IcebergTable{MetadataLocation: "metadata1", SnapshotID: 1, SchemaID: 2, SpecID: 3, SortOrderID: 4, ID: "id123"}
	assert.Equal(t, Encode(table), Encode(table))
}

func TestCorruptPayloads(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.ContentType
		payload []byte
	}{
		{"unknown type tag", model.ContentType(7), Encode(IcebergTable{ID: "x"})},
		{"empty", model.TypeIcebergTable, nil},
		{"truncated tag", model.TypeIcebergTable, []byte{0x80}},
		{"truncated bytes", model.TypeIcebergTable, []byte{0x0a, 0x10, 0x01}},
		{"no known fields", model.TypeIcebergTable, []byte{0x18, 0x01}},
		{"both shapes", model.TypeIcebergTable, []byte{0x12, 0x00, 0x2a, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.typ, tt.payload)
			assert.ErrorIs(t, err, ErrCorruptPayload)

			_, err = Decode(tt.typ, tt.payload)
			assert.ErrorIs(t, err, ErrCorruptPayload)
		})
	}
}

func TestCurrentRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		table := IcebergTable{
			MetadataLocation: rapid.String().Draw(t, "location"),
			SnapshotID:       rapid.Int64().Draw(t, "snapshot"),
			SchemaID:         rapid.Int32().Draw(t, "schema"),
			SpecID:           rapid.Int32().Draw(t, "spec"),
			SortOrderID:      rapid.Int32().Draw(t, "sortOrder"),
			ID:               model.ContentID(rapid.String().Draw(t, "id")),
		}

		b := Encode(table)
		enc, err := Classify(model.TypeIcebergTable, b)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if enc != EncodingCurrent {
			t.Fatalf("expected current encoding, got %s", enc)
		}

		v, err := Decode(model.TypeIcebergTable, b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if v != Value(table) {
			t.Fatalf("round trip mismatch: %+v != %+v", v, table)
		}
	})
}

func TestLegacyUpgradePreservesIdentityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		legacy := LegacyIcebergTable{
			MetadataLocation: rapid.String().Draw(t, "location"),
			ID:               model.ContentID(rapid.String().Draw(t, "id")),
		}

		upgraded, err := UpgradePayload(model.TypeIcebergTable, EncodeLegacy(legacy))
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		v, err := Decode(model.TypeIcebergTable, upgraded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if v.Location() != legacy.MetadataLocation || v.ContentID() != legacy.ID {
			t.Fatalf("identity lost: %+v -> %+v", legacy, v)
		}
		if v.Encoding() != EncodingCurrent {
			t.Fatalf("expected current encoding, got %s", v.Encoding())
		}
	})
}
