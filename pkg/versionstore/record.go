package versionstore

import (
	"time"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Commit records use the protobuf wire format:
//
//	Commit {
//	  1: hash  2: parent  3: seq
//	  4: Meta { 1: committer 2: author 3: message 4: unix nanos }
//	  5: repeated Operation { 1: kind 2: repeated key element 3: content id 4: type 5: payload }
//	  6: zstd(KeyList { 1: repeated Operation })
//	}
const (
	fieldHash    = 1
	fieldParent  = 2
	fieldSeq     = 3
	fieldMeta    = 4
	fieldOp      = 5
	fieldKeyList = 6

	metaFieldCommitter = 1
	metaFieldAuthor    = 2
	metaFieldMessage   = 3
	metaFieldTime      = 4

	opFieldKind      = 1
	opFieldKey       = 2
	opFieldContentID = 3
	opFieldType      = 4
	opFieldPayload   = 5

	keyListFieldEntry = 1

	opKindPut    = 1
	opKindDelete = 2
)

var errCorruptRecord = errors.New("corrupt commit record")

type recordCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newRecordCodec() (*recordCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd decoder")
	}
	return &recordCodec{encoder: encoder, decoder: decoder}, nil
}

func (rc *recordCodec) close() {
	rc.decoder.Close()
	_ = rc.encoder.Close()
}

func (rc *recordCodec) encodeCommit(c *model.Commit) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Hash[:])
	b = protowire.AppendTag(b, fieldParent, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Parent[:])
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, c.Seq)

	var meta []byte
	meta = protowire.AppendTag(meta, metaFieldCommitter, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Meta.Committer)
	meta = protowire.AppendTag(meta, metaFieldAuthor, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Meta.Author)
	meta = protowire.AppendTag(meta, metaFieldMessage, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Meta.Message)
	meta = protowire.AppendTag(meta, metaFieldTime, protowire.VarintType)
	meta = protowire.AppendVarint(meta, uint64(c.Meta.Time.UnixNano()))
	b = protowire.AppendTag(b, fieldMeta, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)

	for _, op := range c.Operations {
		b = protowire.AppendTag(b, fieldOp, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOperation(op))
	}

	if c.KeyList != nil {
		var kl []byte
		for _, e := range c.KeyList.Entries {
			kl = protowire.AppendTag(kl, keyListFieldEntry, protowire.BytesType)
			kl = protowire.AppendBytes(kl, encodeOperation(model.PutOf(e)))
		}
		b = protowire.AppendTag(b, fieldKeyList, protowire.BytesType)
		b = protowire.AppendBytes(b, rc.encoder.EncodeAll(kl, nil))
	}
	return b
}

func encodeOperation(op model.Operation) []byte {
	var b []byte
	var kind uint64
	switch op.(type) {
	case model.Put:
		kind = opKindPut
	case model.Delete:
		kind = opKindDelete
	}
	b = protowire.AppendTag(b, opFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, kind)
	for _, e := range op.OpKey() {
		b = protowire.AppendTag(b, opFieldKey, protowire.BytesType)
		b = protowire.AppendString(b, e)
	}
	if p, ok := op.(model.Put); ok {
		b = protowire.AppendTag(b, opFieldContentID, protowire.BytesType)
		b = protowire.AppendString(b, string(p.ContentID))
		b = protowire.AppendTag(b, opFieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Type))
		b = protowire.AppendTag(b, opFieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Payload)
	}
	return b
}

func (rc *recordCodec) decodeCommit(b []byte) (*model.Commit, error) {
	c := &model.Commit{}
	err := consumeFields(b, func(num protowire.Number, v []byte, n uint64) error {
		var err error
		switch num {
		case fieldHash:
			c.Hash, err = model.HashFromBytes(v)
		case fieldParent:
			c.Parent, err = model.HashFromBytes(v)
		case fieldSeq:
			c.Seq = n
		case fieldMeta:
			c.Meta, err = decodeMeta(v)
		case fieldOp:
			var op model.Operation
			op, err = decodeOperation(v)
			c.Operations = append(c.Operations, op)
		case fieldKeyList:
			c.KeyList, err = rc.decodeKeyList(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func decodeMeta(b []byte) (model.CommitMeta, error) {
	var m model.CommitMeta
	err := consumeFields(b, func(num protowire.Number, v []byte, n uint64) error {
		switch num {
		case metaFieldCommitter:
			m.Committer = string(v)
		case metaFieldAuthor:
			m.Author = string(v)
		case metaFieldMessage:
			m.Message = string(v)
		case metaFieldTime:
			m.Time = time.Unix(0, int64(n)).UTC()
		}
		return nil
	})
	return m, err
}

func decodeOperation(b []byte) (model.Operation, error) {
	var kind uint64
	var put model.Put
	err := consumeFields(b, func(num protowire.Number, v []byte, n uint64) error {
		switch num {
		case opFieldKind:
			kind = n
		case opFieldKey:
			put.Key = append(put.Key, string(v))
		case opFieldContentID:
			put.ContentID = model.ContentID(v)
		case opFieldType:
			put.Type = model.ContentType(n)
		case opFieldPayload:
			put.Payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch kind {
	case opKindPut:
		return put, nil
	case opKindDelete:
		return model.Delete{Key: put.Key}, nil
	default:
		return nil, errors.Wrapf(errCorruptRecord, "unknown operation kind %d", kind)
	}
}

func (rc *recordCodec) decodeKeyList(compressed []byte) (*model.KeyList, error) {
	b, err := rc.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing key list")
	}
	kl := &model.KeyList{}
	err = consumeFields(b, func(num protowire.Number, v []byte, _ uint64) error {
		if num != keyListFieldEntry {
			return nil
		}
		op, err := decodeOperation(v)
		if err != nil {
			return err
		}
		p, ok := op.(model.Put)
		if !ok {
			return errors.Wrap(errCorruptRecord, "key list entry is not a put")
		}
		kl.Entries = append(kl.Entries, p.Entry())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kl, nil
}

// consumeFields calls fn for every field of b with the field content for
// length delimited fields and the value for varints.
func consumeFields(b []byte, fn func(num protowire.Number, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(errCorruptRecord, "tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(errCorruptRecord, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, v, 0); err != nil {
				return err
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(errCorruptRecord, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, nil, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(errCorruptRecord, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
