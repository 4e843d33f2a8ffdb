package model

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// CommitMeta is the human facing part of a commit.
type CommitMeta struct {
	Committer string
	Author    string
	Message   string
	Time      time.Time
}

// KeyList is a materialized copy of every live entry at a commit. Readers
// that find one can stop walking history.
type KeyList struct {
	Entries []Entry
}

// Commit is an immutable node in the history of a branch.
type Commit struct {
	Hash       Hash
	Parent     Hash
	Seq        uint64 // distance from the root, the first commit has Seq 1
	Meta       CommitMeta
	Operations []Operation
	KeyList    *KeyList
}

// Puts returns the put operations of the commit in order.
func (c *Commit) Puts() []Put {
	var puts []Put
	for _, op := range c.Operations {
		if p, ok := op.(Put); ok {
			puts = append(puts, p)
		}
	}
	return puts
}

// Reference is a named branch and the commit it points to.
type Reference struct {
	Name string
	Hash Hash
}

// CommitIterator yields commits newest first. Next returns io.EOF once the
// root has been passed.
type CommitIterator interface {
	Next(ctx context.Context) (*Commit, error)
}

// ComputeCommitHash derives the hash of a commit from its parent, metadata
// and operations. The key list is derived data and is not part of the hash,
// so identical inputs always produce the same commit.
func ComputeCommitHash(parent Hash, meta CommitMeta, ops []Operation) Hash {
	var buffer bytes.Buffer

	buffer.Write(parent[:])
	writeString(&buffer, meta.Committer)
	writeString(&buffer, meta.Author)
	writeString(&buffer, meta.Message)
	writeUint64(&buffer, uint64(meta.Time.UTC().UnixNano()))

	writeUint64(&buffer, uint64(len(ops)))
	for _, op := range ops {
		switch o := op.(type) {
		case Put:
			buffer.WriteByte('p')
			writeKey(&buffer, o.Key)
			writeString(&buffer, string(o.ContentID))
			buffer.WriteByte(byte(o.Type))
			writeBytes(&buffer, o.Payload)
		case Delete:
			buffer.WriteByte('d')
			writeKey(&buffer, o.Key)
		default:
			panic(fmt.Sprintf("unknown operation %T", op))
		}
	}

	return Hash(blake3.Sum256(buffer.Bytes()))
}

func writeUint64(buffer *bytes.Buffer, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	buffer.Write(b)
}

func writeBytes(buffer *bytes.Buffer, b []byte) {
	writeUint64(buffer, uint64(len(b)))
	buffer.Write(b)
}

func writeString(buffer *bytes.Buffer, s string) {
	writeBytes(buffer, []byte(s))
}

func writeKey(buffer *bytes.Buffer, key ContentKey) {
	writeUint64(buffer, uint64(len(key)))
	for _, e := range key {
		writeString(buffer, e)
	}
}
