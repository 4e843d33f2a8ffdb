// Package keylist reconstructs the live key to value mapping at a commit.
//
// Walking every commit back to the root would make reads O(history). The
// store therefore attaches a full key list to some commits. The walker reads
// the log newest first until it meets such a checkpoint (or the root) and
// replays only the commits above it.
package keylist

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/pkg/errors"
)

// LogReader is the part of the version store the walker needs.
type LogReader interface {
	CommitLog(ctx context.Context, from model.Hash) (model.CommitIterator, error)
}

// Walker computes live entries from a commit log.
type Walker struct {
	log LogReader
}

func NewWalker(log LogReader) *Walker {
	return &Walker{log: log}
}

// Stats describes the work done by the last walk.
type Stats struct {
	CommitsReplayed int
	CheckpointFound bool
}

// LiveEntries returns every entry live at head, sorted by key.
func (w *Walker) LiveEntries(ctx context.Context, head model.Hash) ([]model.Entry, error) {
	entries, _, err := w.LiveEntriesWithStats(ctx, head)
	return entries, err
}

// LiveEntriesWithStats is LiveEntries plus the number of commits that had to
// be replayed on top of the nearest checkpoint.
func (w *Walker) LiveEntriesWithStats(ctx context.Context, head model.Hash) ([]model.Entry, Stats, error) {
	var stats Stats
	if head.IsNoAncestor() {
		return nil, stats, nil
	}

	it, err := w.log.CommitLog(ctx, head)
	if err != nil {
		return nil, stats, errors.Wrapf(err, "reading commit log at %s", head.Short())
	}

	var pending []*model.Commit
	var base []model.Entry
	for {
		c, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, errors.Wrapf(err, "walking commit log at %s", head.Short())
		}
		if c.KeyList != nil {
			base = c.KeyList.Entries
			stats.CheckpointFound = true
			break
		}
		pending = append(pending, c)
	}

	live := FromEntries(base)
	for i := len(pending) - 1; i >= 0; i-- {
		live.Apply(pending[i].Operations)
	}
	stats.CommitsReplayed = len(pending)

	return live.Sorted(), stats, nil
}

// Set is a mutable live mapping.
type Set map[string]model.Entry

func FromEntries(entries []model.Entry) Set {
	s := make(Set, len(entries))
	for _, e := range entries {
		s[e.Key.MapKey()] = e
	}
	return s
}

// Apply folds operations in order; the last operation on a key wins.
func (s Set) Apply(ops []model.Operation) {
	for _, op := range ops {
		switch o := op.(type) {
		case model.Put:
			s[o.Key.MapKey()] = o.Entry()
		case model.Delete:
			delete(s, o.Key.MapKey())
		default:
			panic(fmt.Sprintf("unknown operation %T", op))
		}
	}
}

// Sorted returns the entries in ascending key order.
func (s Set) Sorted() []model.Entry {
	out := make([]model.Entry, 0, len(s))
	for _, e := range s {
		out = append(out, e)
	}
	SortEntries(out)
	return out
}

func SortEntries(entries []model.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Compare(entries[j].Key) < 0
	})
}
