package migrate

import (
	"fmt"
	"testing"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func entriesNamed(names ...string) []model.Entry {
	out := make([]model.Entry, len(names))
	for i, n := range names {
		out[i] = model.Entry{Key: model.NewContentKey("ns", n), ContentID: model.ContentID(n)}
	}
	return out
}

func batchKeys(batches [][]model.Entry) [][]string {
	var out [][]string
	for _, b := range batches {
		var keys []string
		for _, e := range b {
			keys = append(keys, e.Key[1])
		}
		out = append(out, keys)
	}
	return out
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.Entry
		max     int
		want    [][]string
	}{
		{"empty", nil, 2, nil},
		{"single", entriesNamed("a"), 2, [][]string{{"a"}}},
		{"exact", entriesNamed("b", "a"), 2, [][]string{{"a", "b"}}},
		{"remainder", entriesNamed("e", "d", "c", "b", "a"), 2, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}},
		{"one per commit", entriesNamed("b", "a", "c"), 1, [][]string{{"a"}, {"b"}, {"c"}}},
		{"default max", entriesNamed("a", "b"), 0, [][]string{{"a", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, batchKeys(Plan(tt.entries, tt.max)))
		})
	}
}

func TestPlanDoesNotReorderInput(t *testing.T) {
	in := entriesNamed("b", "a")
	Plan(in, 1)
	assert.Equal(t, "b", in[0].Key[1])
}

func TestPlanBatchBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 500).Draw(t, "entries")
		max := rapid.IntRange(1, 120).Draw(t, "max")

		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("t%04d", i)
		}
		perm := rapid.Permutation(names).Draw(t, "order")
		batches := Plan(entriesNamed(perm...), max)

		want := (n + max - 1) / max
		if len(batches) != want {
			t.Fatalf("got %d batches for %d entries of at most %d, want %d", len(batches), n, max, want)
		}

		seen := 0
		var prev model.ContentKey
		for i, b := range batches {
			if len(b) == 0 || len(b) > max {
				t.Fatalf("batch %d has %d entries", i, len(b))
			}
			if i < len(batches)-1 && len(b) != max {
				t.Fatalf("batch %d is not full: %d of %d", i, len(b), max)
			}
			for _, e := range b {
				if prev != nil && prev.Compare(e.Key) >= 0 {
					t.Fatalf("keys out of order: %s before %s", prev, e.Key)
				}
				prev = e.Key
				seen++
			}
		}
		if seen != n {
			t.Fatalf("covered %d of %d entries", seen, n)
		}
	})
}
