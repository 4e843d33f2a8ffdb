package migrate

import (
	"github.com/i5heu/ouroboros-catalog/pkg/keylist"
	"github.com/i5heu/ouroboros-catalog/pkg/model"
)

// Plan splits entries into batches of at most maxPerCommit entries in
// ascending key order. Every batch but the last is full. The input slice is
// not modified.
func Plan(entries []model.Entry, maxPerCommit int) [][]model.Entry {
	if maxPerCommit < 1 {
		maxPerCommit = MaxEntriesPerCommit
	}
	if len(entries) == 0 {
		return nil
	}

	sorted := make([]model.Entry, len(entries))
	copy(sorted, entries)
	keylist.SortEntries(sorted)

	batches := make([][]model.Entry, 0, (len(sorted)+maxPerCommit-1)/maxPerCommit)
	for start := 0; start < len(sorted); start += maxPerCommit {
		end := start + maxPerCommit
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, sorted[start:end:end])
	}
	return batches
}
