// Package migrate rewrites catalog entries stored in the legacy table pointer
// encoding into the current encoding.
//
// A run reads the live entries at the head of a branch, picks the legacy
// ones, commits their upgraded values in bounded batches on a disposable
// working branch that starts at the same head, and finally moves the real
// branch to the working branch's tip with a single conditional assign. The
// real branch is never touched before that assign, so a failed or crashed
// run leaves it as it was; the next run deletes the leftover working branch
// and starts over.
package migrate

import (
	"fmt"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/pkg/errors"
)

const (
	// MaxEntriesPerCommit bounds the number of puts in one upgrade commit.
	MaxEntriesPerCommit = 100

	DefaultBranch        = "main"
	DefaultWorkingBranch = "upgrade-table-metadata-pointers"
	DefaultCommitter     = "catalog-upgrade"
)

// ErrConcurrentModification is returned when the real branch moved while the
// upgrade was staged. The upgrade is not retried automatically.
var ErrConcurrentModification = errors.New("concurrent modification")

// ConcurrentModificationError carries the store's conflict error.
type ConcurrentModificationError struct {
	Branch   string
	Expected model.Hash
	Err      error
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("branch %q changed during upgrade (expected %s): %v", e.Branch, e.Expected.Short(), e.Err)
}

func (e *ConcurrentModificationError) Unwrap() error { return e.Err }

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}
