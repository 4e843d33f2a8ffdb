package migrate

import (
	"context"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// promote moves the real branch from expected to tip. A conflict means
// somebody else wrote to the branch during the upgrade and is returned as a
// ConcurrentModificationError.
func (d *Driver) promote(ctx context.Context, expected, tip model.Hash) error {
	err := d.store.AssignBranch(ctx, d.opts.Branch, expected, tip)
	if errors.Is(err, versionstore.ErrReferenceConflict) {
		return &ConcurrentModificationError{Branch: d.opts.Branch, Expected: expected, Err: err}
	}
	if err != nil {
		return errors.Wrapf(err, "assigning branch %q", d.opts.Branch)
	}
	return nil
}

// cleanup deletes the working branch. The real branch already holds the
// result, so failures are only logged.
func (d *Driver) cleanup(ctx context.Context) bool {
	if err := d.store.DeleteBranch(ctx, d.opts.WorkingBranch); err != nil {
		d.log.WithFields(logrus.Fields{
			"branch": d.opts.WorkingBranch,
		}).WithError(err).Warn("could not delete working branch, the next run will remove it")
		return false
	}
	return true
}
