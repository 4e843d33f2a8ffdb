package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/i5heu/ouroboros-catalog/pkg/content"
	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// stage rebuilds the working branch at source and commits the upgraded
// batches on it, followed by an empty commit that carries a full key list.
// It returns the tip of the working branch.
//
// Commit metadata only depends on the source commit and the batch layout, so
// staging the same input twice yields the same hashes.
func (d *Driver) stage(ctx context.Context, source model.Hash, batches [][]model.Entry, when time.Time) (model.Hash, error) {
	if err := d.resetWorkingBranch(ctx, source); err != nil {
		return model.Hash{}, err
	}

	head := source
	for i, batch := range batches {
		ops := make([]model.Operation, 0, len(batch))
		for _, e := range batch {
			payload, err := content.UpgradePayload(e.Type, e.Payload)
			if err != nil {
				return model.Hash{}, errors.Wrapf(err, "upgrading %s", e.Key)
			}
			ops = append(ops, model.Put{
				Key:       e.Key,
				ContentID: e.ContentID,
				Type:      e.Type,
				Payload:   payload,
			})
		}

		expected := head
		next, err := d.store.Commit(ctx, versionstore.CommitParams{
			Branch:       d.opts.WorkingBranch,
			ExpectedHead: &expected,
			Meta:         d.commitMeta(fmt.Sprintf("Upgrade table metadata pointers (%d/%d)", i+1, len(batches)), when),
			Operations:   ops,
		})
		if err != nil {
			return model.Hash{}, errors.Wrapf(err, "committing batch %d of %d", i+1, len(batches))
		}
		d.log.WithFields(logrus.Fields{
			"branch":  d.opts.WorkingBranch,
			"batch":   i + 1,
			"batches": len(batches),
			"entries": len(ops),
			"hash":    next.Short(),
		}).Info("committed upgrade batch")
		head = next
	}

	expected := head
	tip, err := d.store.Commit(ctx, versionstore.CommitParams{
		Branch:       d.opts.WorkingBranch,
		ExpectedHead: &expected,
		Meta:         d.commitMeta("Materialize key list after table metadata pointer upgrade", when),
		ForceKeyList: true,
	})
	if err != nil {
		return model.Hash{}, errors.Wrap(err, "committing key list")
	}
	return tip, nil
}

// resetWorkingBranch deletes a working branch left by an earlier run and
// creates a fresh one at source.
func (d *Driver) resetWorkingBranch(ctx context.Context, source model.Hash) error {
	if err := d.removeStaleWorkingBranch(ctx); err != nil {
		return err
	}
	if err := d.store.CreateBranch(ctx, d.opts.WorkingBranch, source); err != nil {
		return errors.Wrapf(err, "creating working branch %q", d.opts.WorkingBranch)
	}
	return nil
}

func (d *Driver) removeStaleWorkingBranch(ctx context.Context) error {
	stale, err := d.store.Read(ctx, d.opts.WorkingBranch)
	if errors.Is(err, versionstore.ErrReferenceNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading working branch %q", d.opts.WorkingBranch)
	}

	d.log.WithFields(logrus.Fields{
		"branch": d.opts.WorkingBranch,
		"hash":   stale.Short(),
	}).Warn("removing working branch left by a previous run")
	if err := d.store.DeleteBranch(ctx, d.opts.WorkingBranch); err != nil {
		return errors.Wrapf(err, "deleting stale working branch %q", d.opts.WorkingBranch)
	}
	return nil
}

func (d *Driver) commitMeta(message string, when time.Time) model.CommitMeta {
	return model.CommitMeta{
		Committer: d.opts.Committer,
		Author:    d.opts.Committer,
		Message:   message,
		Time:      when,
	}
}
