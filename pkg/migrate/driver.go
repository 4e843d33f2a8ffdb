package migrate

import (
	"context"
	"io"
	"time"

	"github.com/i5heu/ouroboros-catalog/pkg/keylist"
	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the position of a run in the upgrade state machine:
//
//	Start -> Scanned -> NoOp
//	                 -> Planned -> Staged -> Promoted -> Cleaned
type State int

const (
	StateStart State = iota
	StateScanned
	StateNoOp
	StatePlanned
	StateStaged
	StatePromoted
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateScanned:
		return "scanned"
	case StateNoOp:
		return "no-op"
	case StatePlanned:
		return "planned"
	case StateStaged:
		return "staged"
	case StatePromoted:
		return "promoted"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

type Options struct {
	// Branch is the branch to upgrade.
	Branch string
	// WorkingBranch is the disposable branch the upgrade is staged on. It
	// must not be used by anything else.
	WorkingBranch string
	// MaxEntriesPerCommit defaults to MaxEntriesPerCommit.
	MaxEntriesPerCommit int
	// Committer is recorded on the upgrade commits.
	Committer string
	// TaskPool classifies entries. Defaults to SequentialPool.
	TaskPool TaskPool
	// Refresher is notified after the branch has been rewritten. Optional.
	Refresher CatalogRefresher
	Logger    *logrus.Logger
}

// Driver runs the upgrade of one branch.
type Driver struct {
	store  versionstore.VersionStore
	walker *keylist.Walker
	opts   Options
	log    *logrus.Logger
}

func NewDriver(store versionstore.VersionStore, opts Options) (*Driver, error) {
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if opts.WorkingBranch == "" {
		opts.WorkingBranch = DefaultWorkingBranch
	}
	if opts.WorkingBranch == opts.Branch {
		return nil, errors.Errorf("working branch must differ from the upgraded branch %q", opts.Branch)
	}
	if opts.MaxEntriesPerCommit < 1 {
		opts.MaxEntriesPerCommit = MaxEntriesPerCommit
	}
	if opts.Committer == "" {
		opts.Committer = DefaultCommitter
	}
	if opts.TaskPool == nil {
		opts.TaskPool = SequentialPool{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Driver{
		store:  store,
		walker: keylist.NewWalker(store),
		opts:   opts,
		log:    opts.Logger,
	}, nil
}

// Scan is the read only part of a run.
type Scan struct {
	Head   model.Hash
	Live   int
	Legacy []model.Entry
}

// Result describes a finished run.
type Result struct {
	State      State
	Branch     string
	SourceHash model.Hash
	Head       model.Hash
	Migrated   int
	Batches    int
}

// Scan reads the branch head and returns the entries that need an upgrade.
func (d *Driver) Scan(ctx context.Context) (Scan, error) {
	head, err := d.store.Read(ctx, d.opts.Branch)
	if err != nil {
		return Scan{}, errors.Wrapf(err, "reading branch %q", d.opts.Branch)
	}

	live, stats, err := d.walker.LiveEntriesWithStats(ctx, head)
	if err != nil {
		return Scan{}, err
	}
	legacy, err := FilterLegacy(live, d.opts.TaskPool)
	if err != nil {
		return Scan{}, err
	}

	d.log.WithFields(logrus.Fields{
		"branch":          d.opts.Branch,
		"head":            head.Short(),
		"live":            len(live),
		"legacy":          len(legacy),
		"replayedCommits": stats.CommitsReplayed,
	}).Info("scanned branch")

	return Scan{Head: head, Live: len(live), Legacy: legacy}, nil
}

// Run upgrades every legacy entry at the head of the branch. When there is
// nothing to do it returns a NoOp result and leaves the branch untouched.
// Errors before promotion leave the branch unchanged.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	res := Result{State: StateStart, Branch: d.opts.Branch}

	scan, err := d.Scan(ctx)
	if err != nil {
		return res, err
	}
	res.State = StateScanned
	res.SourceHash = scan.Head
	res.Head = scan.Head

	if len(scan.Legacy) == 0 {
		// Nothing is staged, but an orphan from an earlier run whose
		// cleanup failed is still removed.
		if err := d.removeStaleWorkingBranch(ctx); err != nil {
			d.log.WithError(err).Warn("could not remove stale working branch")
		}
		res.State = StateNoOp
		d.transition(res)
		return res, nil
	}

	batches := Plan(scan.Legacy, d.opts.MaxEntriesPerCommit)
	res.State = StatePlanned
	res.Batches = len(batches)
	res.Migrated = len(scan.Legacy)
	d.transition(res)

	when, err := d.commitTime(ctx, scan.Head)
	if err != nil {
		return res, err
	}
	tip, err := d.stage(ctx, scan.Head, batches, when)
	if err != nil {
		return res, err
	}
	res.State = StateStaged
	d.transition(res)

	if err := d.promote(ctx, scan.Head, tip); err != nil {
		return res, err
	}
	res.State = StatePromoted
	res.Head = tip
	d.transition(res)

	if d.cleanup(ctx) {
		res.State = StateCleaned
		d.transition(res)
	}

	if d.opts.Refresher != nil {
		if err := d.opts.Refresher.Refresh(ctx, d.opts.Branch, tip); err != nil {
			d.log.WithError(err).WithField("branch", d.opts.Branch).Warn("catalog refresh after upgrade failed")
		}
	}

	return res, nil
}

// commitTime returns the time of the head commit. Upgrade commits reuse it so
// their hashes do not depend on when the run happens.
func (d *Driver) commitTime(ctx context.Context, head model.Hash) (time.Time, error) {
	it, err := d.store.CommitLog(ctx, head)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading commit %s", head.Short())
	}
	c, err := it.Next(ctx)
	if err == io.EOF {
		return time.Time{}, errors.Wrapf(versionstore.ErrReferenceNotFound, "commit %s", head.Short())
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading commit %s", head.Short())
	}
	return c.Meta.Time, nil
}

func (d *Driver) transition(res Result) {
	d.log.WithFields(logrus.Fields{
		"state":    res.State.String(),
		"branch":   res.Branch,
		"source":   res.SourceHash.Short(),
		"head":     res.Head.Short(),
		"migrated": res.Migrated,
		"batches":  res.Batches,
	}).Info("upgrade state")
}
