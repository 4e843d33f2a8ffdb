// Package versionstore is a branch based, content addressed store for
// catalog entries. Commits are immutable and identified by the hash of their
// parent, metadata and operations; branches are mutable names that point at
// commits and only move through compare-and-swap style operations.
package versionstore

import (
	"context"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/i5heu/ouroboros-catalog/pkg/keylist"
	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultKeyListDistance is the number of commits between two
	// materialized key lists.
	DefaultKeyListDistance = 20

	DefaultCommitCacheSize = 4096

	refPrefix    = "ref:"
	commitPrefix = "commit:"
)

// VersionStore is the set of operations the catalog upgrade needs. Remote
// implementations (an RPC client) satisfy it as well as *Store.
type VersionStore interface {
	NoAncestorHash() model.Hash
	Read(ctx context.Context, branch string) (model.Hash, error)
	CommitLog(ctx context.Context, from model.Hash) (model.CommitIterator, error)
	Commit(ctx context.Context, params CommitParams) (model.Hash, error)
	CreateBranch(ctx context.Context, name string, at model.Hash) error
	AssignBranch(ctx context.Context, name string, expected, to model.Hash) error
	DeleteBranch(ctx context.Context, name string) error
	Branches(ctx context.Context) ([]model.Reference, error)
}

// CommitParams describes a commit to append to a branch.
type CommitParams struct {
	Branch string
	// ExpectedHead, when set, must equal the branch head or the commit
	// fails with ErrReferenceConflict.
	ExpectedHead *model.Hash
	Meta         model.CommitMeta
	Operations   []model.Operation
	// ForceKeyList materializes the full key list on this commit
	// regardless of the configured distance.
	ForceKeyList bool
}

type Config struct {
	Logger          *logrus.Logger
	KeyListDistance int
	CommitCacheSize int
	// Now is used for commits without a time. Defaults to time.Now.
	Now func() time.Time
}

// Store implements VersionStore on top of a key value Backend.
type Store struct {
	backend Backend
	config  Config
	log     *logrus.Logger
	codec   *recordCodec
	cache   *lru.Cache[model.Hash, *model.Commit]
	walker  *keylist.Walker
}

var _ VersionStore = (*Store)(nil)

func NewStore(backend Backend, config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.KeyListDistance < 1 {
		config.KeyListDistance = DefaultKeyListDistance
	}
	if config.CommitCacheSize < 1 {
		config.CommitCacheSize = DefaultCommitCacheSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	codec, err := newRecordCodec()
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[model.Hash, *model.Commit](config.CommitCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating commit cache")
	}

	s := &Store{
		backend: backend,
		config:  config,
		log:     config.Logger,
		codec:   codec,
		cache:   cache,
	}
	s.walker = keylist.NewWalker(s)
	return s, nil
}

// Close releases the compression codecs. The backend is owned by the caller.
func (s *Store) Close() {
	s.codec.close()
}

func (s *Store) NoAncestorHash() model.Hash {
	return model.NoAncestorHash
}

func refKey(name string) []byte {
	return []byte(refPrefix + name)
}

func commitKey(h model.Hash) []byte {
	return []byte(commitPrefix + h.String())
}

func readRef(txn Txn, name string) (model.Hash, error) {
	v, err := txn.Get(refKey(name))
	if errors.Is(err, ErrKeyNotFound) {
		return model.Hash{}, errors.Wrapf(ErrReferenceNotFound, "branch %q", name)
	}
	if err != nil {
		return model.Hash{}, errors.Wrapf(err, "reading branch %q", name)
	}
	return model.HashFromBytes(v)
}

func (s *Store) update(fn func(txn Txn) error) error {
	err := s.backend.Update(fn)
	if errors.Is(err, ErrTxnConflict) {
		return errors.Wrap(ErrReferenceConflict, err.Error())
	}
	return err
}

// Read returns the commit a branch points to.
func (s *Store) Read(ctx context.Context, branch string) (model.Hash, error) {
	if err := ctx.Err(); err != nil {
		return model.Hash{}, err
	}
	var h model.Hash
	err := s.backend.View(func(txn Txn) error {
		var err error
		h, err = readRef(txn, branch)
		return err
	})
	return h, err
}

// LoadCommit returns the commit with the given hash. The returned commit is
// shared with the cache and must not be modified.
func (s *Store) LoadCommit(ctx context.Context, h model.Hash) (*model.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c, ok := s.cache.Get(h); ok {
		return c, nil
	}

	var raw []byte
	err := s.backend.View(func(txn Txn) error {
		var err error
		raw, err = txn.Get(commitKey(h))
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, errors.Wrapf(ErrReferenceNotFound, "commit %s", h)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading commit %s", h)
	}

	c, err := s.codec.decodeCommit(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding commit %s", h)
	}
	s.cache.Add(h, c)
	return c, nil
}

type commitIterator struct {
	store *Store
	next  model.Hash
}

func (it *commitIterator) Next(ctx context.Context) (*model.Commit, error) {
	if it.next.IsNoAncestor() {
		return nil, io.EOF
	}
	c, err := it.store.LoadCommit(ctx, it.next)
	if err != nil {
		return nil, err
	}
	it.next = c.Parent
	return c, nil
}

// CommitLog returns a lazy iterator over the history ending at from, newest
// commit first.
func (s *Store) CommitLog(ctx context.Context, from model.Hash) (model.CommitIterator, error) {
	if !from.IsNoAncestor() {
		if _, err := s.LoadCommit(ctx, from); err != nil {
			return nil, err
		}
	}
	return &commitIterator{store: s, next: from}, nil
}

// Commit appends a commit to a branch and returns its hash.
func (s *Store) Commit(ctx context.Context, params CommitParams) (model.Hash, error) {
	if err := validateOperations(params.Operations); err != nil {
		return model.Hash{}, err
	}

	head, err := s.Read(ctx, params.Branch)
	if err != nil {
		return model.Hash{}, err
	}
	if params.ExpectedHead != nil && *params.ExpectedHead != head {
		return model.Hash{}, errors.Wrapf(ErrReferenceConflict,
			"branch %q is at %s, expected %s", params.Branch, head.Short(), params.ExpectedHead.Short())
	}

	var seq uint64 = 1
	if !head.IsNoAncestor() {
		parent, err := s.LoadCommit(ctx, head)
		if err != nil {
			return model.Hash{}, err
		}
		seq = parent.Seq + 1
	}

	meta := params.Meta
	if meta.Time.IsZero() {
		meta.Time = s.config.Now()
	}
	meta.Time = meta.Time.UTC()

	c := &model.Commit{
		Hash:       model.ComputeCommitHash(head, meta, params.Operations),
		Parent:     head,
		Seq:        seq,
		Meta:       meta,
		Operations: params.Operations,
	}

	if params.ForceKeyList || seq%uint64(s.config.KeyListDistance) == 0 {
		live, err := s.walker.LiveEntries(ctx, head)
		if err != nil {
			return model.Hash{}, errors.Wrap(err, "materializing key list")
		}
		set := keylist.FromEntries(live)
		set.Apply(params.Operations)
		c.KeyList = &model.KeyList{Entries: set.Sorted()}
	}

	record := s.codec.encodeCommit(c)
	err = s.update(func(txn Txn) error {
		current, err := readRef(txn, params.Branch)
		if err != nil {
			return err
		}
		if current != head {
			return errors.Wrapf(ErrReferenceConflict,
				"branch %q moved from %s to %s during commit", params.Branch, head.Short(), current.Short())
		}

		_, err = txn.Get(commitKey(c.Hash))
		switch {
		case errors.Is(err, ErrKeyNotFound):
			if err := txn.Set(commitKey(c.Hash), record); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		return txn.Set(refKey(params.Branch), c.Hash[:])
	})
	if err != nil {
		return model.Hash{}, err
	}

	s.log.WithFields(logrus.Fields{
		"branch":     params.Branch,
		"hash":       c.Hash.Short(),
		"parent":     head.Short(),
		"operations": len(c.Operations),
		"keyList":    c.KeyList != nil,
	}).Debug("commit")

	return c.Hash, nil
}

func validateOperations(ops []model.Operation) error {
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		key := op.OpKey()
		if err := key.Validate(); err != nil {
			return err
		}
		if _, ok := seen[key.MapKey()]; ok {
			return errors.Errorf("key %q appears more than once in a commit", key.String())
		}
		seen[key.MapKey()] = struct{}{}
	}
	return nil
}

func (s *Store) checkCommitExists(ctx context.Context, h model.Hash) error {
	if h.IsNoAncestor() {
		return nil
	}
	_, err := s.LoadCommit(ctx, h)
	return err
}

// CreateBranch binds a new name to a commit.
func (s *Store) CreateBranch(ctx context.Context, name string, at model.Hash) error {
	if name == "" {
		return errors.New("branch name must not be empty")
	}
	if err := s.checkCommitExists(ctx, at); err != nil {
		return err
	}
	err := s.update(func(txn Txn) error {
		_, err := readRef(txn, name)
		if err == nil {
			return errors.Wrapf(ErrReferenceAlreadyExists, "branch %q", name)
		}
		if !errors.Is(err, ErrReferenceNotFound) {
			return err
		}
		return txn.Set(refKey(name), at[:])
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"branch": name, "hash": at.Short()}).Info("created branch")
	return nil
}

// ResetBranch points a branch at a commit whether or not the name exists.
func (s *Store) ResetBranch(ctx context.Context, name string, at model.Hash) error {
	if name == "" {
		return errors.New("branch name must not be empty")
	}
	if err := s.checkCommitExists(ctx, at); err != nil {
		return err
	}
	err := s.update(func(txn Txn) error {
		return txn.Set(refKey(name), at[:])
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"branch": name, "hash": at.Short()}).Info("reset branch")
	return nil
}

// AssignBranch moves a branch from expected to to.
func (s *Store) AssignBranch(ctx context.Context, name string, expected, to model.Hash) error {
	if err := s.checkCommitExists(ctx, to); err != nil {
		return err
	}
	err := s.update(func(txn Txn) error {
		current, err := readRef(txn, name)
		if err != nil {
			return err
		}
		if current != expected {
			return errors.Wrapf(ErrReferenceConflict,
				"branch %q is at %s, expected %s", name, current.Short(), expected.Short())
		}
		return txn.Set(refKey(name), to[:])
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"branch": name,
		"from":   expected.Short(),
		"to":     to.Short(),
	}).Info("assigned branch")
	return nil
}

// DeleteBranch removes a branch name. Commits stay in the store.
func (s *Store) DeleteBranch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.update(func(txn Txn) error {
		if _, err := readRef(txn, name); err != nil {
			return err
		}
		return txn.Delete(refKey(name))
	})
	if err != nil {
		return err
	}
	s.log.WithField("branch", name).Info("deleted branch")
	return nil
}

// Branches lists all branches ordered by name.
func (s *Store) Branches(ctx context.Context) ([]model.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var refs []model.Reference
	err := s.backend.View(func(txn Txn) error {
		return txn.IteratePrefix([]byte(refPrefix), func(key, value []byte) error {
			h, err := model.HashFromBytes(value)
			if err != nil {
				return errors.Wrapf(err, "branch %q", key)
			}
			refs = append(refs, model.Reference{Name: string(key[len(refPrefix):]), Hash: h})
			return nil
		})
	})
	return refs, err
}

// InitializeRepo creates the default branch at NoAncestorHash if it does not
// exist yet. Calling it on an initialized repository is a no-op.
func (s *Store) InitializeRepo(ctx context.Context, defaultBranch string) error {
	err := s.CreateBranch(ctx, defaultBranch, model.NoAncestorHash)
	if errors.Is(err, ErrReferenceAlreadyExists) {
		return nil
	}
	return err
}

// Values returns the live entries for the given keys at the head of a
// branch, indexed by ContentKey.MapKey. Missing keys are left out.
func (s *Store) Values(ctx context.Context, branch string, keys []model.ContentKey) (map[string]model.Entry, error) {
	head, err := s.Read(ctx, branch)
	if err != nil {
		return nil, err
	}
	live, err := s.walker.LiveEntries(ctx, head)
	if err != nil {
		return nil, err
	}
	set := keylist.FromEntries(live)

	out := make(map[string]model.Entry, len(keys))
	for _, k := range keys {
		if e, ok := set[k.MapKey()]; ok {
			out[k.MapKey()] = e
		}
	}
	return out, nil
}
