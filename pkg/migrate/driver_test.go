package migrate

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-catalog/internal/keyValStore"
	"github.com/i5heu/ouroboros-catalog/pkg/content"
	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Legacy payload for metadata location "test-metadata-location" and content
// id "test-content-id", as written by the old catalog.
const legacyPayloadBase64 = "ChgKFnRlc3QtbWV0YWRhdGEtbG9jYXRpb24qD3Rlc3QtY29udGVudC1pZA=="

const upgradeBranchName = "upgrade-test"

var commitTime = time.Unix(1650000000, 0)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

func newStore(t *testing.T) *versionstore.Store {
	t.Helper()
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{InMemory: true, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	store, err := versionstore.NewStore(kv, versionstore.Config{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func newDriver(t *testing.T, store versionstore.VersionStore, max int) *Driver {
	t.Helper()
	d, err := NewDriver(store, Options{
		WorkingBranch:       upgradeBranchName,
		MaxEntriesPerCommit: max,
		Logger:              testLogger(),
	})
	require.NoError(t, err)
	return d
}

func commitOps(t *testing.T, store versionstore.VersionStore, ops ...model.Operation) model.Hash {
	t.Helper()
	h, err := store.Commit(context.Background(), versionstore.CommitParams{
		Branch:     DefaultBranch,
		Meta:       model.CommitMeta{Message: "test", Time: commitTime},
		Operations: ops,
	})
	require.NoError(t, err)
	return h
}

func legacyPut(key model.ContentKey, id model.ContentID, location string) model.Put {
	return model.Put{
		Key:       key,
		ContentID: id,
		Type:      model.TypeIcebergTable,
		Payload:   content.EncodeLegacy(content.LegacyIcebergTable{MetadataLocation: location, ID: id}),
	}
}

func currentPut(key model.ContentKey, id model.ContentID, location string) model.Put {
	return model.Put{
		Key:       key,
		ContentID: id,
		Type:      model.TypeIcebergTable,
		Payload: content.Encode(content.IcebergTable{
			MetadataLocation: location,
			SnapshotID:       1,
			SchemaID:         2,
			SpecID:           3,
			SortOrderID:      4,
			ID:               id,
		}),
	}
}

func commitLog(t *testing.T, store versionstore.VersionStore, from model.Hash) []*model.Commit {
	t.Helper()
	ctx := context.Background()
	it, err := store.CommitLog(ctx, from)
	require.NoError(t, err)
	var out []*model.Commit
	for {
		c, err := it.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, c)
	}
}

func head(t *testing.T, store versionstore.VersionStore, branch string) model.Hash {
	t.Helper()
	h, err := store.Read(context.Background(), branch)
	require.NoError(t, err)
	return h
}

func assertNoWorkingBranch(t *testing.T, store versionstore.VersionStore) {
	t.Helper()
	refs, err := store.Branches(context.Background())
	require.NoError(t, err)
	for _, r := range refs {
		assert.NotEqual(t, upgradeBranchName, r.Name, "working branch must be gone")
	}
}

func TestUpgradeSingleLegacyEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))

	payload, err := base64.StdEncoding.DecodeString(legacyPayloadBase64)
	require.NoError(t, err)
	key := model.NewContentKey("test", "table", "11111")
	before := commitOps(t, store, model.Put{
		Key:       key,
		ContentID: "test-content-id",
		Type:      model.TypeIcebergTable,
		Payload:   payload,
	})

	res, err := newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCleaned, res.State)
	assert.Equal(t, 1, res.Migrated)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, before, res.SourceHash)
	assertNoWorkingBranch(t, store)

	after := head(t, store, DefaultBranch)
	assert.Equal(t, res.Head, after)
	assert.Len(t, commitLog(t, store, after), 1+1+1, "one batch and one key list commit on top of the original")

	values, err := store.Values(ctx, DefaultBranch, []model.ContentKey{key})
	require.NoError(t, err)
	entry, ok := values[key.MapKey()]
	require.True(t, ok)
	assert.Equal(t, model.ContentID("test-content-id"), entry.ContentID)

	v, err := content.Decode(entry.Type, entry.Payload)
	require.NoError(t, err)
	assert.Equal(t, content.EncodingCurrent, v.Encoding())
	assert.Equal(t, "test-metadata-location", v.Location())
	assert.Equal(t, model.ContentID("test-content-id"), v.ContentID())
}

func TestUpgrade(t *testing.T) {
	const max = 20

	for _, numLegacy := range []int{1, 2, 19, 20, 21, 40, 99, 100, 101} {
		numLegacy := numLegacy
		t.Run(fmt.Sprintf("legacy=%d", numLegacy), func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))

			var keys []model.ContentKey
			for i := 0; i < numLegacy; i++ {
				key := model.NewContentKey("test", "table", fmt.Sprintf("legacy-%03d", i))
				commitOps(t, store, legacyPut(key, model.ContentID(fmt.Sprintf("legacy-id-%d", i)), "test-metadata-location"))
				keys = append(keys, key)
			}
			current := make(map[string][]byte)
			for i := 0; i < 5; i++ {
				key := model.NewContentKey("test", "table", fmt.Sprintf("current-%d", i))
				p := currentPut(key, model.ContentID(fmt.Sprintf("extra-content-id-%d", i)), "test-metadata-location")
				commitOps(t, store, p)
				keys = append(keys, key)
				current[key.MapKey()] = p.Payload
			}
			before := head(t, store, DefaultBranch)
			beforeLen := len(commitLog(t, store, before))

			res, err := newDriver(t, store, max).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, StateCleaned, res.State)
			assert.Equal(t, numLegacy, res.Migrated)
			assertNoWorkingBranch(t, store)

			batches := (numLegacy + max - 1) / max
			log := commitLog(t, store, head(t, store, DefaultBranch))
			require.Len(t, log, beforeLen+batches+1)
			assert.Equal(t, before, log[batches+1].Hash, "history below the upgrade is kept")

			// the top commit only carries the key list
			require.NotNil(t, log[0].KeyList)
			assert.Len(t, log[0].KeyList.Entries, len(keys))
			assert.Empty(t, log[0].Operations)

			assert.LessOrEqual(t, len(log[1].Puts()), max)
			for _, c := range log[2 : batches+1] {
				assert.Len(t, c.Puts(), max)
			}

			values, err := store.Values(ctx, DefaultBranch, keys)
			require.NoError(t, err)
			require.Len(t, values, len(keys))
			for _, e := range values {
				v, err := content.Decode(e.Type, e.Payload)
				require.NoError(t, err)
				assert.Equal(t, content.EncodingCurrent, v.Encoding(), e.Key.String())
				assert.Equal(t, "test-metadata-location", v.Location())
				assert.Equal(t, e.ContentID, v.ContentID())
				if p, ok := current[e.Key.MapKey()]; ok {
					assert.Equal(t, p, e.Payload, "current entries are not rewritten")
				}
			}
		})
	}
}

func TestEmptyUpgrade(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))

	res, err := newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoOp, res.State)
	assert.Equal(t, store.NoAncestorHash(), head(t, store, DefaultBranch))
	assertNoWorkingBranch(t, store)
}

func TestUnnecessaryUpgrade(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	before := commitOps(t, store, currentPut(model.NewContentKey("test-key"), "id123", "metadata1"))

	res, err := newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoOp, res.State)
	assert.Equal(t, before, head(t, store, DefaultBranch))
	assertNoWorkingBranch(t, store)
}

func TestUnnecessaryUpgradeOfDeletedEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	key := model.NewContentKey("test", "table", "11111")
	commitOps(t, store, legacyPut(key, "test-content-id", "test-metadata-location"))
	before := commitOps(t, store, model.Delete{Key: key})

	res, err := newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoOp, res.State)
	assert.Equal(t, before, head(t, store, DefaultBranch))
}

func TestUnnecessaryUpgradeOfReplacedEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	key := model.NewContentKey("test", "table", "11111")
	commitOps(t, store, legacyPut(key, "test-content-id", "test-metadata-location"))
	before := commitOps(t, store, currentPut(key, "id123", "metadata1"))

	res, err := newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoOp, res.State)
	assert.Equal(t, before, head(t, store, DefaultBranch))
}

func TestUpgradeBranchReset(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	key := model.NewContentKey("test1")
	commitOps(t, store, legacyPut(key, "test-cid", "loc"))

	require.NoError(t, store.CreateBranch(ctx, upgradeBranchName, store.NoAncestorHash()))

	res, err := newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCleaned, res.State)
	assertNoWorkingBranch(t, store)

	values, err := store.Values(ctx, DefaultBranch, []model.ContentKey{key})
	require.NoError(t, err)
	require.Len(t, values, 1)
	v, err := content.Decode(model.TypeIcebergTable, values[key.MapKey()].Payload)
	require.NoError(t, err)
	assert.Equal(t, content.EncodingCurrent, v.Encoding())
	assert.Len(t, commitLog(t, store, res.Head), 3)
}

func TestUpgradeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	commitOps(t, store, legacyPut(model.NewContentKey("a"), "id-a", "loc-a"))
	commitOps(t, store, legacyPut(model.NewContentKey("b"), "id-b", "loc-b"))

	first, err := newDriver(t, store, 1).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCleaned, first.State)

	second, err := newDriver(t, store, 1).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoOp, second.State)
	assert.Equal(t, first.Head, second.Head)
	assert.Equal(t, first.Head, head(t, store, DefaultBranch))
	assertNoWorkingBranch(t, store)
}

func seedForRetry(t *testing.T, store *versionstore.Store) {
	t.Helper()
	require.NoError(t, store.InitializeRepo(context.Background(), DefaultBranch))
	for i := 0; i < 7; i++ {
		key := model.NewContentKey("db", fmt.Sprintf("t%d", i))
		commitOps(t, store, legacyPut(key, model.ContentID(fmt.Sprintf("id-%d", i)), fmt.Sprintf("loc-%d", i)))
	}
}

func TestRetryAfterCrashBeforePromote(t *testing.T) {
	ctx := context.Background()

	clean := newStore(t)
	seedForRetry(t, clean)
	want, err := newDriver(t, clean, 3).Run(ctx)
	require.NoError(t, err)

	crashed := newStore(t)
	seedForRetry(t, crashed)
	d := newDriver(t, crashed, 3)
	scan, err := d.Scan(ctx)
	require.NoError(t, err)
	when, err := d.commitTime(ctx, scan.Head)
	require.NoError(t, err)
	staged, err := d.stage(ctx, scan.Head, Plan(scan.Legacy, 3), when)
	require.NoError(t, err)
	assert.Equal(t, want.Head, staged, "staging is reproducible")
	assert.Equal(t, scan.Head, head(t, crashed, DefaultBranch), "staging never touches the real branch")

	got, err := newDriver(t, crashed, 3).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCleaned, got.State)
	assert.Equal(t, want.Head, got.Head)
	assertNoWorkingBranch(t, crashed)
}

// racingStore commits to the real branch right before the upgrade assigns it.
type racingStore struct {
	*versionstore.Store
	t *testing.T
}

func (s *racingStore) AssignBranch(ctx context.Context, name string, expected, to model.Hash) error {
	commitOps(s.t, s.Store, currentPut(model.NewContentKey("concurrent"), "id-concurrent", "loc"))
	return s.Store.AssignBranch(ctx, name, expected, to)
}

func TestConcurrentModification(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	commitOps(t, store, legacyPut(model.NewContentKey("a"), "id-a", "loc-a"))

	res, err := newDriver(t, &racingStore{Store: store, t: t}, 0).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, err, versionstore.ErrReferenceConflict)
	assert.Equal(t, StateStaged, res.State)

	var cme *ConcurrentModificationError
	require.True(t, errors.As(err, &cme))
	assert.Equal(t, DefaultBranch, cme.Branch)

	// the concurrent write is kept, the upgrade is not applied
	concurrentHead := head(t, store, DefaultBranch)
	log := commitLog(t, store, concurrentHead)
	require.Len(t, log, 2)
	assert.Equal(t, "test", log[0].Meta.Message)

	// an operator retry picks up the new head and cleans the leftover branch
	res, err = newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCleaned, res.State)
	assert.Equal(t, concurrentHead, res.SourceHash)
	assertNoWorkingBranch(t, store)
}

func TestCorruptPayloadAbortsRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	commitOps(t, store, legacyPut(model.NewContentKey("a"), "id-a", "loc-a"))
	before := commitOps(t, store, model.Put{
		Key:       model.NewContentKey("broken"),
		ContentID: "id-broken",
		Type:      model.TypeIcebergTable,
		Payload:   []byte{0x18, 0x01},
	})

	res, err := newDriver(t, store, 0).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, content.ErrCorruptPayload)
	assert.Equal(t, StateStart, res.State)
	assert.Equal(t, before, head(t, store, DefaultBranch))
	assertNoWorkingBranch(t, store)
}

func TestMissingBranch(t *testing.T) {
	_, err := newDriver(t, newStore(t), 0).Run(context.Background())
	assert.ErrorIs(t, err, versionstore.ErrReferenceNotFound)
}

func TestWorkingBranchMustDiffer(t *testing.T) {
	_, err := NewDriver(newStore(t), Options{Branch: "main", WorkingBranch: "main"})
	assert.Error(t, err)
}

// stickyStore refuses to delete the working branch.
type stickyStore struct {
	*versionstore.Store
}

func (s *stickyStore) DeleteBranch(ctx context.Context, name string) error {
	if name == upgradeBranchName {
		return errors.New("delete refused")
	}
	return s.Store.DeleteBranch(ctx, name)
}

func TestCleanupFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	commitOps(t, store, legacyPut(model.NewContentKey("a"), "id-a", "loc-a"))

	res, err := newDriver(t, &stickyStore{Store: store}, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePromoted, res.State)
	assert.Equal(t, res.Head, head(t, store, DefaultBranch))
	assert.Equal(t, res.Head, head(t, store, upgradeBranchName))

	// the next run has nothing to upgrade but still removes the orphan
	promoted := res.Head
	res, err = newDriver(t, store, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoOp, res.State)
	assert.Equal(t, promoted, head(t, store, DefaultBranch))
	assertNoWorkingBranch(t, store)
}

type recordingRefresher struct {
	branch string
	head   model.Hash
	err    error
}

func (r *recordingRefresher) Refresh(ctx context.Context, branch string, head model.Hash) error {
	r.branch = branch
	r.head = head
	return r.err
}

func TestRefresherIsNotified(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitializeRepo(ctx, DefaultBranch))
	commitOps(t, store, legacyPut(model.NewContentKey("a"), "id-a", "loc-a"))

	refresher := &recordingRefresher{err: errors.New("catalog offline")}
	d, err := NewDriver(store, Options{
		WorkingBranch: upgradeBranchName,
		Refresher:     refresher,
		Logger:        testLogger(),
	})
	require.NoError(t, err)

	res, err := d.Run(ctx)
	require.NoError(t, err, "refresh failures do not fail the upgrade")
	assert.Equal(t, DefaultBranch, refresher.branch)
	assert.Equal(t, res.Head, refresher.head)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "no-op", StateNoOp.String())
	assert.Equal(t, "cleaned", StateCleaned.String())
	assert.Equal(t, "unknown", State(42).String())
}
