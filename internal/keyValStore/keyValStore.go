package keyValStore

import (
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/ouroboros-catalog/pkg/versionstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	InMemory         bool     // keep everything in memory, Paths is ignored
	Logger           *logrus.Logger
}

// KeyValStore is the badger backed versionstore.Backend.
type KeyValStore struct {
	config       StoreConfig
	log          *logrus.Logger
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

var _ versionstore.Backend = (*KeyValStore)(nil)

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	log := config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, errors.Wrap(err, "error checking config for KeyValStore")
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts = opts.
		WithLogger(log.WithField("component", "badger")).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening badger")
	}

	if !config.InMemory {
		if err := displayDiskUsage(log, config.Paths); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &KeyValStore{
		config:   config,
		log:      log,
		badgerDB: db,
	}, nil
}

type badgerTxn struct {
	k   *KeyValStore
	txn *badger.Txn
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	atomic.AddUint64(&t.k.readCounter, 1)
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, versionstore.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading key %q", key)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key, value []byte) error {
	atomic.AddUint64(&t.k.writeCounter, 1)
	return t.txn.Set(key, value)
}

func (t *badgerTxn) Delete(key []byte) error {
	atomic.AddUint64(&t.k.writeCounter, 1)
	return t.txn.Delete(key)
}

func (t *badgerTxn) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		atomic.AddUint64(&t.k.readCounter, 1)
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), v); err != nil {
			return err
		}
	}
	return nil
}

func (k *KeyValStore) View(fn func(txn versionstore.Txn) error) error {
	return k.badgerDB.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{k: k, txn: txn})
	})
}

func (k *KeyValStore) Update(fn func(txn versionstore.Txn) error) error {
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{k: k, txn: txn})
	})
	if err == badger.ErrConflict {
		return errors.Wrap(versionstore.ErrTxnConflict, err.Error())
	}
	return err
}

// Counters returns the number of key reads and writes since the store was
// opened.
func (k *KeyValStore) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&k.readCounter), atomic.LoadUint64(&k.writeCounter)
}

func (k *KeyValStore) Close() error {
	if !k.config.InMemory {
		if err := k.badgerDB.Sync(); err != nil {
			k.log.WithError(err).Warn("error syncing db")
		}
	}
	reads, writes := k.Counters()
	k.log.WithFields(logrus.Fields{
		"reads":  reads,
		"writes": writes,
	}).Debug("closing key value store")
	return k.badgerDB.Close()
}

// Clean flattens the LSM tree and runs value log garbage collection.
func (k *KeyValStore) Clean() error {
	if err := k.badgerDB.Flatten(2); err != nil {
		return errors.Wrap(err, "error flattening db")
	}
	err := k.badgerDB.RunValueLogGC(0.1)
	if err != nil && err != badger.ErrNoRewrite {
		return errors.Wrap(err, "error cleaning db")
	}
	return nil
}
