package versionstore

import "github.com/pkg/errors"

var (
	// ErrKeyNotFound is returned by Txn.Get for missing keys.
	ErrKeyNotFound = errors.New("key not found")

	// ErrTxnConflict is returned by Backend.Update when the transaction
	// lost against a concurrent one.
	ErrTxnConflict = errors.New("transaction conflict")
)

// Txn is a key value transaction.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// IteratePrefix visits keys with the given prefix in ascending order.
	IteratePrefix(prefix []byte, fn func(key, value []byte) error) error
}

// Backend persists the store's objects. View transactions are read only;
// Update transactions are atomic and serializable.
type Backend interface {
	View(fn func(txn Txn) error) error
	Update(fn func(txn Txn) error) error
}
