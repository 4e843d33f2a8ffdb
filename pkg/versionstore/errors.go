package versionstore

import "github.com/pkg/errors"

var (
	// ErrReferenceNotFound is returned when a branch or commit does not exist.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrReferenceConflict is returned when a branch is not at the expected
	// hash, or when a concurrent writer won the race for it.
	ErrReferenceConflict = errors.New("reference conflict")

	// ErrReferenceAlreadyExists is returned when creating a branch whose
	// name is taken.
	ErrReferenceAlreadyExists = errors.New("reference already exists")
)
