package store

import "errors"

var (
	// ErrNotFound is returned when a path has no value or its record is deleted (has TTL <= now).
	ErrNotFound = errors.New("propsync: value not found")

	// ErrInvalidPath is returned when a path cannot be parsed or addresses nothing.
	ErrInvalidPath = errors.New("propsync: invalid path")

	// ErrUnknownCollection is returned when a path names a collection with no table.
	ErrUnknownCollection = errors.New("propsync: unknown collection")

	// ErrTooManyWrites is returned when an atomic write touches more records than one
	// transaction can hold.
	ErrTooManyWrites = errors.New("propsync: atomic write exceeds transaction limit")

	// ErrConflictingWrites is returned when an atomic write replaces a whole record
	// and also writes inside it.
	ErrConflictingWrites = errors.New("propsync: conflicting writes to one record")
)
