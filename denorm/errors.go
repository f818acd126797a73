package denorm

import (
	"errors"

	"github.com/jacentio/propsync/store"
)

// ErrMalformed is returned when a mutation image or a range-read record cannot
// be decoded into its record type.
var ErrMalformed = errors.New("propsync: malformed record")

// IsPermanent reports whether err fails the same way on every retry of the same
// mutation: undecodable records and write sets the store rejects before sending.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, store.ErrTooManyWrites) ||
		errors.Is(err, store.ErrInvalidPath) ||
		errors.Is(err, store.ErrConflictingWrites)
}
