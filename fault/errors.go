// Package fault defines the error taxonomy shared by every dynorm layer.
//
// The sentinels form a two-tier hierarchy: every error raised by the layer is
// an [ErrDatabase], and the more specific kinds chain to it so that
// errors.Is(err, ErrDatabase) holds for all of them:
//
//   - [ErrIntegrity] - a constraint violation detected before any store write
//   - [ErrNotSupported] - a query shape the store can never express
//   - [ErrCouldBeSupported] - a feature gap that could be closed later
//
// Errors from the store client and the side cache are never wrapped in these
// kinds; store failures propagate unchanged.
package fault

import "errors"

type kindError struct {
	msg    string
	parent error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.parent }

var (
	// ErrDatabase is the root of the hierarchy.
	ErrDatabase = errors.New("dynorm: database error")

	// ErrIntegrity is returned when a row violates a declared constraint:
	// a non-nullable field resolved to nil, an invalid primary key, a value
	// outside its declared precision, or a duplicate unique value.
	ErrIntegrity error = &kindError{msg: "dynorm: integrity error", parent: ErrDatabase}

	// ErrNotSupported is returned for operations the document store cannot
	// express even after special index rewriting.
	ErrNotSupported error = &kindError{msg: "dynorm: not supported", parent: ErrDatabase}

	// ErrCouldBeSupported is returned for operations that are not implemented
	// yet but have no fundamental obstacle.
	ErrCouldBeSupported error = &kindError{msg: "dynorm: not supported yet", parent: ErrDatabase}

	// ErrCommandState is returned when a command is executed twice or before
	// it was translated.
	ErrCommandState error = &kindError{msg: "dynorm: command already executed", parent: ErrDatabase}
)
