package store

import "errors"

var (
	// ErrCorruptItem is returned when a stored item cannot be decoded into an
	// entity: a missing kind or key attribute, or a malformed type tag.
	ErrCorruptItem = errors.New("dynorm: corrupt item")

	// ErrUnsupportedValue is returned when a property holds a value with no
	// DynamoDB representation.
	ErrUnsupportedValue = errors.New("dynorm: unsupported property value")

	// ErrSequence is returned when id allocation returns no counter.
	ErrSequence = errors.New("dynorm: sequence allocation failed")
)
