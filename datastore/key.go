package datastore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// KeyProperty is the pseudo-property that filters and orders address when
// they refer to an entity's identity rather than a stored column.
const KeyProperty = "__key__"

var (
	// ErrNoSuchEntity is returned by Get when no entity is stored under a key.
	ErrNoSuchEntity = errors.New("dynorm: no such entity")

	// ErrInvalidKey is returned for keys that cannot be stored or decoded.
	ErrInvalidKey = errors.New("dynorm: invalid key")

	// Done is returned by Iterator.Next when the results are exhausted.
	Done = errors.New("dynorm: no more results")
)

// Key identifies an entity within its kind. Exactly one of ID and Name is
// set on a complete key; an incomplete key has neither and receives an id
// when it is first written.
type Key struct {
	Kind string
	ID   int64
	Name string
}

// IDKey returns a key with a numeric identity.
func IDKey(kind string, id int64) Key {
	return Key{Kind: kind, ID: id}
}

// NameKey returns a key with a string identity.
func NameKey(kind, name string) Key {
	return Key{Kind: kind, Name: name}
}

// IncompleteKey returns a key whose identity is assigned at write time.
func IncompleteKey(kind string) Key {
	return Key{Kind: kind}
}

// Incomplete reports whether the key still needs an identity.
func (k Key) Incomplete() bool {
	return k.ID == 0 && k.Name == ""
}

// IDOrName returns the identity as int64 or string, or nil when incomplete.
func (k Key) IDOrName() any {
	switch {
	case k.Name != "":
		return k.Name
	case k.ID != 0:
		return k.ID
	default:
		return nil
	}
}

// Encode returns the identity as a string that sorts in key order:
// numeric ids first in numeric order, then names lexicographically.
func (k Key) Encode() string {
	if k.Name != "" {
		return "n:" + k.Name
	}
	return fmt.Sprintf("i:%020d", k.ID)
}

// String returns "kind/encoded-identity".
func (k Key) String() string {
	if k.Incomplete() {
		return k.Kind + "/?"
	}
	return k.Kind + "/" + k.Encode()
}

// Compare orders keys by kind, then identity in [Key.Encode] order.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Kind, o.Kind); c != 0 {
		return c
	}
	return strings.Compare(k.Encode(), o.Encode())
}

// DecodeKey reverses [Key.Encode] for the given kind.
func DecodeKey(kind, encoded string) (Key, error) {
	switch {
	case strings.HasPrefix(encoded, "n:") && len(encoded) > 2:
		return NameKey(kind, encoded[2:]), nil
	case strings.HasPrefix(encoded, "i:"):
		id, err := strconv.ParseInt(encoded[2:], 10, 64)
		if err != nil || id <= 0 {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, encoded)
		}
		return IDKey(kind, id), nil
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, encoded)
	}
}
