// Package boltstore implements the datastore on a local bbolt file. It is
// meant for development and single-process tools: every kind is a bucket
// and queries are evaluated in process.
package boltstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/jacentio/dynorm/datastore"
)

// kindPrefix names the bucket of every kind.
const kindPrefix = "Kind."

var _ datastore.Datastore = (*Store)(nil)

// Store is a datastore.Datastore persisted in a bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	slog.Debug("boltstore.Open - open bolt store", "path", path)

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketName(kind string) []byte {
	return []byte(kindPrefix + kind)
}

// Get implements datastore.Datastore.
func (s *Store) Get(_ context.Context, key datastore.Key) (*datastore.Entity, error) {
	if key.Incomplete() {
		return nil, fmt.Errorf("%w: get with incomplete key %s", datastore.ErrInvalidKey, key)
	}
	var e *datastore.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(key.Kind))
		if bucket == nil {
			return datastore.ErrNoSuchEntity
		}
		data := bucket.Get([]byte(key.Encode()))
		if data == nil {
			return datastore.ErrNoSuchEntity
		}
		var err error
		e, err = datastore.UnmarshalEntity(data)
		return err
	})
	return e, err
}

// Put implements datastore.Datastore. Ids come from the kind bucket's
// sequence; an explicit id moves the sequence past it.
func (s *Store) Put(_ context.Context, e *datastore.Entity) (datastore.Key, error) {
	if e == nil || e.Key.Kind == "" {
		return datastore.Key{}, fmt.Errorf("%w: entity without kind", datastore.ErrInvalidKey)
	}
	key := e.Key
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(key.Kind))
		if err != nil {
			return fmt.Errorf("failed to create bucket for %s: %w", key.Kind, err)
		}

		switch {
		case key.Incomplete():
			next, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			key.ID = int64(next)
		case key.ID > 0 && uint64(key.ID) > bucket.Sequence():
			if err := bucket.SetSequence(uint64(key.ID)); err != nil {
				return err
			}
		}

		data, err := datastore.MarshalEntity(&datastore.Entity{Key: key, Properties: e.Properties})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key.Encode()), data)
	})
	if err != nil {
		return datastore.Key{}, err
	}
	return key, nil
}

// Delete implements datastore.Datastore.
func (s *Store) Delete(_ context.Context, keys ...datastore.Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, key := range keys {
			bucket := tx.Bucket(bucketName(key.Kind))
			if bucket == nil || key.Incomplete() {
				continue
			}
			if err := bucket.Delete([]byte(key.Encode())); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run implements datastore.Datastore. The whole kind is read in one
// transaction and the result is materialised.
func (s *Store) Run(_ context.Context, q *datastore.Query) (datastore.Iterator, error) {
	all, err := s.scan(q.Kind)
	if err != nil {
		return nil, err
	}
	return datastore.NewSliceIterator(datastore.Evaluate(q, all)), nil
}

// Count implements datastore.Datastore.
func (s *Store) Count(_ context.Context, q *datastore.Query) (int, error) {
	all, err := s.scan(q.Kind)
	if err != nil {
		return 0, err
	}
	return len(datastore.Evaluate(q, all)), nil
}

// Kinds implements datastore.Datastore.
func (s *Store) Kinds(_ context.Context) ([]string, error) {
	var kinds []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			kind, ok := strings.CutPrefix(string(name), kindPrefix)
			if first, _ := b.Cursor().First(); ok && first != nil {
				kinds = append(kinds, kind)
			}
			return nil
		})
	})
	slices.Sort(kinds)
	return kinds, err
}

func (s *Store) scan(kind string) ([]*datastore.Entity, error) {
	var out []*datastore.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(kind))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			e, err := datastore.UnmarshalEntity(v)
			if err != nil {
				return fmt.Errorf("decode %s/%s: %w", kind, k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}
