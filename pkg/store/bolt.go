package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSessions = []byte("component_sessions")
	bucketUserData = []byte("user_data")
	bucketConfig   = []byte("config")

	keyCleanedAt = []byte("cleaned_at")
)

type boltSession struct {
	Params       []byte    `json:"params"`
	LastAccessed time.Time `json:"last_accessed"`
}

// BoltStore implements Store using a bbolt file.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	o := buildOptions(opts)

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSessions, bucketUserData, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: o.now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put implements Store.
func (s *BoltStore) Put(ctx context.Context, id string, params []byte) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	data, err := json.Marshal(boltSession{Params: params, LastAccessed: s.now()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(id)) != nil {
			return ErrAlreadyExists
		}
		return b.Put([]byte(id), data)
	})
}

// TouchAndGet implements Store. The read, check and write happen in one
// read-write transaction.
func (s *BoltStore) TouchAndGet(ctx context.Context, id string, maxAge time.Duration) ([]byte, error) {
	var params []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		var sess boltSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		now := s.now()
		if now.Sub(sess.LastAccessed) > maxAge {
			return ErrNotFound
		}
		sess.LastAccessed = touchTime(now, sess.LastAccessed)
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		params = sess.Params
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// LastAccessed implements Store.
func (s *BoltStore) LastAccessed(ctx context.Context, id string) (time.Time, error) {
	var sess boltSession
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &sess)
	})
	return sess.LastAccessed, err
}

// DeleteExpired implements Store.
func (s *BoltStore) DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess boltSession
			if err := json.Unmarshal(v, &sess); err != nil || !sess.LastAccessed.After(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}

// GetUserData implements Store.
func (s *BoltStore) GetUserData(ctx context.Context, userPK string) ([]byte, bool, error) {
	var data []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUserData).Get([]byte(userPK))
		if raw != nil {
			found = true
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	return data, found, err
}

// UpsertUserData implements Store.
func (s *BoltStore) UpsertUserData(ctx context.Context, userPK string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if data == nil {
			data = []byte{}
		}
		return tx.Bucket(bucketUserData).Put([]byte(userPK), data)
	})
}

// DeleteUserData implements Store.
func (s *BoltStore) DeleteUserData(ctx context.Context, userPK string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserData).Delete([]byte(userPK))
	})
}

// DeleteOrphanUserData implements Store.
func (s *BoltStore) DeleteOrphanUserData(ctx context.Context, validPKs []string) (int, error) {
	valid := make(map[string]struct{}, len(validPKs))
	for _, pk := range validPKs {
		valid[pk] = struct{}{}
	}
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUserData)
		var orphans [][]byte
		err := b.ForEach(func(k, _ []byte) error {
			if _, ok := valid[string(k)]; !ok {
				orphans = append(orphans, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range orphans {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(orphans)
		return nil
	})
	return n, err
}

// CleanedAt implements Store.
func (s *BoltStore) CleanedAt(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketConfig).Get(keyCleanedAt)
		if raw == nil {
			return nil
		}
		return t.UnmarshalText(raw)
	})
	return t, err
}

// SetCleanedAt implements Store.
func (s *BoltStore) SetCleanedAt(ctx context.Context, t time.Time) error {
	raw, err := t.MarshalText()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(keyCleanedAt, raw)
	})
}
