package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/service"
)

var snapshotBucket = []byte("snapshots")

// DefaultSnapshotRetention is how many model generations a SnapshotStore keeps.
const DefaultSnapshotRetention = 5

// SnapshotStore keeps the corpus behind recent model generations in a bolt file, keyed by a
// store-assigned version, so a restarted process can rebuild the active model.
type SnapshotStore struct {
	db   *bolt.DB
	keep int
}

// OpenSnapshotStore opens (creating if needed) the bolt file at path. keep bounds the number
// of retained generations; values below 1 use DefaultSnapshotRetention.
func OpenSnapshotStore(path string, keep int) (*SnapshotStore, error) {
	if err := validateString(path, "path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create snapshot bucket: %w", err)
	}

	if keep < 1 {
		keep = DefaultSnapshotRetention
	}
	return &SnapshotStore{db: db, keep: keep}, nil
}

// Close closes the bolt file.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func versionKey(version int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(version)) // #nosec G115 -- versions are non-negative
	return key
}

// SaveSnapshot stores snapshot under the next version, one past the highest retained key,
// and prunes generations beyond the retention bound. Pruning only drops the oldest keys, so
// versions keep increasing across processes. It returns the assigned version.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snapshot service.ModelSnapshot) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)

		snapshot.Version = 1
		if k, _ := b.Cursor().Last(); k != nil {
			snapshot.Version = int64(binary.BigEndian.Uint64(k)) + 1 // #nosec G115
		}
		val, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		if err := b.Put(versionKey(snapshot.Version), val); err != nil {
			return err
		}

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.keep; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return snapshot.Version, nil
}

// LatestSnapshot returns the highest version, or common.ErrNotFound when the store is empty.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context) (*service.ModelSnapshot, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var snapshot *service.ModelSnapshot
	if err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(snapshotBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		snapshot = &service.ModelSnapshot{}
		return json.Unmarshal(v, snapshot)
	}); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if snapshot == nil {
		return nil, fmt.Errorf("%w: no model snapshot", common.ErrNotFound)
	}
	return snapshot, nil
}

// Versions lists the retained versions in ascending order.
func (s *SnapshotStore) Versions() ([]int64, error) {
	var versions []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(k, _ []byte) error {
			versions = append(versions, int64(binary.BigEndian.Uint64(k))) // #nosec G115
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return versions, nil
}
