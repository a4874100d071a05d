package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	keyLastSyncAt = []byte("last_sync_at")
	keyInFlight   = []byte("in_flight")
)

// SaveLastSyncAt saves the watermark.
// Значение хранится как unix-наносекунды в UTC; время раньше сохраненного игнорируется,
// поэтому watermark никогда не уменьшается.
func (s *Storage) SaveLastSyncAt(ctx context.Context, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}

		if current := b.Get(keyLastSyncAt); current != nil {
			if at.UnixNano() <= int64(btoi(current)) {
				return nil
			}
		}

		if err := b.Put(keyLastSyncAt, itob(uint64(at.UnixNano()))); err != nil {
			return fmt.Errorf("failed to save last sync time: %w", err)
		}
		return nil
	})
}

// GetLastSyncAt retrieves the watermark
// Returns zero time if no sync has been performed yet
func (s *Storage) GetLastSyncAt(ctx context.Context) (time.Time, error) {
	var at time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}

		raw := b.Get(keyLastSyncAt)
		if raw == nil {
			return nil
		}
		at = time.Unix(0, int64(btoi(raw))).UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	return at, nil
}
