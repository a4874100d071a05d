package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/models"
)

// GetSyncToken returns the cached sync token of the entity
func (s *Storage) GetSyncToken(ctx context.Context, key models.EntityKey) (string, error) {
	var token string

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketSyncTokens)
		if err != nil {
			return err
		}

		raw := b.Get([]byte(key.String()))
		if raw == nil {
			return storage.ErrSyncTokenNotFound
		}
		token = string(raw)
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// SaveSyncToken stores token for the entity
func (s *Storage) SaveSyncToken(ctx context.Context, key models.EntityKey, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketSyncTokens)
		if err != nil {
			return err
		}
		return putSyncToken(b, key, token)
	})
}

// putSyncToken пустой token удаляет запись
func putSyncToken(b *bbolt.Bucket, key models.EntityKey, token string) error {
	if token == "" {
		if err := b.Delete([]byte(key.String())); err != nil {
			return fmt.Errorf("failed to delete sync token: %w", err)
		}
		return nil
	}
	if err := b.Put([]byte(key.String()), []byte(token)); err != nil {
		return fmt.Errorf("failed to save sync token: %w", err)
	}
	return nil
}
