package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/learnsync/internal/client/storage"
)

var authKey = []byte("current")

// SaveAuth stores authentication data
func (s *Storage) SaveAuth(ctx context.Context, auth *storage.AuthData) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to marshal auth data: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketAuth)
		if err != nil {
			return err
		}
		if err := b.Put(authKey, data); err != nil {
			return fmt.Errorf("failed to save auth data: %w", err)
		}
		return nil
	})
}

// GetAuth retrieves stored authentication data
func (s *Storage) GetAuth(ctx context.Context) (*storage.AuthData, error) {
	var auth storage.AuthData

	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketAuth)
		if err != nil {
			return err
		}

		data := b.Get(authKey)
		if data == nil {
			return storage.ErrAuthNotFound
		}

		if err := json.Unmarshal(data, &auth); err != nil {
			return fmt.Errorf("failed to unmarshal auth data: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &auth, nil
}

// DeleteAuth removes stored authentication data (logout)
func (s *Storage) DeleteAuth(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketAuth)
		if err != nil {
			return err
		}

		if b.Get(authKey) == nil {
			return storage.ErrAuthNotFound
		}

		if err := b.Delete(authKey); err != nil {
			return fmt.Errorf("failed to delete auth data: %w", err)
		}
		return nil
	})
}

// IsAuthenticated checks if valid authentication exists
func (s *Storage) IsAuthenticated(ctx context.Context) (bool, error) {
	auth, err := s.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return false, nil
		}
		return false, err
	}

	// Проверяем, не истек ли токен
	if time.Now().After(time.Unix(auth.ExpiresAt, 0)) {
		return false, nil
	}

	return true, nil
}
