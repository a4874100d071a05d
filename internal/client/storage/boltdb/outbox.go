package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/models"
)

// AppendMutation assigns the next ClientVersion and stores the record.
// Последовательность bucket не переиспользуется после удаления записей.
func (s *Storage) AppendMutation(ctx context.Context, m *models.Mutation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		outbox, ids, err := outboxBuckets(tx)
		if err != nil {
			return err
		}

		if ids.Get([]byte(m.ID)) != nil {
			return storage.ErrMutationExists
		}

		seq, err := outbox.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate client version: %w", err)
		}
		m.ClientVersion = int64(seq)

		return putMutation(outbox, ids, m)
	})
}

// GetMutation retrieves a queued record by mutation id
func (s *Storage) GetMutation(ctx context.Context, id string) (*models.Mutation, error) {
	var m *models.Mutation

	err := s.db.View(func(tx *bbolt.Tx) error {
		outbox, ids, err := outboxBuckets(tx)
		if err != nil {
			return err
		}
		m, err = getMutation(outbox, ids, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ListMutations returns all queued records in ClientVersion order
func (s *Storage) ListMutations(ctx context.Context) ([]*models.Mutation, error) {
	var records []*models.Mutation

	err := s.db.View(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}

		return outbox.ForEach(func(k, v []byte) error {
			var m models.Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("failed to unmarshal mutation: %w", err)
			}
			records = append(records, &m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// SaveBatch marks records as sent and persists the in-flight pointer atomically
func (s *Storage) SaveBatch(ctx context.Context, batch *storage.InFlightBatch, records []*models.Mutation) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal in-flight batch: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		outbox, ids, err := outboxBuckets(tx)
		if err != nil {
			return err
		}
		meta, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}

		if err := updateMutations(outbox, ids, records); err != nil {
			return err
		}
		if err := meta.Put(keyInFlight, data); err != nil {
			return fmt.Errorf("failed to save in-flight batch: %w", err)
		}
		return nil
	})
}

// GetInFlight returns the persisted in-flight batch or nil if there is none
func (s *Storage) GetInFlight(ctx context.Context) (*storage.InFlightBatch, error) {
	var batch *storage.InFlightBatch

	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}

		raw := meta.Get(keyInFlight)
		if raw == nil {
			return nil
		}

		batch = &storage.InFlightBatch{}
		if err := json.Unmarshal(raw, batch); err != nil {
			return fmt.Errorf("failed to unmarshal in-flight batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return batch, nil
}

// ApplyChange applies all parts of change in one transaction.
// Порядок: замены id, обновления, удаления, кэш токенов, указатель in-flight.
func (s *Storage) ApplyChange(ctx context.Context, change *storage.OutboxChange) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		outbox, ids, err := outboxBuckets(tx)
		if err != nil {
			return err
		}
		meta, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}
		tokens, err := bucket(tx, bucketSyncTokens)
		if err != nil {
			return err
		}

		for oldID, m := range change.Replaced {
			if err := replaceMutation(outbox, ids, oldID, m); err != nil {
				return err
			}
		}
		if err := updateMutations(outbox, ids, change.Updated); err != nil {
			return err
		}
		for _, id := range change.Removed {
			if err := deleteMutation(outbox, ids, id); err != nil {
				return err
			}
		}
		for key, token := range change.Tokens {
			if err := putSyncToken(tokens, key, token); err != nil {
				return err
			}
		}

		if change.ClearInFlight {
			if err := meta.Delete(keyInFlight); err != nil {
				return fmt.Errorf("failed to clear in-flight batch: %w", err)
			}
		}
		return nil
	})
}

func outboxBuckets(tx *bbolt.Tx) (*bbolt.Bucket, *bbolt.Bucket, error) {
	outbox, err := bucket(tx, bucketOutbox)
	if err != nil {
		return nil, nil, err
	}
	ids, err := bucket(tx, bucketOutboxIDs)
	if err != nil {
		return nil, nil, err
	}
	return outbox, ids, nil
}

func putMutation(outbox, ids *bbolt.Bucket, m *models.Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	key := itob(uint64(m.ClientVersion))
	if err := outbox.Put(key, data); err != nil {
		return fmt.Errorf("failed to save mutation: %w", err)
	}
	if err := ids.Put([]byte(m.ID), key); err != nil {
		return fmt.Errorf("failed to index mutation: %w", err)
	}
	return nil
}

func getMutation(outbox, ids *bbolt.Bucket, id string) (*models.Mutation, error) {
	key := ids.Get([]byte(id))
	if key == nil {
		return nil, storage.ErrMutationNotFound
	}

	data := outbox.Get(key)
	if data == nil {
		return nil, fmt.Errorf("outbox index points to missing record %s", id)
	}

	var m models.Mutation
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation: %w", err)
	}
	return &m, nil
}

// updateMutations перезаписывает только уже существующие записи; ClientVersion не меняется
func updateMutations(outbox, ids *bbolt.Bucket, records []*models.Mutation) error {
	for _, m := range records {
		key := ids.Get([]byte(m.ID))
		if key == nil {
			return fmt.Errorf("update %s: %w", m.ID, storage.ErrMutationNotFound)
		}
		stored := *m
		stored.ClientVersion = int64(btoi(key))
		if err := putMutation(outbox, ids, &stored); err != nil {
			return err
		}
	}
	return nil
}

// replaceMutation переносит запись под новый id, сохраняя ее место в очереди
func replaceMutation(outbox, ids *bbolt.Bucket, oldID string, m *models.Mutation) error {
	key := ids.Get([]byte(oldID))
	if key == nil {
		return fmt.Errorf("replace %s: %w", oldID, storage.ErrMutationNotFound)
	}
	if ids.Get([]byte(m.ID)) != nil {
		return fmt.Errorf("replace %s: %w", oldID, storage.ErrMutationExists)
	}

	stored := *m
	stored.ClientVersion = int64(btoi(key))
	if err := ids.Delete([]byte(oldID)); err != nil {
		return fmt.Errorf("failed to delete mutation index: %w", err)
	}
	return putMutation(outbox, ids, &stored)
}

func deleteMutation(outbox, ids *bbolt.Bucket, id string) error {
	key := ids.Get([]byte(id))
	if key == nil {
		return storage.ErrMutationNotFound
	}
	// key принадлежит транзакции, копируем до удаления
	key = append([]byte(nil), key...)

	if err := outbox.Delete(key); err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	if err := ids.Delete([]byte(id)); err != nil {
		return fmt.Errorf("failed to delete mutation index: %w", err)
	}
	return nil
}
