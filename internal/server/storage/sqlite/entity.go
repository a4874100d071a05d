package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
)

// queryer общий интерфейс *sql.DB и *sql.Tx для чтения
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// entityTx реализует storage.EntityTx поверх *sql.Tx
type entityTx struct {
	tx *sql.Tx
}

var _ storage.EntityTx = (*entityTx)(nil)

// WithinTx runs fn in a single transaction
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.EntityTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, &entityTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetEntity retrieves entity outside of a transaction
func (s *Storage) GetEntity(ctx context.Context, key models.EntityKey) (*models.Entity, error) {
	return getEntity(ctx, s.db, key)
}

func (t *entityTx) GetEntity(ctx context.Context, key models.EntityKey) (*models.Entity, error) {
	return getEntity(ctx, t.tx, key)
}

func getEntity(ctx context.Context, q queryer, key models.EntityKey) (*models.Entity, error) {
	query := `
		SELECT fields, sync_token, deleted, updated_at
		FROM entities
		WHERE entity_type = ? AND entity_id = ?
	`

	entity := &models.Entity{Type: key.Type, ID: key.ID}
	var fields string

	err := q.QueryRowContext(ctx, query, string(key.Type), key.ID).Scan(
		&fields,
		&entity.SyncToken,
		&entity.Deleted,
		&entity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(fields), &entity.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields of %s: %w", key, err)
	}

	return entity, nil
}

func (t *entityTx) InsertEntity(ctx context.Context, entity *models.Entity) error {
	fields, err := marshalFields(entity.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (entity_type, entity_id, fields, sync_token, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`

	updatedAt := entity.UpdatedAt.UTC()
	_, err = t.tx.ExecContext(ctx, query,
		string(entity.Type),
		entity.ID,
		fields,
		entity.SyncToken,
		updatedAt,
		updatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrEntityExists
		}
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	return nil
}

func (t *entityTx) UpdateEntity(ctx context.Context, entity *models.Entity, expectedToken string) error {
	fields, err := marshalFields(entity.Fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities
		SET fields = ?, sync_token = ?, updated_at = ?
		WHERE entity_type = ? AND entity_id = ? AND sync_token = ? AND deleted = 0
	`

	result, err := t.tx.ExecContext(ctx, query,
		fields,
		entity.SyncToken,
		entity.UpdatedAt.UTC(),
		string(entity.Type),
		entity.ID,
		expectedToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	return t.checkWritten(ctx, result, entity.Type, entity.ID)
}

func (t *entityTx) DeleteEntity(ctx context.Context, entity *models.Entity, expectedToken string) error {
	query := `
		UPDATE entities
		SET deleted = 1, sync_token = ?, updated_at = ?
		WHERE entity_type = ? AND entity_id = ? AND sync_token = ? AND deleted = 0
	`

	result, err := t.tx.ExecContext(ctx, query,
		entity.SyncToken,
		entity.UpdatedAt.UTC(),
		string(entity.Type),
		entity.ID,
		expectedToken,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	return t.checkWritten(ctx, result, entity.Type, entity.ID)
}

// checkWritten различает отсутствие строки и несовпадение токена, когда UPDATE ничего не изменил
func (t *entityTx) checkWritten(ctx context.Context, result sql.Result, typ models.EntityType, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	current, err := getEntity(ctx, t.tx, models.EntityKey{Type: typ, ID: id})
	if err != nil {
		return err
	}
	if current.Deleted {
		return storage.ErrEntityNotFound
	}
	return storage.ErrSyncTokenMismatch
}

func marshalFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}
