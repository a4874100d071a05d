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

func (t *entityTx) LookupOutcome(ctx context.Context, mutationID string) (*models.SyncLogEntry, error) {
	query := `
		SELECT mutation_id, batch_id, user_id, entity_type, entity_id, operation, outcome, created_at
		FROM sync_logs
		WHERE mutation_id = ?
	`

	entry := &models.SyncLogEntry{}
	var (
		entityType string
		operation  string
		outcome    string
	)

	err := t.tx.QueryRowContext(ctx, query, mutationID).Scan(
		&entry.MutationID,
		&entry.BatchID,
		&entry.UserID,
		&entityType,
		&entry.EntityID,
		&operation,
		&outcome,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("failed to lookup outcome: %w", err)
	}

	entry.EntityType = models.EntityType(entityType)
	entry.Operation = models.Operation(operation)
	if err := json.Unmarshal([]byte(outcome), &entry.Outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}

	return entry, nil
}

func (t *entityTx) RecordOutcome(ctx context.Context, entry *models.SyncLogEntry) error {
	outcome, err := json.Marshal(entry.Outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	query := `
		INSERT INTO sync_logs (mutation_id, batch_id, user_id, entity_type, entity_id, operation, result, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = t.tx.ExecContext(ctx, query,
		entry.MutationID,
		entry.BatchID,
		entry.UserID,
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Operation),
		string(entry.Outcome.Result),
		string(outcome),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	return nil
}

// GetSyncStatus summarizes the most recent batch of a user that produced log entries
func (s *Storage) GetSyncStatus(ctx context.Context, userID string) (*models.SyncStatus, error) {
	status := &models.SyncStatus{}

	// Выбираем саму колонку, а не MAX(), чтобы драйвер распознал тип TIMESTAMP
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT batch_id, created_at
		FROM sync_logs
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, userID).Scan(&status.BatchID, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status, nil
		}
		return nil, fmt.Errorf("failed to query last sync: %w", err)
	}
	if last.Valid {
		status.LastSyncAt = &last.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result, COUNT(*)
		FROM sync_logs
		WHERE user_id = ? AND batch_id = ?
		GROUP BY result
	`, userID, status.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			result string
			count  int
		)
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		switch models.Result(result) {
		case models.ResultApplied:
			status.Applied = count
		case models.ResultConflict:
			status.Conflicts = count
		case models.ResultRejected:
			status.Rejected = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return status, nil
}
