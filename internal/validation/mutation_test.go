package validation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/learnsync/internal/models"
)

func newMutation(op models.Operation) *models.Mutation {
	m := &models.Mutation{
		ID:         uuid.NewString(),
		EntityType: models.EntityProgress,
		EntityID:   "progress-1",
		Operation:  op,
	}
	switch op {
	case models.OpCreate:
		m.Payload = map[string]any{"user_id": "u1", "lesson_id": "l1", "status": "in_progress"}
	case models.OpUpdate:
		m.BaseSyncToken = "t1"
		m.Payload = map[string]any{"progress_percentage": 50}
	case models.OpDelete:
		m.BaseSyncToken = "t1"
	}
	return m
}

func TestValidateMutation(t *testing.T) {
	tests := []struct {
		mutate  func(m *models.Mutation)
		name    string
		op      models.Operation
		errMsg  string
		wantErr bool
	}{
		{name: "valid create", op: models.OpCreate},
		{name: "valid update", op: models.OpUpdate},
		{name: "valid delete", op: models.OpDelete},
		{
			name:    "id is not a uuid",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.ID = "not-a-uuid" },
			wantErr: true,
			errMsg:  "id failed on uuid",
		},
		{
			name:    "missing entity id",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.EntityID = "" },
			wantErr: true,
			errMsg:  "entity_id failed on required",
		},
		{
			name:    "unknown operation",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.Operation = "upsert" },
			wantErr: true,
			errMsg:  "operation failed on oneof",
		},
		{
			name:    "unknown entity type",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.EntityType = "invoice" },
			wantErr: true,
			errMsg:  `unknown entity_type "invoice"`,
		},
		{
			name:    "create with base token",
			op:      models.OpCreate,
			mutate:  func(m *models.Mutation) { m.BaseSyncToken = "t0" },
			wantErr: true,
			errMsg:  "must be absent for create",
		},
		{
			name:    "create missing required field",
			op:      models.OpCreate,
			mutate:  func(m *models.Mutation) { delete(m.Payload, "lesson_id") },
			wantErr: true,
			errMsg:  "missing required fields: lesson_id",
		},
		{
			name:    "update without base token",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.BaseSyncToken = "" },
			wantErr: true,
			errMsg:  "base_sync_token is required for update",
		},
		{
			name:    "update with empty payload",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.Payload = nil },
			wantErr: true,
			errMsg:  "update payload must not be empty",
		},
		{
			name:    "update clears required field",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.Payload["lesson_id"] = nil },
			wantErr: true,
			errMsg:  "update payload cannot clear required fields: lesson_id",
		},
		{
			name:   "update clears optional field",
			op:     models.OpUpdate,
			mutate: func(m *models.Mutation) { m.Payload["completed_at"] = nil },
		},
		{
			name:    "delete without base token",
			op:      models.OpDelete,
			mutate:  func(m *models.Mutation) { m.BaseSyncToken = "" },
			wantErr: true,
			errMsg:  "base_sync_token is required for delete",
		},
		{
			name:    "delete with payload",
			op:      models.OpDelete,
			mutate:  func(m *models.Mutation) { m.Payload = map[string]any{"status": "x"} },
			wantErr: true,
			errMsg:  "delete payload must be empty",
		},
		{
			name:    "illegal payload field",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.Payload["password_hash"] = "x" },
			wantErr: true,
			errMsg:  `field "password_hash" is not allowed for progress`,
		},
		{
			name:    "reserved payload field",
			op:      models.OpUpdate,
			mutate:  func(m *models.Mutation) { m.Payload["sync_token"] = "forged" },
			wantErr: true,
			errMsg:  `field "sync_token" is not allowed`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMutation(tt.op)
			if tt.mutate != nil {
				tt.mutate(m)
			}

			err := ValidateMutation(m)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateMutation_Nil(t *testing.T) {
	assert.ErrorIs(t, ValidateMutation(nil), models.ErrValidation)
}

func TestStruct_Envelope(t *testing.T) {
	type envelope struct {
		BatchID string `json:"batch_id" validate:"required,uuid"`
	}

	assert.NoError(t, Struct(envelope{BatchID: uuid.NewString()}))

	err := Struct(envelope{})
	require.Error(t, err)
	assert.Equal(t, "batch_id failed on required", err.Error())
}
