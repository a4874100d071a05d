package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
	"github.com/iudanet/learnsync/internal/server/storage/sqlite"
)

var (
	teacher = models.Caller{ID: "teacher-1", Role: models.RoleTeacher}
	admin   = models.Caller{ID: "admin-1", Role: models.RoleAdmin}
	student = models.Caller{ID: "student-1", Role: models.RoleStudent}
)

func setupTestEngine(t *testing.T) (*Engine, *sqlite.Storage) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger, 4), store
}

func batchOf(mutations ...*models.Mutation) *models.Batch {
	return &models.Batch{ID: uuid.NewString(), Mutations: mutations}
}

func createCourse(id, title string) *models.Mutation {
	return &models.Mutation{
		ID:         uuid.NewString(),
		EntityType: models.EntityCourse,
		EntityID:   id,
		Operation:  models.OpCreate,
		Payload:    map[string]any{"title": title},
	}
}

func updateCourse(id, token, title string) *models.Mutation {
	return &models.Mutation{
		ID:            uuid.NewString(),
		EntityType:    models.EntityCourse,
		EntityID:      id,
		Operation:     models.OpUpdate,
		BaseSyncToken: token,
		Payload:       map[string]any{"title": title},
	}
}

func deleteCourse(id, token string) *models.Mutation {
	return &models.Mutation{
		ID:            uuid.NewString(),
		EntityType:    models.EntityCourse,
		EntityID:      id,
		Operation:     models.OpDelete,
		BaseSyncToken: token,
	}
}

func applyOne(t *testing.T, e *Engine, caller models.Caller, m *models.Mutation) models.Outcome {
	t.Helper()
	outcomes, err := e.Apply(context.Background(), caller, batchOf(m))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	return outcomes[0]
}

// seedCourse создает курс и возвращает его текущий sync_token
func seedCourse(t *testing.T, e *Engine, id string) string {
	t.Helper()
	out := applyOne(t, e, teacher, createCourse(id, "Numeracy"))
	require.Equal(t, models.ResultApplied, out.Result)
	return out.NewSyncToken
}

func TestEngine_CreateAndReplay(t *testing.T) {
	e, store := setupTestEngine(t)
	ctx := context.Background()

	create := createCourse("c1", "Numeracy")

	first := applyOne(t, e, teacher, create)
	require.Equal(t, models.ResultApplied, first.Result)
	assert.Equal(t, create.ID, first.MutationID)
	assert.NotEmpty(t, first.NewSyncToken)

	// Повторная доставка того же id в новом пакете возвращает тот же результат
	replay := applyOne(t, e, teacher, create.Clone())
	assert.Equal(t, first, replay)

	entity, err := store.GetEntity(ctx, models.EntityKey{Type: models.EntityCourse, ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, first.NewSyncToken, entity.SyncToken)
	assert.Equal(t, "Numeracy", entity.Fields["title"])
}

func TestEngine_TwoDeviceConflict(t *testing.T) {
	e, store := setupTestEngine(t)
	token := seedCourse(t, e, "c1")

	deviceA := updateCourse("c1", token, "Numeracy A")
	deviceB := updateCourse("c1", token, "Numeracy B")

	outA := applyOne(t, e, teacher, deviceA)
	require.Equal(t, models.ResultApplied, outA.Result)
	assert.NotEqual(t, token, outA.NewSyncToken)

	outB := applyOne(t, e, admin, deviceB)
	require.Equal(t, models.ResultConflict, outB.Result)
	assert.Empty(t, outB.NewSyncToken)
	assert.Equal(t, "Numeracy A", outB.ServerState["title"])
	assert.Equal(t, outA.NewSyncToken, outB.ServerState["sync_token"])
	assert.Equal(t, "c1", outB.ServerState["id"])

	entity, err := store.GetEntity(context.Background(), models.EntityKey{Type: models.EntityCourse, ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "Numeracy A", entity.Fields["title"])
}

func TestEngine_PerEntityOrder(t *testing.T) {
	e, _ := setupTestEngine(t)
	token := seedCourse(t, e, "c1")

	// Обе правки написаны на одном токене: применяется только первая по порядку пакета
	first := updateCourse("c1", token, "first")
	second := updateCourse("c1", token, "second")

	outcomes, err := e.Apply(context.Background(), teacher, batchOf(first, second))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, first.ID, outcomes[0].MutationID)
	assert.Equal(t, models.ResultApplied, outcomes[0].Result)
	assert.Equal(t, second.ID, outcomes[1].MutationID)
	assert.Equal(t, models.ResultConflict, outcomes[1].Result)
	assert.Equal(t, "first", outcomes[1].ServerState["title"])
}

func TestEngine_OutOfOrderUpdateConflicts(t *testing.T) {
	e, _ := setupTestEngine(t)
	token := seedCourse(t, e, "c1")

	first := updateCourse("c1", token, "first")
	out := applyOne(t, e, teacher, first)
	require.Equal(t, models.ResultApplied, out.Result)

	// Правка, основанная на токене после first, доставленная раньше него, получила бы конфликт
	stale := updateCourse("c1", "token-from-the-future", "second")
	out = applyOne(t, e, teacher, stale)
	assert.Equal(t, models.ResultConflict, out.Result)
}

func TestEngine_Rejections(t *testing.T) {
	tests := []struct {
		mutation   func(t *testing.T, e *Engine) *models.Mutation
		caller     models.Caller
		name       string
		wantDetail string
	}{
		{
			name:   "update of missing entity",
			caller: teacher,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				return updateCourse("missing", "t1", "x")
			},
			wantDetail: "not_found",
		},
		{
			name:   "update of tombstone",
			caller: teacher,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				token := seedCourse(t, e, "c1")
				out := applyOne(t, e, teacher, deleteCourse("c1", token))
				require.Equal(t, models.ResultApplied, out.Result)
				return updateCourse("c1", out.NewSyncToken, "x")
			},
			wantDetail: "not_found",
		},
		{
			name:   "create over existing id",
			caller: teacher,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				seedCourse(t, e, "c1")
				return createCourse("c1", "again")
			},
			wantDetail: "already_exists",
		},
		{
			name:   "invalid mutation",
			caller: teacher,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				m := createCourse("c1", "x")
				m.Payload["sync_token"] = "forged"
				return m
			},
			wantDetail: "validation",
		},
		{
			name:   "invalid mutation reusing a logged id",
			caller: teacher,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				logged := createCourse("c1", "x")
				require.Equal(t, models.ResultApplied, applyOne(t, e, teacher, logged).Result)

				// проверка конверта идет раньше журнала, сохраненный итог не возвращается
				m := logged.Clone()
				m.Payload["sync_token"] = "forged"
				return m
			},
			wantDetail: "validation",
		},
		{
			name:   "student writes course",
			caller: student,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				return createCourse("c1", "x")
			},
			wantDetail: "forbidden",
		},
		{
			name:   "student writes foreign progress",
			caller: student,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				return &models.Mutation{
					ID:         uuid.NewString(),
					EntityType: models.EntityProgress,
					EntityID:   "p1",
					Operation:  models.OpCreate,
					Payload:    map[string]any{"user_id": "student-2", "lesson_id": "l1"},
				}
			},
			wantDetail: "forbidden",
		},
		{
			name:   "student escalates own role",
			caller: student,
			mutation: func(t *testing.T, e *Engine) *models.Mutation {
				return &models.Mutation{
					ID:            uuid.NewString(),
					EntityType:    models.EntityUser,
					EntityID:      student.ID,
					Operation:     models.OpUpdate,
					BaseSyncToken: "t1",
					Payload:       map[string]any{"role": "admin"},
				}
			},
			wantDetail: "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setupTestEngine(t)
			m := tt.mutation(t, e)

			out := applyOne(t, e, tt.caller, m)
			assert.Equal(t, models.ResultRejected, out.Result)
			assert.Equal(t, m.ID, out.MutationID)
			assert.Contains(t, out.ErrorDetail, tt.wantDetail)
		})
	}
}

func TestEngine_StudentOwnProgress(t *testing.T) {
	e, _ := setupTestEngine(t)

	create := &models.Mutation{
		ID:         uuid.NewString(),
		EntityType: models.EntityProgress,
		EntityID:   "p1",
		Operation:  models.OpCreate,
		Payload:    map[string]any{"user_id": student.ID, "lesson_id": "l1", "status": "in_progress"},
	}
	out := applyOne(t, e, student, create)
	require.Equal(t, models.ResultApplied, out.Result)

	update := &models.Mutation{
		ID:            uuid.NewString(),
		EntityType:    models.EntityProgress,
		EntityID:      "p1",
		Operation:     models.OpUpdate,
		BaseSyncToken: out.NewSyncToken,
		Payload:       map[string]any{"progress_percentage": 100},
	}
	out = applyOne(t, e, student, update)
	assert.Equal(t, models.ResultApplied, out.Result)

	// Другой студент не может писать в чужой прогресс, даже без user_id в payload
	intruder := models.Caller{ID: "student-2", Role: models.RoleStudent}
	steal := &models.Mutation{
		ID:            uuid.NewString(),
		EntityType:    models.EntityProgress,
		EntityID:      "p1",
		Operation:     models.OpUpdate,
		BaseSyncToken: out.NewSyncToken,
		Payload:       map[string]any{"status": "completed"},
	}
	out = applyOne(t, e, intruder, steal)
	assert.Equal(t, models.ResultRejected, out.Result)
	assert.Contains(t, out.ErrorDetail, "forbidden")
}

func TestEngine_ReplayByAnotherCaller(t *testing.T) {
	e, _ := setupTestEngine(t)

	create := createCourse("c1", "Numeracy")
	out := applyOne(t, e, teacher, create)
	require.Equal(t, models.ResultApplied, out.Result)

	out = applyOne(t, e, admin, create.Clone())
	assert.Equal(t, models.ResultRejected, out.Result)
	assert.Contains(t, out.ErrorDetail, "duplicate_id")
}

func TestEngine_DeleteReturnsTombstoneToken(t *testing.T) {
	e, store := setupTestEngine(t)
	token := seedCourse(t, e, "c1")

	out := applyOne(t, e, teacher, deleteCourse("c1", token))
	require.Equal(t, models.ResultApplied, out.Result)

	entity, err := store.GetEntity(context.Background(), models.EntityKey{Type: models.EntityCourse, ID: "c1"})
	require.NoError(t, err)
	assert.True(t, entity.Deleted)
	assert.Equal(t, out.NewSyncToken, entity.SyncToken)
}

func TestEngine_BatchLevelErrors(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, models.Caller{}, batchOf(createCourse("c1", "x")))
	assert.ErrorIs(t, err, models.ErrUnauthenticated)

	_, err = e.Apply(ctx, teacher, batchOf())
	assert.ErrorIs(t, err, models.ErrBatchRejected)

	m := createCourse("c1", "x")
	_, err = e.Apply(ctx, teacher, batchOf(m, m.Clone()))
	assert.ErrorIs(t, err, models.ErrBatchRejected)
}

func TestEngine_ManyEntitiesConcurrently(t *testing.T) {
	e, _ := setupTestEngine(t)

	var mutations []*models.Mutation
	for i := 0; i < 40; i++ {
		mutations = append(mutations, createCourse(fmt.Sprintf("c%d", i), "course"))
	}

	outcomes, err := e.Apply(context.Background(), teacher, batchOf(mutations...))
	require.NoError(t, err)
	require.Len(t, outcomes, len(mutations))

	for i, out := range outcomes {
		assert.Equal(t, mutations[i].ID, out.MutationID)
		assert.Equal(t, models.ResultApplied, out.Result)
	}
	assert.Zero(t, e.locks.size())
}

// failingStore оборачивает хранилище и ломает запись журнала по требованию
type failingStore struct {
	storage.EntityStorage
	fail atomic.Bool
}

type failingTx struct {
	storage.EntityTx
	fail *atomic.Bool
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.EntityTx) error) error {
	return s.EntityStorage.WithinTx(ctx, func(ctx context.Context, tx storage.EntityTx) error {
		return fn(ctx, &failingTx{EntityTx: tx, fail: &s.fail})
	})
}

func (t *failingTx) RecordOutcome(ctx context.Context, entry *models.SyncLogEntry) error {
	if t.fail.Load() {
		return errors.New("disk full")
	}
	return t.EntityTx.RecordOutcome(ctx, entry)
}

func TestEngine_PersistenceFailureIsRetriable(t *testing.T) {
	_, inner := setupTestEngine(t)
	store := &failingStore{EntityStorage: inner}
	e := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), 2)

	create := createCourse("c1", "Numeracy")

	store.fail.Store(true)
	out := applyOne(t, e, teacher, create)
	assert.Equal(t, models.ResultServerError, out.Result)
	assert.Equal(t, "transient", out.ErrorDetail)

	// Транзакция откатилась: сущности нет, повтор с тем же id применяется
	_, err := inner.GetEntity(context.Background(), models.EntityKey{Type: models.EntityCourse, ID: "c1"})
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)

	store.fail.Store(false)
	out = applyOne(t, e, teacher, create.Clone())
	assert.Equal(t, models.ResultApplied, out.Result)
}

func TestEngine_CanceledContext(t *testing.T) {
	e, _ := setupTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := e.Apply(ctx, teacher, batchOf(createCourse("c1", "x")))
	require.NoError(t, err)
	assert.Equal(t, models.ResultServerError, outcomes[0].Result)
}

func TestEngine_StatusCoversLastBatch(t *testing.T) {
	ctx := context.Background()
	e, store := setupTestEngine(t)

	first := batchOf(createCourse("c1", "Numeracy"), createCourse("c2", "Literacy"))
	_, err := e.Apply(ctx, teacher, first)
	require.NoError(t, err)

	second := batchOf(createCourse("c3", "Science"), createCourse("c1", "Duplicate"))
	_, err = e.Apply(ctx, teacher, second)
	require.NoError(t, err)

	status, err := store.GetSyncStatus(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, status.BatchID)
	assert.Equal(t, 1, status.Applied)
	assert.Equal(t, 1, status.Rejected)
	require.NotNil(t, status.LastSyncAt)

	// повтор первого пакета отвечает из журнала и не создает новых записей
	_, err = e.Apply(ctx, teacher, first)
	require.NoError(t, err)

	status, err = store.GetSyncStatus(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, status.BatchID)
	assert.Equal(t, 1, status.Applied)
}
