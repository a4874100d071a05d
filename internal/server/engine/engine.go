package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/server/storage"
	"github.com/iudanet/learnsync/internal/validation"
)

// DefaultWorkers число сущностей, обрабатываемых параллельно
const DefaultWorkers = 8

// Engine применяет пакеты мутаций к авторитетному хранилищу.
// Мутации одной сущности применяются строго в порядке отправки,
// независимые сущности обрабатываются параллельно.
type Engine struct {
	store    storage.EntityStorage
	locks    *entityLocks
	logger   *slog.Logger
	now      func() time.Time
	newToken func() string
	workers  int
}

// New создает движок; workers <= 0 означает DefaultWorkers
func New(store storage.EntityStorage, logger *slog.Logger, workers int) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		store:    store,
		locks:    newEntityLocks(),
		logger:   logger,
		now:      time.Now,
		newToken: uuid.NewString,
		workers:  workers,
	}
}

// Apply обрабатывает пакет и возвращает результаты в порядке мутаций пакета.
// Ошибка возвращается только для ошибок уровня пакета, до обработки первой записи.
func (e *Engine) Apply(ctx context.Context, caller models.Caller, batch *models.Batch) ([]models.Outcome, error) {
	if caller.ID == "" || !caller.Role.Valid() {
		return nil, models.NewError(models.KindUnauthenticated, "caller identity is required", nil)
	}
	if batch == nil || len(batch.Mutations) == 0 {
		return nil, models.NewError(models.KindBatchRejected, "batch has no mutations", nil)
	}

	seen := make(map[string]struct{}, len(batch.Mutations))
	for _, m := range batch.Mutations {
		if m == nil {
			return nil, models.NewError(models.KindBatchRejected, "batch contains an empty mutation", nil)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, models.NewError(models.KindBatchRejected, fmt.Sprintf("mutation id %s repeats within batch", m.ID), nil)
		}
		seen[m.ID] = struct{}{}
	}

	started := e.now()
	outcomes := make([]models.Outcome, len(batch.Mutations))

	// Группируем позиции по сущности, сохраняя порядок отправки внутри группы
	var order []models.EntityKey
	groups := make(map[models.EntityKey][]int)
	for i, m := range batch.Mutations {
		key := m.EntityKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	for _, key := range order {
		positions := groups[key]
		g.Go(func() error {
			for _, i := range positions {
				outcomes[i] = e.applyOne(ctx, caller, batch.ID, batch.Mutations[i])
			}
			return nil
		})
	}

	// Горутины не возвращают ошибок: каждая запись получает свой результат
	_ = g.Wait()

	e.logger.Info("sync batch applied",
		"batch_id", batch.ID,
		"user_id", caller.ID,
		"mutations", len(batch.Mutations),
		"entities", len(order),
		"duration", time.Since(started),
	)

	return outcomes, nil
}

// applyOne проводит одну мутацию через проверки и запись под блокировкой сущности
func (e *Engine) applyOne(ctx context.Context, caller models.Caller, batchID string, m *models.Mutation) models.Outcome {
	log := e.logger.With("mutation_id", m.ID, "entity", m.EntityKey().String(), "operation", m.Operation)

	// Проверка идет до журнала: некорректная запись с уже использованным id получает validation, а не сохраненный итог
	if err := validation.ValidateMutation(m); err != nil {
		log.Debug("mutation rejected", "error", err)
		return rejected(m.ID, err)
	}

	if err := ctx.Err(); err != nil {
		log.Warn("mutation skipped", "error", err)
		return serverError(m.ID)
	}

	unlock := e.locks.Lock(m.EntityKey())
	defer unlock()

	var outcome models.Outcome
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.EntityTx) error {
		var err error
		outcome, err = e.reconcile(ctx, tx, caller, batchID, m)
		return err
	})
	if err != nil {
		log.Error("failed to apply mutation", "error", err)
		return serverError(m.ID)
	}

	log.Debug("mutation processed", "result", outcome.Result, "detail", outcome.ErrorDetail)
	return outcome
}

// reconcile выполняет шаги идемпотентности, проверки и применения внутри транзакции.
// Возвращаемая ошибка означает сбой хранилища: транзакция откатывается, запись не журналируется.
func (e *Engine) reconcile(ctx context.Context, tx storage.EntityTx, caller models.Caller, batchID string, m *models.Mutation) (models.Outcome, error) {
	logged, err := tx.LookupOutcome(ctx, m.ID)
	switch {
	case err == nil:
		if logged.UserID != caller.ID || logged.EntityType != m.EntityType ||
			logged.EntityID != m.EntityID || logged.Operation != m.Operation {
			return rejected(m.ID, models.NewError(models.KindDuplicateID, "mutation id was already used", nil)), nil
		}
		return logged.Outcome, nil
	case !errors.Is(err, storage.ErrOutcomeNotFound):
		return models.Outcome{}, err
	}

	current, err := tx.GetEntity(ctx, m.EntityKey())
	if err != nil && !errors.Is(err, storage.ErrEntityNotFound) {
		return models.Outcome{}, err
	}

	var live *models.Entity
	if current != nil && !current.Deleted {
		live = current
	}

	outcome, err := e.decide(ctx, tx, caller, m, current, live)
	if err != nil {
		return models.Outcome{}, err
	}

	err = tx.RecordOutcome(ctx, &models.SyncLogEntry{
		MutationID: m.ID,
		BatchID:    batchID,
		UserID:     caller.ID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Operation:  m.Operation,
		Outcome:    outcome,
		CreatedAt:  e.now(),
	})
	if err != nil {
		return models.Outcome{}, err
	}

	return outcome, nil
}

// decide проверяет права, существование и токен, затем применяет мутацию
func (e *Engine) decide(ctx context.Context, tx storage.EntityTx, caller models.Caller, m *models.Mutation, current, live *models.Entity) (models.Outcome, error) {
	if err := authorize(caller, m, live); err != nil {
		return rejected(m.ID, err), nil
	}

	if m.Operation == models.OpCreate {
		if current != nil {
			return rejected(m.ID, models.NewError(models.KindAlreadyExists, "", nil)), nil
		}
		return e.create(ctx, tx, m)
	}

	if live == nil {
		return rejected(m.ID, models.NewError(models.KindNotFound, "", nil)), nil
	}
	if live.SyncToken != m.BaseSyncToken {
		return conflict(m.ID, live), nil
	}

	next := &models.Entity{
		Type:      m.EntityType,
		ID:        m.EntityID,
		SyncToken: e.newToken(),
		UpdatedAt: e.now(),
	}

	var err error
	if m.Operation == models.OpUpdate {
		next.Fields = live.Merge(m.Payload)
		err = tx.UpdateEntity(ctx, next, m.BaseSyncToken)
	} else {
		err = tx.DeleteEntity(ctx, next, m.BaseSyncToken)
	}
	if err != nil {
		return models.Outcome{}, fmt.Errorf("failed to %s %s: %w", m.Operation, m.EntityKey(), err)
	}

	return applied(m.ID, next.SyncToken), nil
}

func (e *Engine) create(ctx context.Context, tx storage.EntityTx, m *models.Mutation) (models.Outcome, error) {
	entity := &models.Entity{
		Type:      m.EntityType,
		ID:        m.EntityID,
		Fields:    m.Payload,
		SyncToken: e.newToken(),
		UpdatedAt: e.now(),
	}
	if err := tx.InsertEntity(ctx, entity); err != nil {
		return models.Outcome{}, fmt.Errorf("failed to create %s: %w", m.EntityKey(), err)
	}
	return applied(m.ID, entity.SyncToken), nil
}

func applied(mutationID, token string) models.Outcome {
	return models.Outcome{MutationID: mutationID, Result: models.ResultApplied, NewSyncToken: token}
}

func conflict(mutationID string, current *models.Entity) models.Outcome {
	return models.Outcome{MutationID: mutationID, Result: models.ResultConflict, ServerState: current.State()}
}

func rejected(mutationID string, err error) models.Outcome {
	return models.Outcome{MutationID: mutationID, Result: models.ResultRejected, ErrorDetail: errorDetail(err)}
}

func serverError(mutationID string) models.Outcome {
	return models.Outcome{MutationID: mutationID, Result: models.ResultServerError, ErrorDetail: models.KindTransient.String()}
}

// errorDetail возвращает "kind" или "kind: detail" без внутренних причин
func errorDetail(err error) string {
	var se *models.SyncError
	if !errors.As(err, &se) {
		return models.KindUnknown.String()
	}
	if se.Detail == "" {
		return se.Kind.String()
	}
	return se.Kind.String() + ": " + se.Detail
}
