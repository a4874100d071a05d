package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/validation"
)

const (
	// DefaultMaxAttempts попыток при server_error до перевода записи в failed
	DefaultMaxAttempts = 5
	// DefaultBackoffBase задержка перед первой повторной отправкой
	DefaultBackoffBase = time.Second
	// DefaultBackoffCap максимальная задержка между повторами
	DefaultBackoffCap = 5 * time.Minute

	// localRefPrefix отмечает base_sync_token, который станет известен только после
	// применения предыдущей мутации той же сущности
	localRefPrefix = "local:"
)

var (
	// ErrBatchMismatch outcomes do not belong to the persisted in-flight batch
	ErrBatchMismatch = errors.New("outcomes do not match the in-flight batch")

	// ErrNotResolvable only conflicted or failed records can be retried or discarded
	ErrNotResolvable = errors.New("mutation is not conflicted or failed")
)

// Store хранилище, с которым работает outbox
type Store interface {
	storage.OutboxStorage
	storage.SyncTokenStorage
	storage.MetadataStorage
}

// Config параметры повторов
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultConfig возвращает параметры повторов по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
	}
}

// Summary итог применения ответа сервера к outbox
type Summary struct {
	Applied   int // подтверждены и удалены из outbox
	Conflicts int // ждут решения пользователя
	Rejected  int // отклонены сервером, переведены в failed
	Retrying  int // server_error, вернулись в pending с backoff
	Failed    int // server_error сверх лимита попыток
}

// ServerErrors количество записей, завершившихся server_error
func (s *Summary) ServerErrors() int {
	return s.Retrying + s.Failed
}

// Service определяет интерфейс клиентского outbox
type Service interface {
	// Enqueue добавляет мутацию в конец очереди и возвращает сохраненную запись.
	// Пустой id генерируется; пустой base_sync_token для update/delete берется из кэша
	// токенов или из предыдущей мутации той же сущности.
	Enqueue(ctx context.Context, m *models.Mutation) (*models.Mutation, error)

	// Drain переводит до max готовых записей в in_flight и возвращает пакет.
	// Возвращает nil, если отправлять нечего, и ErrBatchInFlight, если предыдущий пакет не завершен.
	Drain(ctx context.Context, max int) (*models.Batch, error)

	// InFlight возвращает сохраненный незавершенный пакет или nil
	InFlight(ctx context.Context) (*models.Batch, error)

	// ResetInFlight возвращает записи незавершенного пакета в pending
	ResetInFlight(ctx context.Context) error

	// ApplyOutcomes применяет результаты сервера к записям пакета batchID
	ApplyOutcomes(ctx context.Context, batchID string, outcomes []models.Outcome) (*Summary, error)

	// List возвращает все записи outbox в порядке client_version
	List(ctx context.Context) ([]*models.Mutation, error)
	Pending(ctx context.Context) ([]*models.Mutation, error)
	Conflicts(ctx context.Context) ([]*models.Mutation, error)
	Failed(ctx context.Context) ([]*models.Mutation, error)

	// Discard удаляет конфликтную или failed запись после решения пользователя
	Discard(ctx context.Context, id string) error

	// Retry возвращает конфликтную или failed запись в pending со сброшенным счетчиком попыток.
	// Конфликтная запись перебазируется на токен из server_state (локальное изменение побеждает).
	Retry(ctx context.Context, id string) (*models.Mutation, error)

	// TokenFor возвращает закэшированный sync_token сущности
	TokenFor(ctx context.Context, key models.EntityKey) (string, error)
}

// service implements Service on top of a durable Store.
// Все изменяющие операции сериализованы mu.
type service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	cfg    Config
	mu     sync.Mutex
}

// NewService creates a new outbox service
func NewService(store Store, cfg Config, logger *slog.Logger) Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}

	return &service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *service) Enqueue(ctx context.Context, m *models.Mutation) (*models.Mutation, error) {
	if m == nil {
		return nil, models.Validationf("mutation is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := m.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	rec.Status = models.StatusPending
	rec.Attempts = 0
	rec.NextAttemptAt = time.Time{}
	rec.ServerState = nil
	rec.LastResult = ""
	rec.LastError = ""

	if rec.Operation != models.OpCreate && rec.BaseSyncToken == "" {
		base, err := s.baseFor(ctx, rec.EntityKey())
		if err != nil {
			return nil, err
		}
		rec.BaseSyncToken = base
	}

	if err := validation.ValidateMutation(rec); err != nil {
		return nil, err
	}

	if err := s.store.AppendMutation(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrMutationExists) {
			return nil, models.NewError(models.KindDuplicateID, rec.ID, err)
		}
		return nil, fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	s.logger.DebugContext(ctx, "mutation enqueued",
		slog.String("mutation_id", rec.ID),
		slog.String("entity", rec.EntityKey().String()),
		slog.String("operation", string(rec.Operation)),
		slog.Int64("client_version", rec.ClientVersion))

	return rec, nil
}

// baseFor выбирает base_sync_token для update/delete, если автор его не указал
func (s *service) baseFor(ctx context.Context, key models.EntityKey) (string, error) {
	records, err := s.store.ListMutations(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list outbox: %w", err)
	}

	// Последняя неподтвержденная мутация сущности определяет базу новой
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].EntityKey() == key {
			return localRef(records[i].ID), nil
		}
	}

	token, err := s.store.GetSyncToken(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrSyncTokenNotFound) {
			return "", models.Validationf("no sync token known for %s", key)
		}
		return "", fmt.Errorf("failed to read sync token: %w", err)
	}
	return token, nil
}

func (s *service) Drain(ctx context.Context, max int) (*models.Batch, error) {
	if max <= 0 {
		return nil, fmt.Errorf("drain size must be positive, got %d", max)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inFlight, err := s.store.GetInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read in-flight batch: %w", err)
	}
	if inFlight != nil {
		return nil, models.NewError(models.KindBatchInFlight, inFlight.ID, nil)
	}

	records, err := s.store.ListMutations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}

	now := s.now()
	// Если запись сущности пропущена, более поздние записи той же сущности тоже ждут
	blocked := make(map[models.EntityKey]bool)
	selected := make([]*models.Mutation, 0, min(max, len(records)))

	for _, rec := range records {
		if len(selected) == max {
			break
		}
		key := rec.EntityKey()
		if blocked[key] {
			continue
		}
		if !ready(rec, now) {
			blocked[key] = true
			continue
		}
		selected = append(selected, rec)
	}

	if len(selected) == 0 {
		return nil, nil
	}

	watermark, err := s.store.GetLastSyncAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}

	pointer := &storage.InFlightBatch{
		ID:              uuid.New().String(),
		ClientWatermark: watermark,
		CreatedAt:       now.UTC(),
		MutationIDs:     make([]string, 0, len(selected)),
	}
	for _, rec := range selected {
		rec.Status = models.StatusInFlight
		pointer.MutationIDs = append(pointer.MutationIDs, rec.ID)
	}

	if err := s.store.SaveBatch(ctx, pointer, selected); err != nil {
		return nil, fmt.Errorf("failed to save in-flight batch: %w", err)
	}

	s.logger.InfoContext(ctx, "outbox drained",
		slog.String("batch_id", pointer.ID),
		slog.Int("mutations", len(selected)),
		slog.Int("queued", len(records)))

	return toBatch(pointer, selected), nil
}

func (s *service) InFlight(ctx context.Context) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointer, records, err := s.loadInFlight(ctx)
	if err != nil || pointer == nil {
		return nil, err
	}
	return toBatch(pointer, records), nil
}

func (s *service) ResetInFlight(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointer, records, err := s.loadInFlight(ctx)
	if err != nil || pointer == nil {
		return err
	}

	for _, rec := range records {
		rec.Status = models.StatusPending
	}

	if err := s.store.ApplyChange(ctx, &storage.OutboxChange{Updated: records, ClearInFlight: true}); err != nil {
		return fmt.Errorf("failed to reset in-flight batch: %w", err)
	}

	s.logger.InfoContext(ctx, "in-flight batch reset", slog.String("batch_id", pointer.ID), slog.Int("mutations", len(records)))
	return nil
}

func (s *service) ApplyOutcomes(ctx context.Context, batchID string, outcomes []models.Outcome) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointer, err := s.store.GetInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read in-flight batch: %w", err)
	}
	if pointer == nil || pointer.ID != batchID {
		return nil, ErrBatchMismatch
	}

	records, err := s.store.ListMutations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	index := make(map[string]*models.Mutation, len(records))
	for _, rec := range records {
		index[rec.ID] = rec
	}

	byID := make(map[string]models.Outcome, len(outcomes))
	for _, out := range outcomes {
		byID[out.MutationID] = out
	}

	now := s.now()
	summary := &Summary{}
	change := &storage.OutboxChange{
		Tokens:        make(map[models.EntityKey]string),
		ClearInFlight: true,
	}
	updated := make(map[string]*models.Mutation)

	for _, id := range pointer.MutationIDs {
		rec, ok := index[id]
		if !ok {
			continue
		}

		out, ok := byID[id]
		if !ok {
			out = models.Outcome{MutationID: id, Result: models.ResultServerError, ErrorDetail: "missing outcome"}
		}

		key := rec.EntityKey()
		rec.LastResult = out.Result

		switch out.Result {
		case models.ResultApplied:
			summary.Applied++
			change.Removed = append(change.Removed, id)
			if rec.Operation == models.OpDelete {
				change.Tokens[key] = ""
			} else {
				change.Tokens[key] = out.NewSyncToken
			}
			s.rebase(index, id, out.NewSyncToken, updated)
			continue

		case models.ResultConflict:
			summary.Conflicts++
			rec.Status = models.StatusConflicted
			rec.ServerState = out.ServerState
			rec.LastError = string(models.ResultConflict)
			if token, ok := out.ServerState["sync_token"].(string); ok && token != "" {
				change.Tokens[key] = token
			}

		case models.ResultRejected:
			summary.Rejected++
			rec.Status = models.StatusFailed
			rec.LastError = out.ErrorDetail

		default:
			rec.LastResult = models.ResultServerError
			rec.Attempts++
			rec.LastError = out.ErrorDetail
			if rec.Attempts >= s.cfg.MaxAttempts {
				summary.Failed++
				rec.Status = models.StatusFailed
			} else {
				summary.Retrying++
				rec.Status = models.StatusPending
				rec.NextAttemptAt = now.Add(s.backoff(rec.Attempts)).UTC()
			}
		}

		updated[id] = rec
	}

	for _, rec := range updated {
		change.Updated = append(change.Updated, rec)
	}

	if err := s.store.ApplyChange(ctx, change); err != nil {
		return nil, fmt.Errorf("failed to apply outcomes: %w", err)
	}

	s.logger.InfoContext(ctx, "outcomes applied",
		slog.String("batch_id", batchID),
		slog.Int("applied", summary.Applied),
		slog.Int("conflicts", summary.Conflicts),
		slog.Int("rejected", summary.Rejected),
		slog.Int("retrying", summary.Retrying),
		slog.Int("failed", summary.Failed))

	return summary, nil
}

func (s *service) List(ctx context.Context) ([]*models.Mutation, error) {
	records, err := s.store.ListMutations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	return records, nil
}

func (s *service) Pending(ctx context.Context) ([]*models.Mutation, error) {
	return s.byStatus(ctx, models.StatusPending)
}

func (s *service) Conflicts(ctx context.Context) ([]*models.Mutation, error) {
	return s.byStatus(ctx, models.StatusConflicted)
}

func (s *service) Failed(ctx context.Context) ([]*models.Mutation, error) {
	return s.byStatus(ctx, models.StatusFailed)
}

func (s *service) byStatus(ctx context.Context, status models.MutationStatus) ([]*models.Mutation, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := records[:0]
	for _, rec := range records {
		if rec.Status == status {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (s *service) Discard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, index, err := s.resolvable(ctx, id)
	if err != nil {
		return err
	}

	// Зависимые мутации возвращаются на базу отброшенной: сервер сам решит, есть ли конфликт
	updated := make(map[string]*models.Mutation)
	if rec.BaseSyncToken != "" {
		s.rebase(index, id, rec.BaseSyncToken, updated)
	} else {
		s.orphan(index, id, updated)
	}

	change := &storage.OutboxChange{Removed: []string{id}}
	for _, dep := range updated {
		change.Updated = append(change.Updated, dep)
	}

	if err := s.store.ApplyChange(ctx, change); err != nil {
		return fmt.Errorf("failed to discard mutation: %w", err)
	}

	s.logger.InfoContext(ctx, "mutation discarded", slog.String("mutation_id", id), slog.Int("dependents", len(updated)))
	return nil
}

func (s *service) Retry(ctx context.Context, id string) (*models.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, index, err := s.resolvable(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.Status == models.StatusConflicted {
		if token, ok := rec.ServerState["sync_token"].(string); ok && token != "" {
			rec.BaseSyncToken = token
		}
	}
	// Предшественник отброшен: база берется из кэша токенов
	if isLocalRef(rec.BaseSyncToken) {
		if _, ok := index[strings.TrimPrefix(rec.BaseSyncToken, localRefPrefix)]; !ok {
			token, err := s.store.GetSyncToken(ctx, rec.EntityKey())
			if err != nil {
				return nil, fmt.Errorf("no base sync token for %s: %w", id, err)
			}
			rec.BaseSyncToken = token
		}
	}

	change := &storage.OutboxChange{}
	// Сервер запомнил результат для этого id, поэтому повтор идет под новым id.
	// Записи, не дошедшие до журнала сервера (server_error), сохраняют id.
	if rec.LastResult != models.ResultServerError {
		newID := uuid.New().String()
		updated := make(map[string]*models.Mutation)
		for _, dep := range index {
			if dep.BaseSyncToken == localRef(id) {
				dep.BaseSyncToken = localRef(newID)
				updated[dep.ID] = dep
			}
		}
		for _, dep := range updated {
			change.Updated = append(change.Updated, dep)
		}
		rec.ID = newID
		change.Replaced = map[string]*models.Mutation{id: rec}
	} else {
		change.Updated = []*models.Mutation{rec}
	}

	rec.Status = models.StatusPending
	rec.Attempts = 0
	rec.NextAttemptAt = time.Time{}
	rec.ServerState = nil
	rec.LastResult = ""
	rec.LastError = ""

	if err := s.store.ApplyChange(ctx, change); err != nil {
		return nil, fmt.Errorf("failed to retry mutation: %w", err)
	}

	s.logger.InfoContext(ctx, "mutation queued for retry", slog.String("old_id", id), slog.String("mutation_id", rec.ID))
	return rec, nil
}

func (s *service) TokenFor(ctx context.Context, key models.EntityKey) (string, error) {
	return s.store.GetSyncToken(ctx, key)
}

// resolvable загружает запись, которую можно отбросить или повторить, и индекс outbox
func (s *service) resolvable(ctx context.Context, id string) (*models.Mutation, map[string]*models.Mutation, error) {
	records, err := s.store.ListMutations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list outbox: %w", err)
	}

	index := make(map[string]*models.Mutation, len(records))
	for _, rec := range records {
		index[rec.ID] = rec
	}

	rec, ok := index[id]
	if !ok {
		return nil, nil, storage.ErrMutationNotFound
	}
	if rec.Status != models.StatusConflicted && rec.Status != models.StatusFailed {
		return nil, nil, fmt.Errorf("%s is %s: %w", id, rec.Status, ErrNotResolvable)
	}
	return rec, index, nil
}

func (s *service) loadInFlight(ctx context.Context) (*storage.InFlightBatch, []*models.Mutation, error) {
	pointer, err := s.store.GetInFlight(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read in-flight batch: %w", err)
	}
	if pointer == nil {
		return nil, nil, nil
	}

	records := make([]*models.Mutation, 0, len(pointer.MutationIDs))
	for _, id := range pointer.MutationIDs {
		rec, err := s.store.GetMutation(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load in-flight mutation %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return pointer, records, nil
}

// rebase подставляет token вместо ссылки на мутацию predecessorID
func (s *service) rebase(index map[string]*models.Mutation, predecessorID, token string, updated map[string]*models.Mutation) {
	ref := localRef(predecessorID)
	for _, rec := range index {
		if rec.BaseSyncToken == ref {
			rec.BaseSyncToken = token
			updated[rec.ID] = rec
		}
	}
}

// orphan помечает failed мутации, построенные на отброшенном create
func (s *service) orphan(index map[string]*models.Mutation, predecessorID string, updated map[string]*models.Mutation) {
	ref := localRef(predecessorID)
	for _, rec := range index {
		if rec.BaseSyncToken == ref {
			rec.Status = models.StatusFailed
			rec.LastError = "depends on discarded mutation " + predecessorID
			updated[rec.ID] = rec
		}
	}
}

// backoff задержка перед попыткой номер attempt (считая с 1)
func (s *service) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(s.cfg.BackoffCap, retry.NewExponential(s.cfg.BackoffBase))

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay, _ = b.Next()
	}
	return delay
}

func ready(rec *models.Mutation, now time.Time) bool {
	return rec.Status == models.StatusPending &&
		!rec.NextAttemptAt.After(now) &&
		!isLocalRef(rec.BaseSyncToken)
}

func localRef(mutationID string) string {
	return localRefPrefix + mutationID
}

func isLocalRef(token string) bool {
	return strings.HasPrefix(token, localRefPrefix)
}

func toBatch(pointer *storage.InFlightBatch, records []*models.Mutation) *models.Batch {
	batch := &models.Batch{
		ID:              pointer.ID,
		ClientWatermark: pointer.ClientWatermark,
		Mutations:       make([]*models.Mutation, 0, len(records)),
	}
	for _, rec := range records {
		batch.Mutations = append(batch.Mutations, rec.Clone())
	}
	return batch
}
