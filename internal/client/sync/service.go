package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/iudanet/learnsync/internal/client/outbox"
	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/pkg/api"
)

//go:generate moq -out transport_mock.go . Transport Session

// DefaultBatchSize максимальное число мутаций в одном запросе по умолчанию
const DefaultBatchSize = 100

// Transport отправляет пакет на сервер
type Transport interface {
	Sync(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error)
}

// Session источник учетных данных для запросов
type Session interface {
	// Session возвращает текущую сессию или ошибку вида unauthenticated
	Session(ctx context.Context) (*storage.AuthData, error)
	// Refresh обновляет access token по refresh token
	Refresh(ctx context.Context) (*storage.AuthData, error)
}

// Service выполняет один цикл синхронизации outbox с сервером
type Service interface {
	// Sync отправляет незавершенный пакет, если он есть, иначе формирует новый из outbox.
	// Возвращает отчет с пустым BatchID, если отправлять нечего.
	Sync(ctx context.Context) (*Report, error)
}

type service struct {
	transport Transport
	session   Session
	outbox    outbox.Service
	reporter  *Reporter
	logger    *slog.Logger
	batchSize int
	mu        gosync.Mutex
}

// NewService creates a new sync service
func NewService(transport Transport, session Session, ob outbox.Service, reporter *Reporter, batchSize int, logger *slog.Logger) Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &service{
		transport: transport,
		session:   session,
		outbox:    ob,
		reporter:  reporter,
		logger:    logger,
		batchSize: batchSize,
	}
}

func (s *service) Sync(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := s.outbox.InFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read in-flight batch: %w", err)
	}
	resubmitted := batch != nil
	if batch == nil {
		batch, err = s.outbox.Drain(ctx, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to drain outbox: %w", err)
		}
		if batch == nil {
			s.logger.DebugContext(ctx, "nothing to sync")
			return &Report{}, nil
		}
	}

	s.logger.InfoContext(ctx, "sending batch",
		slog.String("batch_id", batch.ID),
		slog.Int("mutations", len(batch.Mutations)),
		slog.Bool("resubmitted", resubmitted))

	resp, err := s.send(ctx, session, toRequest(batch))

	var (
		outcomes   []models.Outcome
		serverTime time.Time
	)
	switch {
	case err == nil:
		if mismatch := checkResponse(batch, resp); mismatch != "" {
			s.logger.WarnContext(ctx, "malformed sync response",
				slog.String("batch_id", batch.ID),
				slog.String("reason", mismatch))
			outcomes = serverErrors(batch, "malformed response: "+mismatch)
		} else {
			outcomes = make([]models.Outcome, 0, len(resp.Outcomes))
			for _, o := range resp.Outcomes {
				outcomes = append(outcomes, models.OutcomeFromAPI(o))
			}
			serverTime = resp.ServerTime
		}

	case errors.Is(err, context.Canceled):
		// пакет остается in_flight и будет отправлен повторно с тем же batch_id
		s.logger.WarnContext(ctx, "sync canceled, batch left in flight", slog.String("batch_id", batch.ID))
		return nil, fmt.Errorf("sync canceled: %w", err)

	case models.KindOf(err) == models.KindTransient:
		s.logger.WarnContext(ctx, "sync transport failed",
			slog.String("batch_id", batch.ID),
			slog.Any("error", err))
		outcomes = serverErrors(batch, err.Error())

	default:
		// unauthenticated, batch_rejected и прочие ошибки уровня пакета
		if resetErr := s.outbox.ResetInFlight(ctx); resetErr != nil {
			return nil, errors.Join(err, resetErr)
		}
		s.logger.WarnContext(ctx, "batch not accepted, returned to pending",
			slog.String("batch_id", batch.ID),
			slog.Any("error", err))
		return nil, err
	}

	report, err := s.reporter.Report(ctx, batch.ID, outcomes, serverTime)
	if err != nil {
		return nil, err
	}
	report.Submitted = len(batch.Mutations)
	report.Resubmitted = resubmitted
	return report, nil
}

// send выполняет запрос; при 401 обновляет токен и повторяет запрос один раз
func (s *service) send(ctx context.Context, session *storage.AuthData, req api.SyncRequest) (*api.SyncResponse, error) {
	resp, err := s.transport.Sync(ctx, session.AccessToken, req)
	if err == nil || models.KindOf(err) != models.KindUnauthenticated {
		return resp, err
	}

	refreshed, refreshErr := s.session.Refresh(ctx)
	if refreshErr != nil {
		if errors.Is(refreshErr, context.Canceled) {
			return nil, refreshErr
		}
		s.logger.WarnContext(ctx, "token refresh failed", slog.Any("error", refreshErr))
		return nil, models.NewError(models.KindUnauthenticated, "session expired, login again", refreshErr)
	}

	return s.transport.Sync(ctx, refreshed.AccessToken, req)
}

func toRequest(batch *models.Batch) api.SyncRequest {
	req := api.SyncRequest{
		BatchID:         batch.ID,
		ClientWatermark: batch.ClientWatermark,
		Mutations:       make([]api.Mutation, 0, len(batch.Mutations)),
	}
	for _, m := range batch.Mutations {
		req.Mutations = append(req.Mutations, m.ToAPI())
	}
	return req
}

// checkResponse возвращает причину, по которой ответ нельзя сопоставить с пакетом, или ""
func checkResponse(batch *models.Batch, resp *api.SyncResponse) string {
	if resp == nil {
		return "empty response"
	}
	if resp.BatchID != "" && resp.BatchID != batch.ID {
		return fmt.Sprintf("batch id %q does not match %q", resp.BatchID, batch.ID)
	}
	if len(resp.Outcomes) != len(batch.Mutations) {
		return fmt.Sprintf("got %d outcomes for %d mutations", len(resp.Outcomes), len(batch.Mutations))
	}
	for i, o := range resp.Outcomes {
		if o.MutationID != batch.Mutations[i].ID {
			return fmt.Sprintf("outcome %d is for %q, expected %q", i, o.MutationID, batch.Mutations[i].ID)
		}
		switch models.Result(o.Result) {
		case models.ResultApplied, models.ResultConflict, models.ResultRejected, models.ResultServerError:
		default:
			return fmt.Sprintf("unknown result %q", o.Result)
		}
	}
	return ""
}

func serverErrors(batch *models.Batch, detail string) []models.Outcome {
	outcomes := make([]models.Outcome, 0, len(batch.Mutations))
	for _, m := range batch.Mutations {
		outcomes = append(outcomes, models.Outcome{
			MutationID:  m.ID,
			Result:      models.ResultServerError,
			ErrorDetail: detail,
		})
	}
	return outcomes
}
