package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/internal/validation"
	"github.com/iudanet/learnsync/pkg/api"
)

// DefaultMaxBatchSize максимальное число мутаций в одном пакете
const DefaultMaxBatchSize = 500

// maxBodyBytes ограничение тела запроса синхронизации
const maxBodyBytes = 8 << 20

// BatchApplier применяет пакет мутаций (реализуется engine.Engine)
type BatchApplier interface {
	Apply(ctx context.Context, caller models.Caller, batch *models.Batch) ([]models.Outcome, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger       *slog.Logger
	applier      BatchApplier
	maxBatchSize int
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, applier BatchApplier, maxBatchSize int) *SyncHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &SyncHandler{
		logger:       logger,
		applier:      applier,
		maxBatchSize: maxBatchSize,
	}
}

// HandleSync обрабатывает POST /api/v1/sync
// Ошибки уровня пакета возвращаются HTTP-статусом, ошибки отдельных мутаций - в outcomes со статусом 200
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, ok := CallerFrom(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, h.logger, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.WarnContext(ctx, "failed to decode sync request", slog.Any("error", err))
		sendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.Struct(req); err != nil {
		sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Mutations) > h.maxBatchSize {
		sendError(w, h.logger, fmt.Sprintf("batch exceeds %d mutations", h.maxBatchSize), http.StatusRequestEntityTooLarge)
		return
	}

	batch := &models.Batch{
		ClientWatermark: req.ClientWatermark,
		ID:              req.BatchID,
		Mutations:       make([]*models.Mutation, 0, len(req.Mutations)),
	}
	for _, m := range req.Mutations {
		batch.Mutations = append(batch.Mutations, models.MutationFromAPI(m))
	}

	outcomes, err := h.applier.Apply(ctx, caller, batch)
	if err != nil {
		switch models.KindOf(err) {
		case models.KindBatchRejected:
			sendError(w, h.logger, err.Error(), http.StatusBadRequest)
		case models.KindUnauthenticated:
			sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		default:
			h.logger.ErrorContext(ctx, "failed to apply batch", slog.Any("error", err))
			sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	resp := api.SyncResponse{
		// Все результаты уже зафиксированы к этому моменту
		ServerTime: time.Now().UTC(),
		BatchID:    batch.ID,
		Outcomes:   make([]api.SyncOutcome, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		resp.Outcomes = append(resp.Outcomes, o.ToAPI())
	}

	sendJSON(w, h.logger, resp, http.StatusOK)
}
