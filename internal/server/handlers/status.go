package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/learnsync/internal/server/storage"
	"github.com/iudanet/learnsync/pkg/api"
)

// StatusHandler отдает сводку по синхронизациям вызывающего
type StatusHandler struct {
	logger  *slog.Logger
	syncLog storage.SyncLogStorage
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(logger *slog.Logger, syncLog storage.SyncLogStorage) *StatusHandler {
	return &StatusHandler{
		logger:  logger,
		syncLog: syncLog,
	}
}

// HandleStatus обрабатывает GET /api/v1/sync/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, ok := CallerFrom(ctx)
	if !ok {
		sendError(w, h.logger, "unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.syncLog.GetSyncStatus(ctx, caller.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get sync status", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, h.logger, api.SyncStatusResponse{
		LastSyncAt: status.LastSyncAt,
		ServerTime: time.Now().UTC(),
		BatchID:    status.BatchID,
		Applied:    status.Applied,
		Conflicts:  status.Conflicts,
		Rejected:   status.Rejected,
	}, http.StatusOK)
}
