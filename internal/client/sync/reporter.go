package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/learnsync/internal/client/outbox"
	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/models"
)

// Report итог одного цикла синхронизации
type Report struct {
	Watermark time.Time // watermark после цикла
	BatchID   string    // пусто, если отправлять было нечего
	outbox.Summary
	Submitted         int
	Resubmitted       bool // отправлен сохраненный незавершенный пакет
	WatermarkAdvanced bool
}

// Reporter применяет результаты сервера к outbox и продвигает watermark
type Reporter struct {
	outbox   outbox.Service
	metadata storage.MetadataStorage
	logger   *slog.Logger
}

// NewReporter creates a new outcome reporter
func NewReporter(ob outbox.Service, metadata storage.MetadataStorage, logger *slog.Logger) *Reporter {
	return &Reporter{
		outbox:   ob,
		metadata: metadata,
		logger:   logger,
	}
}

// Report применяет outcomes пакета batchID.
// Watermark продвигается до serverTime, только если ни одна запись не завершилась server_error.
// Нулевой serverTime означает, что ответа сервера не было.
func (r *Reporter) Report(ctx context.Context, batchID string, outcomes []models.Outcome, serverTime time.Time) (*Report, error) {
	summary, err := r.outbox.ApplyOutcomes(ctx, batchID, outcomes)
	if err != nil {
		return nil, fmt.Errorf("failed to apply outcomes: %w", err)
	}

	previous, err := r.metadata.GetLastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		BatchID:   batchID,
		Summary:   *summary,
		Watermark: previous,
	}

	if summary.ServerErrors() == 0 && !serverTime.IsZero() {
		if err := r.metadata.SaveLastSyncAt(ctx, serverTime); err != nil {
			return nil, fmt.Errorf("failed to save watermark: %w", err)
		}
		if serverTime.After(previous) {
			report.Watermark = serverTime
			report.WatermarkAdvanced = true
		}
	}

	r.logger.InfoContext(ctx, "sync batch reported",
		slog.String("batch_id", batchID),
		slog.Int("applied", summary.Applied),
		slog.Int("conflicts", summary.Conflicts),
		slog.Int("rejected", summary.Rejected),
		slog.Int("retrying", summary.Retrying),
		slog.Int("failed", summary.Failed),
		slog.Bool("watermark_advanced", report.WatermarkAdvanced))

	return report, nil
}
