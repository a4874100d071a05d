package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/learnsync/internal/client/outbox"
	"github.com/iudanet/learnsync/internal/client/storage"
	"github.com/iudanet/learnsync/internal/client/storage/boltdb"
	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/pkg/api"
)

var serverTime = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

type syncFunc func(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error)

type fixture struct {
	svc       Service
	reporter  *Reporter
	outbox    outbox.Service
	store     *boltdb.Storage
	transport *TransportMock
	session   *SessionMock
}

func setup(t *testing.T, fn syncFunc) *fixture {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ob := outbox.NewService(store, outbox.DefaultConfig(), logger)

	transport := &TransportMock{SyncFunc: fn}
	session := &SessionMock{
		SessionFunc: func(ctx context.Context) (*storage.AuthData, error) {
			return &storage.AuthData{Username: "alice", AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
		},
		RefreshFunc: func(ctx context.Context) (*storage.AuthData, error) {
			return &storage.AuthData{Username: "alice", AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
		},
	}

	reporter := NewReporter(ob, store, logger)
	return &fixture{
		svc:       NewService(transport, session, ob, reporter, 10, logger),
		reporter:  reporter,
		outbox:    ob,
		store:     store,
		transport: transport,
		session:   session,
	}
}

func (f *fixture) enqueueCourse(t *testing.T, entityID string) *models.Mutation {
	t.Helper()
	rec, err := f.outbox.Enqueue(context.Background(), &models.Mutation{
		EntityType: models.EntityCourse,
		EntityID:   entityID,
		Operation:  models.OpCreate,
		Payload:    map[string]any{"title": "Course " + entityID},
	})
	require.NoError(t, err)
	return rec
}

// respond отвечает одинаковым результатом на каждую мутацию пакета
func respond(result models.Result) syncFunc {
	return func(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
		resp := &api.SyncResponse{BatchID: req.BatchID, ServerTime: serverTime}
		for _, m := range req.Mutations {
			o := api.SyncOutcome{MutationID: m.ID, Result: string(result)}
			switch result {
			case models.ResultApplied:
				o.NewSyncToken = "tok-" + m.EntityID
			case models.ResultConflict:
				o.ServerState = map[string]any{"sync_token": "srv-" + m.EntityID, "title": "server title"}
			case models.ResultRejected, models.ResultServerError:
				o.ErrorDetail = "boom"
			}
			resp.Outcomes = append(resp.Outcomes, o)
		}
		return resp, nil
	}
}

func failWith(err error) syncFunc {
	return func(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
		return nil, err
	}
}

func TestSync_NothingToSync(t *testing.T) {
	f := setup(t, respond(models.ResultApplied))

	report, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.BatchID)
	assert.Empty(t, f.transport.SyncCalls())
}

func TestSync_Applied(t *testing.T) {
	ctx := context.Background()
	f := setup(t, respond(models.ResultApplied))
	rec := f.enqueueCourse(t, "c1")

	report, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Applied)
	assert.False(t, report.Resubmitted)
	assert.True(t, report.WatermarkAdvanced)
	assert.True(t, serverTime.Equal(report.Watermark))

	calls := f.transport.SyncCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "access-1", calls[0].AccessToken)
	assert.Equal(t, report.BatchID, calls[0].Req.BatchID)
	require.Len(t, calls[0].Req.Mutations, 1)
	assert.Equal(t, rec.ID, calls[0].Req.Mutations[0].ID)
	assert.True(t, calls[0].Req.ClientWatermark.IsZero())

	all, err := f.outbox.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	token, err := f.outbox.TokenFor(ctx, rec.EntityKey())
	require.NoError(t, err)
	assert.Equal(t, "tok-c1", token)

	watermark, err := f.store.GetLastSyncAt(ctx)
	require.NoError(t, err)
	assert.True(t, serverTime.Equal(watermark))
}

func TestSync_NextBatchCarriesWatermark(t *testing.T) {
	ctx := context.Background()
	f := setup(t, respond(models.ResultApplied))

	f.enqueueCourse(t, "c1")
	_, err := f.svc.Sync(ctx)
	require.NoError(t, err)

	f.enqueueCourse(t, "c2")
	_, err = f.svc.Sync(ctx)
	require.NoError(t, err)

	calls := f.transport.SyncCalls()
	require.Len(t, calls, 2)
	assert.True(t, serverTime.Equal(calls[1].Req.ClientWatermark))
}

func TestSync_Conflict(t *testing.T) {
	ctx := context.Background()
	f := setup(t, respond(models.ResultConflict))
	rec := f.enqueueCourse(t, "c1")

	report, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	// конфликт не является server_error, watermark продвигается
	assert.True(t, report.WatermarkAdvanced)

	conflicts, err := f.outbox.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, rec.ID, conflicts[0].ID)
	assert.Equal(t, "server title", conflicts[0].ServerState["title"])
}

func TestSync_TransportFailureIsServerError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "timeout", err: models.NewError(models.KindTransient, "sync", context.DeadlineExceeded)},
		{name: "server 5xx", err: models.NewError(models.KindTransient, "sync", errors.New("server returned 503"))},
		{name: "network", err: models.NewError(models.KindTransient, "sync", errors.New("connection refused"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := setup(t, failWith(tt.err))
			rec := f.enqueueCourse(t, "c1")

			report, err := f.svc.Sync(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Retrying)
			assert.Equal(t, 1, report.ServerErrors())
			assert.False(t, report.WatermarkAdvanced)

			inFlight, err := f.outbox.InFlight(ctx)
			require.NoError(t, err)
			assert.Nil(t, inFlight)

			pending, err := f.outbox.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, rec.ID, pending[0].ID)
			assert.Equal(t, models.ResultServerError, pending[0].LastResult)
			assert.Equal(t, 1, pending[0].Attempts)

			watermark, err := f.store.GetLastSyncAt(ctx)
			require.NoError(t, err)
			assert.True(t, watermark.IsZero())
		})
	}
}

func TestSync_PartialServerErrorHoldsWatermark(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
		return &api.SyncResponse{
			BatchID:    req.BatchID,
			ServerTime: serverTime,
			Outcomes: []api.SyncOutcome{
				{MutationID: req.Mutations[0].ID, Result: "applied", NewSyncToken: "tok-1"},
				{MutationID: req.Mutations[1].ID, Result: "server_error", ErrorDetail: "transient"},
			},
		}, nil
	})
	f.enqueueCourse(t, "c1")
	f.enqueueCourse(t, "c2")

	report, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Retrying)
	assert.False(t, report.WatermarkAdvanced)

	watermark, err := f.store.GetLastSyncAt(ctx)
	require.NoError(t, err)
	assert.True(t, watermark.IsZero())
}

func TestSync_CanceledLeavesBatchInFlight(t *testing.T) {
	ctx := context.Background()
	f := setup(t, failWith(fmt.Errorf("sync: %w", context.Canceled)))
	rec := f.enqueueCourse(t, "c1")

	_, err := f.svc.Sync(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	inFlight, err := f.outbox.InFlight(ctx)
	require.NoError(t, err)
	require.NotNil(t, inFlight)
	require.Len(t, inFlight.Mutations, 1)
	assert.Equal(t, rec.ID, inFlight.Mutations[0].ID)

	// следующий цикл отправляет тот же пакет повторно
	f.transport.SyncFunc = respond(models.ResultApplied)
	report, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, report.Resubmitted)
	assert.Equal(t, inFlight.ID, report.BatchID)
	assert.Equal(t, 1, report.Applied)

	calls := f.transport.SyncCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Req.BatchID, calls[1].Req.BatchID)
}

func TestSync_UnauthenticatedRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	applied := respond(models.ResultApplied)
	f := setup(t, func(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
		if accessToken == "access-1" {
			return nil, models.NewError(models.KindUnauthenticated, "sync", errors.New("token expired"))
		}
		return applied(ctx, accessToken, req)
	})
	f.enqueueCourse(t, "c1")

	report, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	calls := f.transport.SyncCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "access-1", calls[0].AccessToken)
	assert.Equal(t, "access-2", calls[1].AccessToken)
	assert.Equal(t, calls[0].Req.BatchID, calls[1].Req.BatchID)
	assert.Len(t, f.session.RefreshCalls(), 1)
}

func TestSync_UnauthenticatedResetsBatch(t *testing.T) {
	t.Run("rejected after refresh", func(t *testing.T) {
		ctx := context.Background()
		f := setup(t, failWith(models.NewError(models.KindUnauthenticated, "sync", nil)))
		f.enqueueCourse(t, "c1")

		_, err := f.svc.Sync(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrUnauthenticated)
		assert.Len(t, f.transport.SyncCalls(), 2)
		assert.Len(t, f.session.RefreshCalls(), 1)

		assertReset(t, f)
	})

	t.Run("refresh fails", func(t *testing.T) {
		ctx := context.Background()
		f := setup(t, failWith(models.NewError(models.KindUnauthenticated, "sync", nil)))
		f.session.RefreshFunc = func(ctx context.Context) (*storage.AuthData, error) {
			return nil, models.NewError(models.KindUnauthenticated, "refresh", errors.New("expired"))
		}
		f.enqueueCourse(t, "c1")

		_, err := f.svc.Sync(ctx)
		require.Error(t, err)
		assert.Equal(t, models.KindUnauthenticated, models.KindOf(err))
		assert.Len(t, f.transport.SyncCalls(), 1)

		assertReset(t, f)
	})
}

func TestSync_BatchRejectedResetsBatch(t *testing.T) {
	f := setup(t, failWith(models.NewError(models.KindBatchRejected, "sync", errors.New("server returned 413"))))
	f.enqueueCourse(t, "c1")

	_, err := f.svc.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBatchRejected)

	assertReset(t, f)
}

func TestSync_NoSessionDoesNotDrain(t *testing.T) {
	ctx := context.Background()
	f := setup(t, respond(models.ResultApplied))
	f.session.SessionFunc = func(ctx context.Context) (*storage.AuthData, error) {
		return nil, models.NewError(models.KindUnauthenticated, "not logged in", nil)
	}
	f.enqueueCourse(t, "c1")

	_, err := f.svc.Sync(ctx)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	assert.Empty(t, f.transport.SyncCalls())

	inFlight, err := f.outbox.InFlight(ctx)
	require.NoError(t, err)
	assert.Nil(t, inFlight)
}

func TestSync_MalformedResponse(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(resp *api.SyncResponse)
	}{
		{name: "missing outcome", mangle: func(resp *api.SyncResponse) { resp.Outcomes = resp.Outcomes[:1] }},
		{name: "swapped order", mangle: func(resp *api.SyncResponse) {
			resp.Outcomes[0], resp.Outcomes[1] = resp.Outcomes[1], resp.Outcomes[0]
		}},
		{name: "foreign batch", mangle: func(resp *api.SyncResponse) { resp.BatchID = "other-batch" }},
		{name: "unknown result", mangle: func(resp *api.SyncResponse) { resp.Outcomes[1].Result = "maybe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied := respond(models.ResultApplied)
			f := setup(t, func(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
				resp, err := applied(ctx, accessToken, req)
				tt.mangle(resp)
				return resp, err
			})
			f.enqueueCourse(t, "c1")
			f.enqueueCourse(t, "c2")

			report, err := f.svc.Sync(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, report.Applied)
			assert.Equal(t, 2, report.Retrying)
			assert.False(t, report.WatermarkAdvanced)
		})
	}
}

func TestReporter_WatermarkNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	rec := f.enqueueCourse(t, "c1")

	later := serverTime.Add(time.Hour)
	require.NoError(t, f.store.SaveLastSyncAt(ctx, later))

	batch, err := f.outbox.Drain(ctx, 10)
	require.NoError(t, err)

	report, err := f.reporter.Report(ctx, batch.ID, []models.Outcome{{
		MutationID:   rec.ID,
		Result:       models.ResultApplied,
		NewSyncToken: "tok-1",
	}}, serverTime)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.False(t, report.WatermarkAdvanced)
	assert.True(t, later.Equal(report.Watermark))

	watermark, err := f.store.GetLastSyncAt(ctx)
	require.NoError(t, err)
	assert.True(t, later.Equal(watermark))
}

func assertReset(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	inFlight, err := f.outbox.InFlight(ctx)
	require.NoError(t, err)
	assert.Nil(t, inFlight)

	pending, err := f.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Attempts)
}
