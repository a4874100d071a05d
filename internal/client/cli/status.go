package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/learnsync/internal/models"
	"github.com/iudanet/learnsync/pkg/api"
)

func (a *App) statusCommand() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show session, outbox and watermark",
		GroupID: "sync",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			session, err := a.sessions.Session(ctx)
			switch {
			case err == nil:
				expires := time.Unix(session.ExpiresAt, 0)
				state := okStyle.Render("valid")
				if time.Now().After(expires) {
					state = warnStyle.Render("expired, refreshed on next sync")
				}
				a.io.Printf("Session:   %s (%s), access token %s\n", session.Username, session.Role, state)
			case models.KindOf(err) == models.KindUnauthenticated:
				a.io.Println("Session:   " + dimStyle.Render("not logged in"))
			default:
				return err
			}

			records, err := a.outbox.List(ctx)
			if err != nil {
				return err
			}
			counts := make(map[models.MutationStatus]int)
			for _, rec := range records {
				counts[rec.Status]++
			}
			a.io.Printf("Outbox:    %d pending, %d in flight, %d conflicted, %d failed\n",
				counts[models.StatusPending], counts[models.StatusInFlight],
				counts[models.StatusConflicted], counts[models.StatusFailed])

			batch, err := a.outbox.InFlight(ctx)
			if err != nil {
				return err
			}
			if batch != nil {
				a.io.Printf("In flight: batch %s, resent on next sync or cleared by 'learnsync reset'\n", batch.ID)
			}

			watermark, err := a.store.GetLastSyncAt(ctx)
			if err != nil {
				return err
			}
			a.io.Printf("Last sync: %s\n", formatWatermark(watermark))

			if !remote {
				return nil
			}
			if session == nil {
				return models.NewError(models.KindUnauthenticated, "remote status requires login", nil)
			}

			status, err := a.remoteStatus(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			last := time.Time{}
			if status.LastSyncAt != nil {
				last = *status.LastSyncAt
			}
			if status.BatchID == "" {
				a.io.Println("Server:    " + dimStyle.Render("no batches recorded"))
				return nil
			}
			a.io.Printf("Server:    last batch %s at %s: applied %d, conflicts %d, rejected %d\n",
				status.BatchID, formatWatermark(last), status.Applied, status.Conflicts, status.Rejected)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "also query the server for the last sync summary")
	return cmd
}

// remoteStatus запрашивает сводку; при истекшем access token обновляет его один раз
func (a *App) remoteStatus(ctx context.Context, accessToken string) (*api.SyncStatusResponse, error) {
	status, err := a.client.Status(ctx, accessToken)
	if models.KindOf(err) != models.KindUnauthenticated {
		return status, err
	}

	session, refreshErr := a.sessions.Refresh(ctx)
	if refreshErr != nil {
		return nil, err
	}
	return a.client.Status(ctx, session.AccessToken)
}
