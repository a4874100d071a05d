package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/learnsync/internal/models"
)

func (a *App) syncCommand() *cobra.Command {
	var untilEmpty bool

	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "Send queued mutations to the server",
		GroupID: "sync",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			for round := 1; ; round++ {
				report, err := a.sync.Sync(ctx)
				if err != nil {
					if models.KindOf(err) == models.KindUnauthenticated {
						return fmt.Errorf("%w (run 'learnsync login')", err)
					}
					return fmt.Errorf("sync failed: %w", err)
				}

				if report.BatchID == "" {
					if round == 1 {
						a.io.Println("Nothing to sync")
					}
					return nil
				}

				a.printReport(report.BatchID, report.Resubmitted, report.Submitted)
				a.io.Printf("  applied %d, conflicts %d, rejected %d, retrying %d, failed %d\n",
					report.Applied, report.Conflicts, report.Rejected, report.Retrying, report.Failed)
				if report.WatermarkAdvanced {
					a.io.Printf("  synced up to %s\n", formatWatermark(report.Watermark))
				}
				if report.Conflicts+report.Rejected+report.Failed > 0 {
					a.io.Println(warnStyle.Render("  run 'learnsync conflicts' to review"))
				}

				// без прогресса повтор бессмысленен: оставшиеся записи ждут backoff или решения
				if !untilEmpty || report.Applied == 0 {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&untilEmpty, "until-empty", false, "keep sending batches while the server accepts them")
	return cmd
}

func (a *App) printReport(batchID string, resubmitted bool, submitted int) {
	label := "Sent"
	if resubmitted {
		label = "Resent"
	}
	a.io.Printf("%s batch %s: %s\n", headerStyle.Render(label), batchID, plural(submitted, "mutation"))
}
