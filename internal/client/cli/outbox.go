package cli

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/learnsync/internal/models"
)

func (a *App) enqueueCommand() *cobra.Command {
	var (
		base    string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <entity_type> <entity_id> <create|update|delete> [field=value ...]",
		Short: "Record an offline mutation in the outbox",
		Long: `Record an offline mutation in the outbox.

Field values are parsed as JSON when possible (numbers, booleans, arrays, objects)
and taken as plain strings otherwise. For update and delete the base sync token
defaults to the cached token of the entity or to the previous queued mutation.`,
		Example: `  learnsync enqueue course c-1 create title="Intro to Go" is_published=false
  learnsync enqueue progress p-7 update progress_percentage=80
  learnsync enqueue lesson l-3 delete --base 5f0c...`,
		GroupID: "outbox",
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(payload, args[3:])
			if err != nil {
				return err
			}

			rec, err := a.outbox.Enqueue(cmd.Context(), &models.Mutation{
				EntityType:    models.EntityType(args[0]),
				EntityID:      args[1],
				Operation:     models.Operation(args[2]),
				BaseSyncToken: base,
				Payload:       fields,
			})
			if err != nil {
				return err
			}

			a.io.Printf("Queued %s %s as %s (client version %d)\n", rec.Operation, rec.EntityKey(), rec.ID, rec.ClientVersion)
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "base sync token (update and delete)")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as a JSON object, merged with field=value arguments")
	return cmd
}

func (a *App) listCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List outbox records in queue order",
		GroupID: "outbox",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.outbox.List(cmd.Context())
			if err != nil {
				return err
			}

			shown := 0
			for _, rec := range records {
				if status != "" && string(rec.Status) != status {
					continue
				}
				a.printMutation(rec)
				shown++
			}
			if shown == 0 {
				a.io.Println(dimStyle.Render("Outbox is empty"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only records with status: pending, in_flight, conflicted, failed")
	return cmd
}

func (a *App) conflictsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "conflicts",
		Short:   "Show conflicted and failed records with the server state",
		GroupID: "outbox",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conflicts, err := a.outbox.Conflicts(cmd.Context())
			if err != nil {
				return err
			}
			failed, err := a.outbox.Failed(cmd.Context())
			if err != nil {
				return err
			}

			if len(conflicts)+len(failed) == 0 {
				a.io.Println(okStyle.Render("No conflicts"))
				return nil
			}

			for _, rec := range append(conflicts, failed...) {
				a.printMutation(rec)
				a.printFields("local", rec.Payload)
				a.printFields("server", rec.ServerState)
			}
			a.io.Println()
			a.io.Println(dimStyle.Render("Resolve with 'learnsync retry <id>' (keep local change) or 'learnsync discard <id>'"))
			return nil
		},
	}
}

func (a *App) discardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "discard <mutation_id>",
		Short:   "Drop a conflicted or failed record",
		GroupID: "outbox",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.outbox.Discard(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.io.Printf("Discarded %s\n", args[0])
			return nil
		},
	}
}

func (a *App) retryCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "retry <mutation_id>",
		Short:   "Queue a conflicted or failed record again",
		Long:    "Queue a conflicted or failed record again. A conflicted record is rebased on the server state, so the local change wins.",
		GroupID: "outbox",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.outbox.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec.ID != args[0] {
				a.io.Printf("Requeued %s as %s\n", args[0], rec.ID)
				return nil
			}
			a.io.Printf("Requeued %s\n", rec.ID)
			return nil
		},
	}
}

func (a *App) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Return an interrupted in-flight batch to pending",
		GroupID: "sync",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := a.outbox.InFlight(cmd.Context())
			if err != nil {
				return err
			}
			if batch == nil {
				a.io.Println("No batch in flight")
				return nil
			}
			if err := a.outbox.ResetInFlight(cmd.Context()); err != nil {
				return err
			}
			a.io.Printf("Batch %s reset, %s back to pending\n", batch.ID, plural(len(batch.Mutations), "mutation"))
			return nil
		},
	}
}

// parseFields собирает payload из JSON-объекта и аргументов field=value
func parseFields(payload string, args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return nil, models.NewError(models.KindValidation, "payload must be a JSON object", err)
		}
	}

	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, models.Validationf("expected field=value, got %q", arg)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		fields[key] = value
	}

	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
