package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bos-cli/internal/feed"
	"bos-cli/internal/hierarchy"
	"bos-cli/internal/model"
	"bos-cli/internal/store"
	"bos-cli/internal/tui"

	"github.com/spf13/cobra"
)

var errNoFeed = errors.New("no change feed configured (use --redis or BOS_REDIS_URL)")

func newFeedCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Change feed commands",
	}
	cmd.AddCommand(newFeedListenCmd(app))
	cmd.AddCommand(newFeedSnapshotCmd(app))
	return cmd
}

func newFeedSnapshotCmd(app *App) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the rows currently known to the change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.openFeed()
			if err != nil {
				return writeErr(cmd, err)
			}
			if tr == nil {
				return writeErr(cmd, errNoFeed)
			}
			defer tr.Close()

			snap, err := tr.Snapshot(cmd.Context(), feed.DefaultTable)
			if err != nil {
				return writeErr(cmd, err)
			}
			tasks := tui.ForJob(snap, jobID)
			if tasks == nil {
				tasks = []model.Task{}
			}
			return writeOut(cmd, app, map[string]any{"data": tasks})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only tasks of this job")
	return cmd
}

func newFeedListenCmd(app *App) *cobra.Command {
	var jobID string
	var outline bool
	var apply bool
	var includeOwn bool
	var count int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Follow the change feed, printing events (or the resulting outline)",
		Example: strings.TrimSpace(`
  # Print events as they arrive
  bos feed listen --redis redis://localhost:6379/0

  # Keep the local database in step with other clients
  bos feed listen --apply

  # Redraw the outline of one job after every change
  bos feed listen --job roof --outline --format text
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.openFeed()
			if err != nil {
				return writeErr(cmd, err)
			}
			if tr == nil {
				return writeErr(cmd, errNoFeed)
			}
			defer tr.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var st *store.Store
			if apply {
				if st, err = app.openStore(ctx); err != nil {
					return writeErr(cmd, err)
				}
				defer st.Close()
			}

			replica := feed.NewReplica(app.origin(), app.logger)
			replica.Config = app.cfg.Positioning
			replica.IgnoreOwn = !includeOwn

			events, err := tr.Subscribe(ctx, replica.Table)
			if err != nil {
				return writeErr(cmd, err)
			}
			snap, err := tr.Snapshot(ctx, replica.Table)
			if err != nil {
				return writeErr(cmd, err)
			}
			replica.Load(snap)

			printOutline := func(tasks []model.Task) error {
				tree := hierarchy.New(app.logger).OrganizeSimple(tui.ForJob(tasks, jobID))
				rows := hierarchy.FlattenAll(tree)
				if isText(app) {
					return writeOut(cmd, app, map[string]any{"data": rows})
				}
				return writeOut(cmd, app, map[string]any{"data": rowsJSON(rows)})
			}
			if outline {
				if err := printOutline(replica.Snapshot()); err != nil {
					return err
				}
			}

			seen := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if !relevant(replica, ev, jobID) || !replica.Apply(ev) {
						continue
					}
					if st != nil {
						if err := applyEvent(ctx, st, replica, ev); err != nil {
							app.logger.Warn("could not apply change", "op", ev.Op, "task_id", ev.ID, "err", err)
						}
					}
					if outline {
						err = printOutline(replica.Snapshot())
					} else {
						err = writeOut(cmd, app, map[string]any{"data": ev})
					}
					if err != nil {
						return err
					}
					if seen++; count > 0 && seen >= count {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only changes to tasks of this job")
	cmd.Flags().BoolVar(&outline, "outline", false, "Print the whole outline after each change instead of the event")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write incoming changes to the local database")
	cmd.Flags().BoolVar(&includeOwn, "include-own", false, "Also process events published by this machine")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many changes (0: run until interrupted)")
	return cmd
}

// relevant reports whether ev touches jobID. Deletes carry no row, so the replica's copy decides.
func relevant(replica *feed.Replica, ev model.ChangeEvent, jobID string) bool {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return true
	}
	if ev.Task != nil {
		return strings.TrimSpace(ev.Task.JobID) == jobID
	}
	if t, ok := replica.Get(ev.ID); ok {
		return strings.TrimSpace(t.JobID) == jobID
	}
	if j, ok := ev.Row["job_id"].(string); ok {
		return strings.TrimSpace(j) == jobID
	}
	return false
}

func applyEvent(ctx context.Context, st *store.Store, replica *feed.Replica, ev model.ChangeEvent) error {
	switch ev.Op {
	case model.ChangeUpsert:
		id := ev.ID
		if id == "" && ev.Task != nil {
			id = ev.Task.ID
		}
		t, ok := replica.Get(id)
		if !ok {
			return nil
		}
		return st.Upsert(ctx, t)
	case model.ChangeDelete:
		if err := st.Delete(ctx, ev.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}
