package cli

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bos-cli/internal/feed"
	"bos-cli/internal/tui"

	"github.com/spf13/cobra"
)

func newOutlineCmd(app *App) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "outline",
		Short: "Interactive outline (TUI); follows the change feed when one is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutline(cmd, app, jobID)
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only tasks of this job")
	return cmd
}

func runOutline(cmd *cobra.Command, app *App, jobID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, app)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer func() {
		if err := s.close(cmd.Context()); err != nil {
			app.logger.Warn("closing session", "err", err)
		}
	}()

	jobID = strings.TrimSpace(jobID)
	tasks, err := s.store.List(ctx, jobID)
	if err != nil {
		return writeErr(cmd, err)
	}

	var replica *feed.Replica
	if s.feed != nil && s.svc.Online() {
		replica = feed.NewReplica(app.origin(), app.logger)
		replica.Config = app.cfg.Positioning
		go func() {
			if err := replica.Run(ctx, s.feed); err != nil && ctx.Err() == nil {
				app.logger.Warn("change feed stopped", "err", err)
			}
		}()
	}

	title := "bos"
	if jobID != "" {
		title = "bos · " + jobID
	}
	err = tui.Run(ctx, tasks, tui.Options{
		Title:  title,
		JobID:  jobID,
		Config: s.svc.Config(),
		Mover:  s.svc,
		Logger: app.logger,
	}, replica)
	if err != nil {
		return writeErr(cmd, err)
	}
	return nil
}
