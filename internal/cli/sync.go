package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Go back online: re-place tasks created offline and publish offline changes",
		Long: strings.TrimSpace(`
Tasks created with --offline carry small provisional positions. sync moves each of them to
the end of its sibling list (in creation order), clears the provisional position counters,
and publishes every offline write and delete to the change feed when one is configured.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app.Offline = false
			s, err := openSession(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			ups, err := s.svc.Reconnect(ctx)
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return writeErr(cmd, err)
			}

			out := map[string]any{"data": emptyUpdates(ups)}
			if s.feed == nil {
				out["_hints"] = []string{"No change feed configured (--redis or BOS_REDIS_URL); positions were updated locally only."}
			}
			return writeOut(cmd, app, out)
		},
	}
	return cmd
}
