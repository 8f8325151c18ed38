package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"bos-cli/internal/feed"
	"bos-cli/internal/format"
	"bos-cli/internal/mutate"
	"bos-cli/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// offlineStateKey is the store meta key holding offline work between invocations.
const offlineStateKey = "offline_state"

type App struct {
	DBPath     string
	RedisURL   string
	Format     string
	PrettyJSON bool
	LogLevel   string
	Offline    bool

	cfg    store.Config
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "bos",
		Short:        "bos task outline CLI + TUI",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Start the interactive outline
  bos

  # Scriptable commands
  bos tasks add --job roof --title "Strip shingles"
  bos tasks list --job roof --format text

  # Reorder
  bos tasks move <task-id> --after <other-id>

  # Direct task lookup (shortcut for: bos tasks show <task-id>)
  bos 3f2b9c4e-8d1a-4c7e-9a51-2b7f0c6d9e10
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => interactive outline.
			if cmd.HasSubCommands() && len(args) == 0 {
				return runOutline(cmd, app, "")
			}
			return cmd.Help()
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.configure(cmd)
	}

	cmd.PersistentFlags().StringVar(&app.DBPath, "db", "", "SQLite database path (env BOS_DB; default ~/.bos/bos.sqlite)")
	cmd.PersistentFlags().StringVar(&app.RedisURL, "redis", "", "Redis URL for the change feed (env BOS_REDIS_URL)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON/EDN output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", "", "Output format (json|edn|yaml|text; env BOS_FORMAT)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", envOr("BOS_LOG_LEVEL", "warn"), "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&app.Offline, "offline", false, "Work offline: new tasks take provisional positions until `bos sync` (env BOS_OFFLINE)")

	cmd.AddCommand(newTasksCmd(app))
	cmd.AddCommand(newSyncCmd(app))
	cmd.AddCommand(newFeedCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newOutlineCmd(app))

	return cmd
}

// configure resolves defaults < config file < env < flags.
func (app *App) configure(cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), app.LogLevel)
	if err != nil {
		return writeErr(cmd, err)
	}
	app.logger = logger

	cfg, err := store.LoadConfig()
	if err != nil {
		return writeErr(cmd, err)
	}
	app.cfg = cfg.WithEnv(os.Getenv)

	flags := cmd.Flags()
	if !flags.Changed("db") {
		app.DBPath = app.cfg.Database
	}
	if !flags.Changed("redis") {
		app.RedisURL = app.cfg.RedisURL
	}
	if !flags.Changed("format") {
		app.Format = app.cfg.Format
	}
	if !flags.Changed("offline") {
		app.Offline = app.cfg.Offline
	}
	if app.DBPath == "" {
		if app.DBPath, err = store.DefaultDatabasePath(); err != nil {
			return writeErr(cmd, err)
		}
	}
	if !format.Valid(app.Format) {
		return writeErr(cmd, fmt.Errorf("unknown format: %s (want one of %s)", app.Format, strings.Join(format.Formats, "|")))
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// origin is this machine's replica id. A fresh one is generated and saved on first use.
func (app *App) origin() string {
	if o := strings.TrimSpace(app.cfg.Origin); o != "" {
		return o
	}
	app.cfg.Origin = uuid.NewString()
	if cfg, err := store.LoadConfig(); err == nil {
		cfg.Origin = app.cfg.Origin
		if err := store.SaveConfig(cfg); err != nil {
			app.logger.Debug("could not save origin", "err", err)
		}
	}
	return app.cfg.Origin
}

func (app *App) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, app.DBPath, app.cfg.Positioning)
}

func (app *App) openFeed() (feed.Transport, error) {
	if strings.TrimSpace(app.RedisURL) == "" {
		return nil, nil
	}
	tr, err := feed.NewRedisTransport(app.RedisURL)
	if err != nil {
		return nil, err
	}
	return tr.WithLogger(app.logger).WithConfig(app.cfg.Positioning), nil
}

// session is one opened store plus the mutation service writing through it.
type session struct {
	app   *App
	store *store.Store
	feed  feed.Transport
	svc   *mutate.Service
}

// openSession opens the store and, unless offline, the Redis feed. A feed that cannot be
// reached degrades to offline mode with a warning.
func openSession(ctx context.Context, app *App) (*session, error) {
	st, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{app: app, store: st}
	offline := app.Offline
	if !offline {
		tr, err := app.openFeed()
		if err != nil {
			app.logger.Warn("change feed unavailable; continuing offline", "err", err)
			offline = true
		}
		s.feed = tr
	}
	s.svc = mutate.New(st, mutate.Options{
		Config:  app.cfg.Positioning,
		Feed:    s.feed,
		Origin:  app.origin(),
		Offline: offline,
		Logger:  app.logger,
	})
	if err := s.restoreOffline(ctx); err != nil {
		_ = s.close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *session) restoreOffline(ctx context.Context) error {
	raw, err := s.store.Meta(ctx, offlineStateKey)
	if err != nil || raw == "" {
		return err
	}
	var st mutate.OfflineState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		s.app.logger.Warn("discarding unreadable offline state", "err", err)
		return nil
	}
	s.svc.RestoreOffline(st)
	return nil
}

// close saves pending offline work for the next invocation and releases the store and feed.
func (s *session) close(ctx context.Context) error {
	var errs []error
	st := s.svc.OfflineState()
	raw := ""
	if !st.Empty() {
		b, err := json.Marshal(st)
		if err != nil {
			errs = append(errs, err)
		}
		raw = string(b)
	}
	if err := s.store.SetMeta(ctx, offlineStateKey, raw); err != nil {
		errs = append(errs, fmt.Errorf("save offline state: %w", err))
	}
	if s.feed != nil {
		errs = append(errs, s.feed.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
