package cli

import (
	"errors"
	"fmt"
	"strings"

	"bos-cli/internal/hierarchy"
	"bos-cli/internal/model"
	"bos-cli/internal/mutate"
	"bos-cli/internal/rebalance"
	"bos-cli/internal/store"
	"bos-cli/internal/tui"

	"github.com/spf13/cobra"
)

func newTasksCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task", "t"},
		Short:   "Task commands",
	}

	cmd.AddCommand(newTasksListCmd(app))
	cmd.AddCommand(newTasksAddCmd(app))
	cmd.AddCommand(newTasksShowCmd(app))
	cmd.AddCommand(newTasksMoveCmd(app))
	cmd.AddCommand(newTasksRebalanceCmd(app))
	cmd.AddCommand(newTasksDeleteCmd(app))
	cmd.AddCommand(newTasksImportCmd(app))
	cmd.AddCommand(newTasksExportCmd(app))

	return cmd
}

// rowJSON is one flattened outline row.
type rowJSON struct {
	model.Task
	Depth       int  `json:"depth"`
	HasSubtasks bool `json:"has_subtasks"`
	Expanded    bool `json:"expanded"`
}

func rowsJSON(rows []hierarchy.Row) []rowJSON {
	out := make([]rowJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowJSON{Task: r.Node.Task, Depth: r.Depth, HasSubtasks: r.HasSubtasks, Expanded: r.IsExpanded})
	}
	return out
}

func isText(app *App) bool {
	switch strings.ToLower(strings.TrimSpace(app.Format)) {
	case "text", "txt":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newTasksListCmd(app *App) *cobra.Command {
	var jobID string
	var statuses string
	var collapsed bool
	var flat bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks as an outline (parents before children, siblings by position)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.openStore(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			tasks, err := st.List(ctx, strings.TrimSpace(jobID))
			if err != nil {
				return writeErr(cmd, err)
			}
			want := splitList(statuses)
			if flat {
				if len(want) > 0 {
					match := hierarchy.StatusIn(want...)
					kept := tasks[:0]
					for _, t := range tasks {
						if match(t) {
							kept = append(kept, t)
						}
					}
					tasks = kept
				}
				return writeOut(cmd, app, map[string]any{"data": tasks})
			}

			org := hierarchy.New(app.logger)
			var match hierarchy.Predicate
			if len(want) > 0 {
				match = hierarchy.StatusIn(want...)
			}
			tree := org.Organize(tasks, match)
			exp := hierarchy.NewExpansion()
			if !collapsed {
				exp.AutoExpandAll(tree)
			}
			rows := hierarchy.Flatten(tree, exp)
			if isText(app) {
				return writeOut(cmd, app, map[string]any{"data": rows})
			}
			return writeOut(cmd, app, map[string]any{"data": rowsJSON(rows)})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only tasks of this job")
	cmd.Flags().StringVar(&statuses, "status", "", "Comma-separated statuses to show (ancestors of matches are kept)")
	cmd.Flags().BoolVar(&collapsed, "collapsed", false, "Show only root rows")
	cmd.Flags().BoolVar(&flat, "flat", false, "Plain task list in storage order instead of an outline")
	return cmd
}

// placement collects the mutually exclusive placement flags shared by add and move.
type placement struct {
	before string
	after  string
	first  bool
	last   bool
}

func (p *placement) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.before, "before", "", "Place before this sibling id")
	cmd.Flags().StringVar(&p.after, "after", "", "Place after this sibling id")
	cmd.Flags().BoolVar(&p.first, "first", false, "Place first among siblings")
	cmd.Flags().BoolVar(&p.last, "last", false, "Place last among siblings (default)")
}

func (p placement) validate() error {
	n := 0
	for _, set := range []bool{strings.TrimSpace(p.before) != "", strings.TrimSpace(p.after) != "", p.first, p.last} {
		if set {
			n++
		}
	}
	if n > 1 {
		return errors.New("provide at most one of --before, --after, --first or --last")
	}
	return nil
}

func (p placement) slot() model.Placement {
	switch {
	case p.first:
		return model.PlacementFirst
	case p.last:
		return model.PlacementLast
	}
	return model.PlacementNone
}

func newTasksAddCmd(app *App) *cobra.Command {
	var id string
	var jobID string
	var parentID string
	var title string
	var status string
	var description string
	var pos float64
	var place placement

	cmd := &cobra.Command{
		Use:     "add",
		Aliases: []string{"create", "new"},
		Short:   "Create a task",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := place.validate(); err != nil {
				return writeErr(cmd, err)
			}
			in := mutate.NewTask{
				ID:           id,
				JobID:        jobID,
				ParentID:     model.ID(parentID),
				Title:        title,
				Status:       status,
				Description:  description,
				BeforeTaskID: place.before,
				AfterTaskID:  place.after,
				Placement:    place.slot(),
			}
			if cmd.Flags().Changed("position") {
				in.Position = &pos
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			t, err := s.svc.Create(ctx, in)
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return writeErr(cmd, err)
			}

			out := map[string]any{"data": t}
			if !s.svc.Online() {
				out["_hints"] = []string{
					"Created offline with a provisional position.",
					"Run `bos sync` when back online to place it after the synced tasks.",
				}
			}
			return writeOut(cmd, app, out)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Task id (default: generated uuid)")
	cmd.Flags().StringVar(&jobID, "job", "", "Job id (default: the parent's job)")
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent task id")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&status, "status", "", "Status (free form; e.g. todo, in_progress, done)")
	cmd.Flags().StringVar(&description, "description", "", "Description (markdown)")
	cmd.Flags().Float64Var(&pos, "position", 0, "Explicit position (requires positioning.allowManualPositioning)")
	place.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTasksShowCmd(app *App) *cobra.Command {
	var render bool
	var width int

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its ancestors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.openStore(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			id := strings.TrimSpace(args[0])
			t, err := st.Get(ctx, id)
			if err != nil {
				return writeErr(cmd, mutateNotFound(err, id))
			}
			tasks, err := st.List(ctx, t.JobID)
			if err != nil {
				return writeErr(cmd, err)
			}
			tree := hierarchy.New(app.logger).OrganizeSimple(tasks)
			ancestors := hierarchy.PathTo(tree, id)
			var children []string
			if n := hierarchy.Find(tree, id); n != nil {
				for _, c := range n.Subtasks {
					children = append(children, c.Task.ID)
				}
			}

			if isText(app) && render && strings.TrimSpace(t.Description) != "" {
				desc := t.Description
				t.Description = ""
				if err := writeOut(cmd, app, map[string]any{"data": t}); err != nil {
					return err
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), "\n"+tui.RenderMarkdown(desc, width))
				return err
			}
			return writeOut(cmd, app, map[string]any{
				"data": t,
				"meta": map[string]any{
					"ancestors": emptyIfNil(ancestors),
					"children":  emptyIfNil(children),
				},
			})
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "Render the description as markdown (text format)")
	cmd.Flags().IntVar(&width, "width", 80, "Wrap width for --render")
	return cmd
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

// mutateNotFound turns a store miss into the same error the mutation service reports.
func mutateNotFound(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return mutate.NotFoundError{Kind: "task", ID: id}
	}
	return err
}

func newTasksMoveCmd(app *App) *cobra.Command {
	var parentID string
	var root bool
	var place placement

	cmd := &cobra.Command{
		Use:   "move <task-id> [<task-id>...]",
		Short: "Reorder or reparent tasks; extra ids follow the first in the given order",
		Example: strings.TrimSpace(`
  bos tasks move a --after b
  bos tasks move a --parent p --first
  bos tasks move a b c --before d
  bos tasks move a --root --last
`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := place.validate(); err != nil {
				return writeErr(cmd, err)
			}
			if root && strings.TrimSpace(parentID) != "" {
				return writeErr(cmd, errors.New("provide at most one of --parent or --root"))
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			ups, err := func() ([]model.PositionUpdate, error) {
				parent, err := moveParent(cmd, s, args[0], parentID, root, place)
				if err != nil {
					return nil, err
				}
				updates := make([]model.RelativeUpdate, 0, len(args))
				for i, id := range args {
					u := model.RelativeUpdate{ID: strings.TrimSpace(id), ParentID: model.CloneID(parent)}
					if i == 0 {
						u.BeforeTaskID = strings.TrimSpace(place.before)
						u.AfterTaskID = strings.TrimSpace(place.after)
						u.Placement = place.slot()
					} else {
						u.AfterTaskID = strings.TrimSpace(args[i-1])
					}
					updates = append(updates, u)
				}
				return s.svc.Move(ctx, updates)
			}()
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": emptyUpdates(ups)})
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "New parent task id")
	cmd.Flags().BoolVar(&root, "root", false, "Move to the top level")
	place.bind(cmd)
	return cmd
}

// moveParent picks the destination scope: an explicit --parent or --root, else the parent of
// the --before/--after target, else the first task's current parent. A target that no longer
// exists falls back to the first task's parent, where the move appends at the end.
func moveParent(cmd *cobra.Command, s *session, firstID, parentID string, root bool, place placement) (*string, error) {
	if root {
		return nil, nil
	}
	if p := model.ID(parentID); p != nil {
		return p, nil
	}
	first := strings.TrimSpace(firstID)
	if ref := strings.TrimSpace(place.before + place.after); ref != "" {
		t, err := s.store.Get(cmd.Context(), ref)
		if err == nil {
			return model.ID(t.Parent()), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	t, err := s.store.Get(cmd.Context(), first)
	if err != nil {
		return nil, mutateNotFound(err, first)
	}
	return model.ID(t.Parent()), nil
}

func emptyUpdates(ups []model.PositionUpdate) []model.PositionUpdate {
	if ups == nil {
		return []model.PositionUpdate{}
	}
	return ups
}

func newTasksRebalanceCmd(app *App) *cobra.Command {
	var jobID string
	var parentID string
	var all bool
	var check bool

	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Respace sibling positions evenly",
		Long: strings.TrimSpace(`
Rebalance rewrites the positions of one sibling list (--job plus optional --parent) to evenly
spaced values, keeping the current order. With --all every sibling list is checked and only
the ones that ran out of room are rewritten. --check reports without writing.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			job := strings.TrimSpace(jobID)
			if !all && job == "" {
				return writeErr(cmd, errors.New("missing --job (or use --all)"))
			}
			s, err := openSession(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			res, err := func() (any, error) {
				scopes := []model.Scope{{JobID: job, ParentID: model.ID(parentID)}}
				if all {
					if scopes, err = s.store.Scopes(ctx, job); err != nil {
						return nil, err
					}
				}
				if check {
					return checkScopes(cmd, s, scopes)
				}
				ups := []model.PositionUpdate{}
				for _, sc := range scopes {
					if all {
						tasks, err := s.store.ListScope(ctx, sc)
						if err != nil {
							return nil, err
						}
						if !rebalance.NeedsRebalance(tasks, rebalance.DefaultOptions()) {
							continue
						}
					}
					got, err := s.svc.Rebalance(ctx, sc)
					if err != nil {
						return nil, err
					}
					ups = append(ups, got...)
				}
				return ups, nil
			}()
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": res})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Job id")
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent task id (default: the job's top level)")
	cmd.Flags().BoolVar(&all, "all", false, "Every sibling list (of --job when given) that needs it")
	cmd.Flags().BoolVar(&check, "check", false, "Report which sibling lists need a rebalance without writing")
	return cmd
}

type scopeCheck struct {
	JobID    string  `json:"job_id"`
	ParentID *string `json:"parent_id"`
	Tasks    int     `json:"tasks"`
	Reason   string  `json:"reason,omitempty"`
}

func checkScopes(cmd *cobra.Command, s *session, scopes []model.Scope) ([]scopeCheck, error) {
	out := make([]scopeCheck, 0, len(scopes))
	for _, sc := range scopes {
		tasks, err := s.store.ListScope(cmd.Context(), sc)
		if err != nil {
			return nil, err
		}
		out = append(out, scopeCheck{
			JobID:    sc.JobID,
			ParentID: sc.ParentID,
			Tasks:    len(tasks),
			Reason:   string(rebalance.Check(tasks, rebalance.DefaultOptions())),
		})
	}
	return out, nil
}

func newTasksDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task (its subtasks become top-level rows)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			id := strings.TrimSpace(args[0])
			err = s.svc.Delete(ctx, id)
			if cerr := s.close(ctx); err == nil {
				err = cerr
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "deleted": true}})
		},
	}
	return cmd
}

func newTasksImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Upsert tasks from a YAML document (tasks: [...])",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.openStore(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			var n int
			if args[0] == "-" {
				n, err = st.ImportYAML(ctx, cmd.InOrStdin())
			} else {
				n, err = st.ImportYAMLFile(ctx, args[0])
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data":   map[string]any{"imported": n},
				"_hints": []string{"Imported rows are not published; run `bos tasks rebalance --all --check` to inspect spacing."},
			})
		},
	}
	return cmd
}

func newTasksExportCmd(app *App) *cobra.Command {
	var jobID string
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write tasks as a YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.openStore(ctx)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			job := strings.TrimSpace(jobID)
			if out == "" || out == "-" {
				if err := st.ExportYAML(ctx, cmd.OutOrStdout(), job); err != nil {
					return writeErr(cmd, err)
				}
				return nil
			}
			if err := st.ExportYAMLFile(ctx, out, job); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"path": out}})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only tasks of this job")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}
