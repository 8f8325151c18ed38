package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"bos-cli/internal/model"
	"bos-cli/internal/position"
)

// Replica is the local flat copy of one table, kept current from a Transport.
type Replica struct {
	Table  string
	Config position.Config
	// Origin identifies this client. When IgnoreOwn is set, events carrying it are skipped
	// because the local write already applied them.
	Origin    string
	IgnoreOwn bool
	Logger    *slog.Logger

	mu       sync.Mutex
	tasks    map[string]model.Task
	handlers []func([]model.Task)
}

func NewReplica(origin string, logger *slog.Logger) *Replica {
	return &Replica{Table: DefaultTable, Origin: origin, Logger: logger, tasks: map[string]model.Task{}}
}

func (r *Replica) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// OnChange registers fn to receive the full snapshot after every applied change. Handlers run
// on the goroutine that applied the change, outside the replica lock.
func (r *Replica) OnChange(fn func([]model.Task)) {
	r.mu.Lock()
	r.handlers = append(r.handlers, fn)
	r.mu.Unlock()
}

// Load replaces the replica contents with tasks.
func (r *Replica) Load(tasks []model.Task) {
	r.mu.Lock()
	r.tasks = make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	r.mu.Unlock()
	r.notify()
}

// Apply applies one event and reports whether the replica changed. Upserts older than the
// stored row (by updated_at) are ignored.
func (r *Replica) Apply(ev model.ChangeEvent) bool {
	if r.IgnoreOwn && r.Origin != "" && ev.Origin == r.Origin {
		return false
	}
	if err := validate(ev); err != nil {
		r.log().Warn("ignoring invalid change event", "err", err)
		return false
	}
	if t := tableOf(ev); r.Table != "" && t != r.Table {
		return false
	}

	changed := false
	r.mu.Lock()
	if r.tasks == nil {
		r.tasks = map[string]model.Task{}
	}
	switch ev.Op {
	case model.ChangeUpsert:
		t, ok := taskOf(ev, r.Config)
		if !ok {
			break
		}
		if cur, exists := r.tasks[t.ID]; exists && t.UpdatedAt < cur.UpdatedAt {
			r.log().Debug("ignoring stale upsert", "task_id", t.ID)
			break
		}
		r.tasks[t.ID] = t
		changed = true
	case model.ChangeDelete:
		id := eventID(ev)
		if _, ok := r.tasks[id]; ok {
			delete(r.tasks, id)
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.notify()
	}
	return changed
}

// Get returns one task by id.
func (r *Replica) Get(id string) (model.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Snapshot returns a copy of every task in comparator order.
func (r *Replica) Snapshot() []model.Task {
	r.mu.Lock()
	out := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()
	return position.SortTasksInPlace(out)
}

func (r *Replica) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Replica) notify() {
	r.mu.Lock()
	hs := append([]func([]model.Task){}, r.handlers...)
	r.mu.Unlock()
	if len(hs) == 0 {
		return
	}
	snap := r.Snapshot()
	for _, h := range hs {
		h(snap)
	}
}

// Run subscribes to tr, loads its snapshot, then applies events until ctx ends or the
// subscription closes.
func (r *Replica) Run(ctx context.Context, tr Transport) error {
	table := r.Table
	if table == "" {
		table = DefaultTable
	}
	events, err := tr.Subscribe(ctx, table)
	if err != nil {
		return err
	}
	snap, err := tr.Snapshot(ctx, table)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	r.Load(snap)
	r.log().Info("replica loaded", "table", table, "tasks", len(snap))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			r.Apply(ev)
		}
	}
}
