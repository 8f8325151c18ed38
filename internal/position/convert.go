package position

import (
	"strings"

	"bos-cli/internal/model"
)

// Convert translates relative move intents (before/after a sibling, first/last in a scope) into
// concrete position updates.
//
// Updates are applied in order against a private working copy of items, so a batch (e.g. a
// multi-select drag) sees the effect of its own earlier moves. Exactly one PositionUpdate is
// returned per input update, in input order. A before/after target that is not in the target
// scope (typically deleted concurrently) degrades to "append at end".
func Convert(items []model.Task, updates []model.RelativeUpdate, cfg Config) []model.PositionUpdate {
	cfg = cfg.WithDefaults()
	a := newArena(items, cfg)
	out := make([]model.PositionUpdate, 0, len(updates))
	for _, u := range updates {
		pu := a.translate(u)
		a.apply(pu)
		out = append(out, pu)
	}
	return out
}

// arena is a cloned, indexed snapshot owned by one Convert call.
type arena struct {
	cfg   Config
	tasks []model.Task
	index map[string]int
}

func newArena(items []model.Task, cfg Config) *arena {
	a := &arena{
		cfg:   cfg,
		tasks: make([]model.Task, 0, len(items)),
		index: make(map[string]int, len(items)),
	}
	for _, it := range items {
		it.ParentID = model.CloneID(it.ParentID)
		it.RepositionedAfterID = model.CloneID(it.RepositionedAfterID)
		if i, ok := a.index[it.ID]; ok {
			a.tasks[i] = it
			continue
		}
		a.index[it.ID] = len(a.tasks)
		a.tasks = append(a.tasks, it)
	}
	return a
}

// siblings returns the tasks in scope parent, sorted. When like is set, tasks must also share
// its scope field values.
func (a *arena) siblings(parent string, like *model.Task) []model.Task {
	var out []model.Task
	for _, t := range a.tasks {
		if t.Parent() != parent {
			continue
		}
		if like != nil && len(a.cfg.ScopeFields) > 0 && !SameScope(t, *like, a.cfg.ScopeFields) {
			continue
		}
		out = append(out, t)
	}
	return SortTasksInPlace(out)
}

func (a *arena) translate(u model.RelativeUpdate) model.PositionUpdate {
	id := strings.TrimSpace(u.ID)
	parent := ""
	if u.ParentID != nil {
		parent = strings.TrimSpace(*u.ParentID)
	}
	if parent == id {
		// Never place a task inside itself.
		parent = ""
	}

	// An item not in the snapshot has no scope field values of its own; it joins whatever
	// scope the caller's snapshot describes.
	var like *model.Task
	if i, ok := a.index[id]; ok {
		like = &a.tasks[i]
	}
	all := a.siblings(parent, like)
	rest := make([]model.Task, 0, len(all))
	for _, t := range all {
		if t.ID != id {
			rest = append(rest, t)
		}
	}

	res := model.PositionUpdate{ID: id, ParentID: model.ID(parent)}

	before := strings.TrimSpace(u.BeforeTaskID)
	after := strings.TrimSpace(u.AfterTaskID)
	switch {
	case before != "":
		i := indexOf(all, before)
		if i < 0 {
			a.appendEnd(&res, rest)
			return res
		}
		j := i - 1
		if j >= 0 && all[j].ID == id {
			j--
		}
		var prev *float64
		if j >= 0 {
			p := all[j].Position
			prev = &p
			res.RepositionedAfterID = model.ID(all[j].ID)
		}
		next := all[i].Position
		res.Position = Calculate(prev, &next, a.cfg)

	case after != "":
		i := indexOf(all, after)
		if i < 0 {
			a.appendEnd(&res, rest)
			return res
		}
		k := i + 1
		if k < len(all) && all[k].ID == id {
			k++
		}
		prev := all[i].Position
		var next *float64
		if k < len(all) {
			n := all[k].Position
			next = &n
		}
		res.Position = Calculate(&prev, next, a.cfg)
		res.RepositionedAfterID = model.ID(all[i].ID)

	case u.Placement == model.PlacementFirst:
		if len(rest) == 0 {
			res.Position = Initial(a.cfg)
			return res
		}
		res.Position = Before(rest[0].Position, a.cfg)

	default:
		a.appendEnd(&res, rest)
	}
	return res
}

func (a *arena) appendEnd(res *model.PositionUpdate, rest []model.Task) {
	if len(rest) == 0 {
		res.Position = Initial(a.cfg)
		res.RepositionedAfterID = nil
		return
	}
	last := rest[len(rest)-1]
	res.Position = After(last.Position, a.cfg)
	res.RepositionedAfterID = model.ID(last.ID)
}

func (a *arena) apply(pu model.PositionUpdate) {
	i, ok := a.index[pu.ID]
	if !ok {
		t := model.Task{ID: pu.ID}
		i = len(a.tasks)
		a.index[pu.ID] = i
		a.tasks = append(a.tasks, t)
	}
	pu.Apply(&a.tasks[i])
}

func indexOf(tasks []model.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
