// Package hierarchy turns a flat task snapshot into a sorted tree and flattens that tree into
// display rows.
package hierarchy

import (
	"log/slog"
	"slices"

	"bos-cli/internal/model"
	"bos-cli/internal/position"
)

// Node is one task in an organized tree. Trees are rebuilt on every pass; nodes are never reused.
type Node struct {
	Task     model.Task
	Subtasks []*Node
}

func (n *Node) HasSubtasks() bool { return n != nil && len(n.Subtasks) > 0 }

// Organizer builds trees. The zero value logs to slog.Default().
type Organizer struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) *Organizer {
	return &Organizer{Logger: logger}
}

func (o *Organizer) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// OrganizeSimple builds the full tree. A self-referencing parent_id is logged and the task is
// treated as a root; a parent missing from the snapshot promotes the child to root. Every level
// is sorted with position.Compare.
func (o *Organizer) OrganizeSimple(tasks []model.Task) []*Node {
	return o.build(tasks)
}

// Organize builds the tree restricted to tasks that match, plus every ancestor of a match.
// Children of excluded parents become roots. A nil match is OrganizeSimple.
func (o *Organizer) Organize(tasks []model.Task, match Predicate) []*Node {
	if match == nil {
		return o.build(tasks)
	}
	included := o.IncludedIDs(tasks, match)
	kept := make([]model.Task, 0, len(included))
	for _, t := range tasks {
		if included[t.ID] {
			kept = append(kept, t)
		}
	}
	return o.build(kept)
}

// IncludedIDs returns the ids of direct matches and all of their ancestors.
func (o *Organizer) IncludedIDs(tasks []model.Task, match Predicate) map[string]bool {
	byID := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	included := map[string]bool{}
	for _, t := range tasks {
		if match != nil && !match(t) {
			continue
		}
		cur := t
		for !included[cur.ID] {
			included[cur.ID] = true
			pid := cur.Parent()
			if pid == "" {
				break
			}
			p, ok := byID[pid]
			if !ok {
				break
			}
			cur = p
		}
	}
	return included
}

func (o *Organizer) build(tasks []model.Task) []*Node {
	log := o.logger()

	// Last occurrence of an id wins; order of first appearance is kept.
	byID := make(map[string]model.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := byID[t.ID]; !ok {
			order = append(order, t.ID)
		}
		byID[t.ID] = t
	}

	children := map[string][]model.Task{}
	var roots []model.Task
	for _, id := range order {
		t := byID[id]
		if t.SelfParented() {
			log.Warn("task is its own parent; treating as root", "task_id", t.ID)
			roots = append(roots, t)
			continue
		}
		pid := t.Parent()
		if pid == "" {
			roots = append(roots, t)
			continue
		}
		if _, ok := byID[pid]; !ok {
			log.Debug("parent not in snapshot; promoting to root", "task_id", t.ID, "parent_id", pid)
			roots = append(roots, t)
			continue
		}
		children[pid] = append(children[pid], t)
	}

	position.SortTasksInPlace(roots)
	for pid := range children {
		position.SortTasksInPlace(children[pid])
	}

	seen := make(map[string]bool, len(order))
	var grow func(t model.Task) *Node
	grow = func(t model.Task) *Node {
		seen[t.ID] = true
		n := &Node{Task: t}
		for _, ch := range children[t.ID] {
			if seen[ch.ID] {
				continue
			}
			n.Subtasks = append(n.Subtasks, grow(ch))
		}
		return n
	}

	out := make([]*Node, 0, len(roots))
	for _, r := range roots {
		out = append(out, grow(r))
	}

	if len(seen) == len(order) {
		return out
	}

	// Whatever is left sits on a parent cycle (a -> b -> a) or below one. Break each cycle at its
	// first member in comparator order; descendants grow under the members.
	var stranded []model.Task
	for _, id := range order {
		if !seen[id] && onCycle(byID, byID[id]) {
			stranded = append(stranded, byID[id])
		}
	}
	position.SortTasksInPlace(stranded)
	for _, t := range stranded {
		if seen[t.ID] {
			continue
		}
		log.Warn("parent cycle detected; promoting task to root", "task_id", t.ID, "parent_id", t.Parent())
		out = append(out, grow(t))
	}
	slices.SortStableFunc(out, func(a, b *Node) int { return position.Compare(a.Task, b.Task) })
	return out
}

// onCycle reports whether t's parent chain leads back to t.
func onCycle(byID map[string]model.Task, t model.Task) bool {
	cur := t
	for range len(byID) {
		next, ok := byID[cur.Parent()]
		if !ok {
			return false
		}
		if next.ID == t.ID {
			return true
		}
		cur = next
	}
	return false
}

var std Organizer

// OrganizeSimple is Organizer.OrganizeSimple with the default logger.
func OrganizeSimple(tasks []model.Task) []*Node { return std.OrganizeSimple(tasks) }

// Organize is Organizer.Organize with the default logger.
func Organize(tasks []model.Task, match Predicate) []*Node { return std.Organize(tasks, match) }

// IncludedIDs is Organizer.IncludedIDs with the default logger.
func IncludedIDs(tasks []model.Task, match Predicate) map[string]bool {
	return std.IncludedIDs(tasks, match)
}

// Find returns the node with id, searching depth first.
func Find(tree []*Node, id string) *Node {
	for _, n := range tree {
		if n.Task.ID == id {
			return n
		}
		if hit := Find(n.Subtasks, id); hit != nil {
			return hit
		}
	}
	return nil
}

// PathTo returns the ids of id's ancestors in tree, root first. It is nil when id is a root or
// absent.
func PathTo(tree []*Node, id string) []string {
	var path []string
	var walk func(nodes []*Node) bool
	walk = func(nodes []*Node) bool {
		for _, n := range nodes {
			if n.Task.ID == id {
				return true
			}
			path = append(path, n.Task.ID)
			if walk(n.Subtasks) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if !walk(tree) {
		return nil
	}
	return path
}
