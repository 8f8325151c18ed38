package hierarchy

import "sort"

// Expansion tracks which tasks are expanded in one view. Tasks start collapsed.
//
// The zero value is ready to use. An Expansion is owned by a single view and is not safe for
// concurrent use.
type Expansion struct {
	expanded     map[string]bool
	autoExpanded bool
}

func NewExpansion() *Expansion {
	return &Expansion{expanded: map[string]bool{}}
}

func (e *Expansion) IsExpanded(id string) bool {
	if e == nil {
		return false
	}
	return e.expanded[id]
}

func (e *Expansion) Expand(id string) {
	if e.expanded == nil {
		e.expanded = map[string]bool{}
	}
	e.expanded[id] = true
}

func (e *Expansion) Collapse(id string) {
	delete(e.expanded, id)
}

// Toggle flips id and returns the new state.
func (e *Expansion) Toggle(id string) bool {
	if e.IsExpanded(id) {
		e.Collapse(id)
		return false
	}
	e.Expand(id)
	return true
}

// ForceExpand expands ids regardless of prior user choice, e.g. to reveal a drop target's
// children while dragging.
func (e *Expansion) ForceExpand(ids ...string) {
	for _, id := range ids {
		e.Expand(id)
	}
}

// Reveal expands every ancestor of id so its row becomes visible.
func (e *Expansion) Reveal(tree []*Node, id string) {
	e.ForceExpand(PathTo(tree, id)...)
}

// AutoExpandAll expands every node that has subtasks, once. Later calls are no-ops until
// Reset so that items collapsed by the user stay collapsed across data refreshes. It reports
// whether it expanded anything.
func (e *Expansion) AutoExpandAll(tree []*Node) bool {
	if e.autoExpanded {
		return false
	}
	e.autoExpanded = true
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			if n.HasSubtasks() {
				e.Expand(n.Task.ID)
				walk(n.Subtasks)
			}
		}
	}
	walk(tree)
	return true
}

// AutoExpanded reports whether AutoExpandAll has fired since the last Reset.
func (e *Expansion) AutoExpanded() bool { return e != nil && e.autoExpanded }

// Reset collapses everything and re-arms AutoExpandAll.
func (e *Expansion) Reset() {
	e.expanded = map[string]bool{}
	e.autoExpanded = false
}

// ExpandedIDs returns the expanded ids, sorted.
func (e *Expansion) ExpandedIDs() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.expanded))
	for id := range e.expanded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
