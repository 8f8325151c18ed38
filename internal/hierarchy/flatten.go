package hierarchy

// Row is one rendered line of a flattened tree.
type Row struct {
	Node        *Node
	Depth       int
	HasSubtasks bool
	IsExpanded  bool
}

func (r Row) ID() string { return r.Node.Task.ID }

// Flatten walks tree in pre-order. A node's children are emitted (at depth+1) only when it has
// subtasks and exp reports it expanded. A nil exp treats every node as collapsed.
func Flatten(tree []*Node, exp *Expansion) []Row {
	return flatten(tree, exp.IsExpanded)
}

// FlattenAll is Flatten with every node expanded.
func FlattenAll(tree []*Node) []Row {
	return flatten(tree, func(string) bool { return true })
}

func flatten(tree []*Node, expanded func(id string) bool) []Row {
	var out []Row
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		open := expanded(n.Task.ID)
		has := n.HasSubtasks()
		out = append(out, Row{Node: n, Depth: depth, HasSubtasks: has, IsExpanded: open})
		if !has || !open {
			return
		}
		for _, ch := range n.Subtasks {
			walk(ch, depth+1)
		}
	}
	for _, n := range tree {
		walk(n, 0)
	}
	return out
}

// FlatTaskIDs returns the task ids of rows in order.
func FlatTaskIDs(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Node.Task.ID)
	}
	return out
}
