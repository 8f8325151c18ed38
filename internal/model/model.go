package model

import "strings"

// Task is a positionable item: an entity participating in an ordered, per-parent list.
//
// Siblings share the same JobID and ParentID. A ParentID equal to the task's own ID is an
// invariant violation and is read as "no parent" everywhere (see Parent).
type Task struct {
	ID       string  `json:"id" yaml:"id"`
	JobID    string  `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	ParentID *string `json:"parent_id" yaml:"parent_id,omitempty"`

	Title       string `json:"title" yaml:"title"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Position is the ordering key. Generated values are integral, but stored values may be
	// fractional; they are never assumed unique.
	Position float64 `json:"position" yaml:"position"`

	// RepositionedAfterID names the sibling the task was last placed immediately after.
	RepositionedAfterID *string `json:"repositioned_after_id" yaml:"repositioned_after_id,omitempty"`

	CreatedAt Timestamp `json:"created_at" yaml:"created_at"`
	UpdatedAt Timestamp `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Parent returns the effective parent id ("" for roots). Self references are treated as roots.
func (t Task) Parent() string {
	if t.ParentID == nil {
		return ""
	}
	pid := strings.TrimSpace(*t.ParentID)
	if pid == t.ID {
		return ""
	}
	return pid
}

// SelfParented reports whether the task names itself as its parent.
func (t Task) SelfParented() bool {
	return t.ParentID != nil && strings.TrimSpace(*t.ParentID) != "" && strings.TrimSpace(*t.ParentID) == t.ID
}

// Placement is a named slot inside a scope.
type Placement string

const (
	PlacementNone  Placement = ""
	PlacementFirst Placement = "first"
	PlacementLast  Placement = "last"
)

// RelativeUpdate is a user-facing move intent: put task ID into scope ParentID, either
// before/after a sibling or at the first/last slot.
type RelativeUpdate struct {
	ID           string    `json:"id"`
	ParentID     *string   `json:"parent_id"`
	BeforeTaskID string    `json:"before_task_id,omitempty"`
	AfterTaskID  string    `json:"after_task_id,omitempty"`
	Placement    Placement `json:"position,omitempty"`
}

// PositionUpdate is the concrete result of translating a RelativeUpdate.
type PositionUpdate struct {
	ID                  string  `json:"id"`
	Position            float64 `json:"position"`
	ParentID            *string `json:"parent_id"`
	RepositionedAfterID *string `json:"repositioned_after_id"`
}

// Apply writes the update onto t. The id is not checked.
func (u PositionUpdate) Apply(t *Task) {
	t.Position = u.Position
	t.ParentID = CloneID(u.ParentID)
	t.RepositionedAfterID = CloneID(u.RepositionedAfterID)
}

// ChangeOp is the kind of row change carried by a ChangeEvent.
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent is a row change delivered by the sync transport.
type ChangeEvent struct {
	Op    ChangeOp `json:"op"`
	Table string   `json:"table"`
	ID    string   `json:"id"`
	Task  *Task    `json:"task,omitempty"`
	// Row carries the raw record when the transport does not deliver typed tasks.
	Row    map[string]any `json:"row,omitempty"`
	Origin string         `json:"origin,omitempty"`
	TS     Timestamp      `json:"ts"`
}

// ID returns a pointer to a trimmed copy of s, or nil when s is blank.
func ID(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// CloneID copies an optional id so callers never share pointers across snapshots.
func CloneID(p *string) *string {
	if p == nil {
		return nil
	}
	return ID(*p)
}

// SameID compares two optional ids, treating nil and "" as equal.
func SameID(a, b *string) bool {
	return deref(a) == deref(b)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// Scope identifies one sibling list: tasks of JobID whose parent is ParentID (nil for roots).
type Scope struct {
	JobID    string
	ParentID *string
}

// ScopeOf returns the scope t belongs to.
func ScopeOf(t Task) Scope {
	return Scope{JobID: strings.TrimSpace(t.JobID), ParentID: ID(t.Parent())}
}

// Contains reports whether t is a member of s.
func (s Scope) Contains(t Task) bool {
	return strings.TrimSpace(t.JobID) == strings.TrimSpace(s.JobID) && t.Parent() == deref(s.ParentID)
}

func (s Scope) String() string {
	p := deref(s.ParentID)
	if p == "" {
		p = "<root>"
	}
	return s.JobID + "/" + p
}
