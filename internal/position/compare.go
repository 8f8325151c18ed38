package position

import (
	"cmp"
	"math"
	"slices"

	"bos-cli/internal/model"
)

// Compare orders tasks by position, then by created_at (epoch millis). Missing or NaN
// positions sort as 0; missing created_at sorts as 0.
//
// Deterministic tie-breaking matters: concurrent offline inserts can share a position, and an
// unstable order would make rows jump between renders.
func Compare(a, b model.Task) int {
	if c := cmp.Compare(positionKey(a.Position), positionKey(b.Position)); c != 0 {
		return c
	}
	return cmp.Compare(a.CreatedAt.Millis(), b.CreatedAt.Millis())
}

// Less is Compare as a boolean.
func Less(a, b model.Task) bool { return Compare(a, b) < 0 }

// SortTasks returns a sorted copy of tasks. Fully-equal keys keep their input order.
func SortTasks(tasks []model.Task) []model.Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, Compare)
	return out
}

// SortTasksInPlace sorts tasks stably and returns the same slice.
func SortTasksInPlace(tasks []model.Task) []model.Task {
	slices.SortStableFunc(tasks, Compare)
	return tasks
}

// SortPtrsInPlace is SortTasksInPlace for pointer slices.
func SortPtrsInPlace(tasks []*model.Task) []*model.Task {
	slices.SortStableFunc(tasks, func(a, b *model.Task) int { return Compare(*a, *b) })
	return tasks
}

// OrderBy is the field order a store or transport must use so that the order it delivers
// matches Compare.
func OrderBy(cfg Config) []string {
	cfg = cfg.WithDefaults()
	return []string{cfg.PositionField, "created_at"}
}

func positionKey(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return p
}
