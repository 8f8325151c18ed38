package hierarchy

import (
	"strings"

	"bos-cli/internal/model"
	"bos-cli/internal/statusutil"
)

// Predicate selects tasks that match a filter directly.
type Predicate func(model.Task) bool

// StatusIn matches tasks whose status is one of statuses, compared after statusutil.Normalize
// and case-folding. With no statuses it matches everything.
func StatusIn(statuses ...string) Predicate {
	want := map[string]bool{}
	for _, s := range statuses {
		if s = strings.ToLower(statusutil.Normalize(s)); s != "" {
			want[s] = true
		}
	}
	return func(t model.Task) bool {
		if len(want) == 0 {
			return true
		}
		return want[strings.ToLower(statusutil.Normalize(t.Status))]
	}
}

// TitleContains matches a case-insensitive substring of the title.
func TitleContains(substr string) Predicate {
	needle := strings.ToLower(strings.TrimSpace(substr))
	return func(t model.Task) bool {
		return strings.Contains(strings.ToLower(t.Title), needle)
	}
}

func And(ps ...Predicate) Predicate {
	return func(t model.Task) bool {
		for _, p := range ps {
			if p != nil && !p(t) {
				return false
			}
		}
		return true
	}
}

func Or(ps ...Predicate) Predicate {
	return func(t model.Task) bool {
		for _, p := range ps {
			if p != nil && p(t) {
				return true
			}
		}
		return false
	}
}

func Not(p Predicate) Predicate {
	return func(t model.Task) bool { return p == nil || !p(t) }
}
