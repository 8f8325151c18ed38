package position

import (
	"testing"

	"bos-cli/internal/model"

	"github.com/google/go-cmp/cmp"
)

func abc() []model.Task {
	return []model.Task{
		{ID: "a", Position: 1000, CreatedAt: 1},
		{ID: "b", Position: 2000, CreatedAt: 2},
		{ID: "c", Position: 3000, CreatedAt: 3},
	}
}

func anchor(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func applyAll(items []model.Task, ups []model.PositionUpdate) []model.Task {
	out := append([]model.Task(nil), items...)
	for _, u := range ups {
		for i := range out {
			if out[i].ID == u.ID {
				u.Apply(&out[i])
			}
		}
	}
	return out
}

func TestConvert_AfterTask_PlacesBetweenTargetAndSuccessor(t *testing.T) {
	got := Convert(abc(), []model.RelativeUpdate{{ID: "c", AfterTaskID: "a"}}, Config{})
	if len(got) != 1 {
		t.Fatalf("expected 1 update, got %d", len(got))
	}
	u := got[0]
	if !(u.Position > 1000 && u.Position < 2000) {
		t.Fatalf("expected position in (1000,2000), got %v", u.Position)
	}
	if anchor(u.RepositionedAfterID) != "a" {
		t.Fatalf("expected repositioned_after_id=a, got %s", anchor(u.RepositionedAfterID))
	}
	if u.ParentID != nil {
		t.Fatalf("expected root scope, got parent %s", anchor(u.ParentID))
	}
}

func TestConvert_BeforeTask_AnchorsOnPreceding(t *testing.T) {
	cfg := DefaultConfig().Deterministic()
	got := Convert(abc(), []model.RelativeUpdate{{ID: "a", BeforeTaskID: "c"}}, cfg)
	if got[0].Position != 2500 {
		t.Fatalf("expected midpoint of b and c (2500), got %v", got[0].Position)
	}
	if anchor(got[0].RepositionedAfterID) != "b" {
		t.Fatalf("expected anchor b, got %s", anchor(got[0].RepositionedAfterID))
	}

	got = Convert(abc(), []model.RelativeUpdate{{ID: "b", BeforeTaskID: "a"}}, cfg)
	if got[0].Position != 999 || got[0].RepositionedAfterID != nil {
		t.Fatalf("expected head insert 999 with nil anchor, got %v anchor=%s", got[0].Position, anchor(got[0].RepositionedAfterID))
	}
}

func TestConvert_BeforeTask_SkipsMoverAsPreceding(t *testing.T) {
	// b already precedes c; the mover cannot anchor on itself, so the neighbour is a.
	got := Convert(abc(), []model.RelativeUpdate{{ID: "b", BeforeTaskID: "c"}}, DefaultConfig().Deterministic())
	if got[0].Position != 2000 {
		t.Fatalf("expected midpoint of a and c (2000), got %v", got[0].Position)
	}
	if anchor(got[0].RepositionedAfterID) != "a" {
		t.Fatalf("expected anchor a, got %s", anchor(got[0].RepositionedAfterID))
	}
}

func TestConvert_FirstAndLast(t *testing.T) {
	cfg := DefaultConfig().Deterministic()

	first := Convert(abc(), []model.RelativeUpdate{{ID: "c", Placement: model.PlacementFirst}}, cfg)[0]
	if first.Position != 999 || first.RepositionedAfterID != nil {
		t.Fatalf("first: expected 999 with nil anchor, got %v anchor=%s", first.Position, anchor(first.RepositionedAfterID))
	}

	last := Convert(abc(), []model.RelativeUpdate{{ID: "a", Placement: model.PlacementLast}}, cfg)[0]
	if last.Position != 13000 {
		t.Fatalf("last: expected 3000+10000, got %v", last.Position)
	}
	if anchor(last.RepositionedAfterID) != "c" {
		t.Fatalf("last: expected anchor c, got %s", anchor(last.RepositionedAfterID))
	}

	// The mover is excluded when locating the last sibling.
	self := Convert(abc(), []model.RelativeUpdate{{ID: "c", Placement: model.PlacementLast}}, cfg)[0]
	if self.Position != 12000 || anchor(self.RepositionedAfterID) != "b" {
		t.Fatalf("last (mover already last): expected 12000 after b, got %v after %s", self.Position, anchor(self.RepositionedAfterID))
	}
}

func TestConvert_DanglingTarget_AppendsAtEnd(t *testing.T) {
	cfg := DefaultConfig().Deterministic()
	for _, u := range []model.RelativeUpdate{
		{ID: "a", AfterTaskID: "deleted"},
		{ID: "a", BeforeTaskID: "deleted"},
	} {
		got := Convert(abc(), []model.RelativeUpdate{u}, cfg)[0]
		if got.Position != 13000 || anchor(got.RepositionedAfterID) != "c" {
			t.Fatalf("%+v: expected append after c at 13000, got %v after %s", u, got.Position, anchor(got.RepositionedAfterID))
		}
	}
}

func TestConvert_Batch_SeesEarlierMoves(t *testing.T) {
	items := abc()
	ups := Convert(items, []model.RelativeUpdate{
		{ID: "c", Placement: model.PlacementFirst},
		{ID: "b", Placement: model.PlacementFirst},
	}, DefaultConfig().Deterministic())

	if diff := cmp.Diff([]string{"c", "b"}, []string{ups[0].ID, ups[1].ID}); diff != "" {
		t.Fatalf("updates must follow input order (-want +got):\n%s", diff)
	}
	final := ids(SortTasks(applyAll(items, ups)))
	if diff := cmp.Diff([]string{"b", "c", "a"}, final); diff != "" {
		t.Fatalf("unexpected final order (-want +got):\n%s", diff)
	}
	// Second update sees c at 999 and goes before it.
	if ups[1].Position != 998 {
		t.Fatalf("expected b at 998, got %v", ups[1].Position)
	}
}

func TestConvert_DoesNotMutateInput(t *testing.T) {
	items := abc()
	_ = Convert(items, []model.RelativeUpdate{{ID: "a", Placement: model.PlacementLast}}, Config{})
	if diff := cmp.Diff(abc(), items); diff != "" {
		t.Fatalf("input snapshot was modified (-want +got):\n%s", diff)
	}
}

func TestConvert_ReparentIntoEmptyScope(t *testing.T) {
	parent := "a"
	got := Convert(abc(), []model.RelativeUpdate{{ID: "c", ParentID: &parent, Placement: model.PlacementLast}}, Config{})[0]
	if got.Position != 10000 {
		t.Fatalf("expected initial position in empty scope, got %v", got.Position)
	}
	if anchor(got.ParentID) != "a" || got.RepositionedAfterID != nil {
		t.Fatalf("expected parent a and nil anchor, got parent=%s anchor=%s", anchor(got.ParentID), anchor(got.RepositionedAfterID))
	}

	// A follow-up move into the same scope sees c there.
	ups := Convert(abc(), []model.RelativeUpdate{
		{ID: "c", ParentID: &parent, Placement: model.PlacementLast},
		{ID: "b", ParentID: &parent, AfterTaskID: "c"},
	}, DefaultConfig().Deterministic())
	if anchor(ups[1].RepositionedAfterID) != "c" || ups[1].Position != 20000 {
		t.Fatalf("expected b after c at 20000, got %v after %s", ups[1].Position, anchor(ups[1].RepositionedAfterID))
	}
}

func TestConvert_SelfParentTargetIsRoot(t *testing.T) {
	self := "c"
	got := Convert(abc(), []model.RelativeUpdate{{ID: "c", ParentID: &self, Placement: model.PlacementLast}}, DefaultConfig().Deterministic())[0]
	if got.ParentID != nil {
		t.Fatalf("expected self-parent intent to resolve to root, got %s", anchor(got.ParentID))
	}
}

func TestConvert_ScopeFieldsSeparateJobs(t *testing.T) {
	items := []model.Task{
		{ID: "j1a", JobID: "job-1", Position: 1000},
		{ID: "j2a", JobID: "job-2", Position: 50000},
		{ID: "j1b", JobID: "job-1", Position: 2000},
	}
	cfg := Config{ScopeFields: []string{"job_id"}}.Deterministic()
	got := Convert(items, []model.RelativeUpdate{{ID: "j1a", Placement: model.PlacementLast}}, cfg)[0]
	if got.Position != 12000 || anchor(got.RepositionedAfterID) != "j1b" {
		t.Fatalf("expected placement after j1b only (12000), got %v after %s", got.Position, anchor(got.RepositionedAfterID))
	}
}

func TestConvert_UnknownMover_IsPlacedAndTracked(t *testing.T) {
	ups := Convert(abc(), []model.RelativeUpdate{
		{ID: "new", AfterTaskID: "a"},
		{ID: "newer", AfterTaskID: "new"},
	}, DefaultConfig().Deterministic())
	if ups[0].Position != 1500 {
		t.Fatalf("expected new at 1500, got %v", ups[0].Position)
	}
	if ups[1].Position != 1750 || anchor(ups[1].RepositionedAfterID) != "new" {
		t.Fatalf("expected newer at 1750 after new, got %v after %s", ups[1].Position, anchor(ups[1].RepositionedAfterID))
	}
}
