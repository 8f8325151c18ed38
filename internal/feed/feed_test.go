package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"bos-cli/internal/hierarchy"
	"bos-cli/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func recv(t *testing.T, ch <-chan model.ChangeEvent) model.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return model.ChangeEvent{}
}

func TestMemoryTransport_FanOutAndSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := NewMemoryTransport()
	defer tr.Close()

	a, err := tr.Subscribe(ctx, "")
	require.NoError(t, err)
	b, err := tr.Subscribe(ctx, DefaultTable)
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, Upsert(model.Task{ID: "t1", Position: 10000}, "dev-1")))
	assert.Equal(t, "t1", recv(t, a).ID)
	assert.Equal(t, "t1", recv(t, b).ID)

	require.NoError(t, tr.Publish(ctx, Upsert(model.Task{ID: "t2", Position: 5000}, "dev-1")))
	require.NoError(t, tr.Publish(ctx, Delete("t1", "dev-2")))
	snap, err := tr.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "t2", snap[0].ID)

	require.Error(t, tr.Publish(ctx, model.ChangeEvent{Op: "rename", ID: "x"}))
	require.Error(t, tr.Publish(ctx, model.ChangeEvent{Op: model.ChangeUpsert, ID: "x"}))
}

func TestMemoryTransport_CancelClosesSubscription(t *testing.T) {
	tr := NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := tr.Subscribe(ctx, "")
	require.NoError(t, err)
	cancel()
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not closed after cancel")
	}

	require.NoError(t, tr.Close())
	_, err = tr.Subscribe(context.Background(), "")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, tr.Publish(context.Background(), Delete("x", "")), ErrClosed)
}

func TestReplica_ApplyIgnoresOwnEchoAndStaleRows(t *testing.T) {
	r := NewReplica("me", quiet())
	r.IgnoreOwn = true

	assert.True(t, r.Apply(Upsert(model.Task{ID: "a", Position: 1, UpdatedAt: 10}, "other")))
	assert.False(t, r.Apply(Upsert(model.Task{ID: "b", Position: 2}, "me")), "own echo")
	assert.False(t, r.Apply(Upsert(model.Task{ID: "a", Position: 99, UpdatedAt: 5}, "other")), "stale")

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Position)

	assert.True(t, r.Apply(Delete("a", "other")))
	assert.False(t, r.Apply(Delete("a", "other")), "already gone")
	assert.Equal(t, 0, r.Len())

	assert.False(t, r.Apply(model.ChangeEvent{Op: model.ChangeUpsert, Table: "jobs", Task: &model.Task{ID: "j"}}), "other table")
}

func TestReplica_RawRowsDecodeWithPositionField(t *testing.T) {
	r := NewReplica("", quiet())
	r.Config.PositionField = "sort_order"
	ev := model.ChangeEvent{Op: model.ChangeUpsert, Row: map[string]any{
		"id": "r1", "sort_order": 4200.0, "created_at": "2025-01-02T03:04:05Z",
	}}
	require.True(t, r.Apply(ev))
	got, ok := r.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 4200.0, got.Position)
	assert.Equal(t, int64(1735787045000), got.CreatedAt.Millis())
}

func TestReplica_OnChangeReorganizes(t *testing.T) {
	r := NewReplica("", quiet())
	var trees [][]*hierarchy.Node
	r.OnChange(func(tasks []model.Task) {
		trees = append(trees, hierarchy.OrganizeSimple(tasks))
	})
	parent := "p"
	r.Load([]model.Task{{ID: "p", Position: 1}})
	r.Apply(Upsert(model.Task{ID: "c", ParentID: &parent, Position: 1}, ""))

	require.Len(t, trees, 2)
	last := trees[1]
	require.Len(t, last, 1)
	require.Len(t, last[0].Subtasks, 1)
	assert.Equal(t, "c", last[0].Subtasks[0].Task.ID)
}

func TestReplica_RunOverMemoryTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := NewMemoryTransport()
	defer tr.Close()
	require.NoError(t, tr.Publish(ctx, Upsert(model.Task{ID: "seed", Position: 1}, "")))

	r := NewReplica("", quiet())
	changed := make(chan int, 16)
	r.OnChange(func(tasks []model.Task) { changed <- len(tasks) })

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, tr) }()

	waitLen := func(n int) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case got := <-changed:
				if got == n {
					return
				}
			case <-deadline:
				t.Fatalf("replica never reached %d tasks", n)
			}
		}
	}
	waitLen(1)
	require.NoError(t, tr.Publish(ctx, Upsert(model.Task{ID: "live", Position: 2}, "")))
	waitLen(2)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestRedisTransport_PublishSubscribeSnapshot(t *testing.T) {
	s := miniredis.RunT(t)
	tr, err := NewRedisTransport("redis://" + s.Addr())
	require.NoError(t, err)
	defer tr.Close()
	tr.WithLogger(quiet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Ping(ctx))

	ch, err := tr.Subscribe(ctx, "")
	require.NoError(t, err)

	parent := "p1"
	require.NoError(t, tr.Publish(ctx, Upsert(model.Task{ID: "t1", ParentID: &parent, Position: 12345, CreatedAt: 7}, "dev-a")))
	ev := recv(t, ch)
	assert.Equal(t, model.ChangeUpsert, ev.Op)
	assert.Equal(t, "dev-a", ev.Origin)
	require.NotNil(t, ev.Task)
	assert.Equal(t, 12345.0, ev.Task.Position)
	assert.Equal(t, "p1", ev.Task.Parent())

	require.NoError(t, tr.Publish(ctx, Upsert(model.Task{ID: "t0", Position: 1}, "dev-a")))
	recv(t, ch)
	snap, err := tr.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "t0", snap[0].ID)

	require.NoError(t, tr.Publish(ctx, Delete("t0", "dev-b")))
	assert.Equal(t, model.ChangeDelete, recv(t, ch).Op)
	snap, err = tr.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Len(t, snap, 1)

	assert.True(t, s.Exists("bos:rows:tasks"))
}

func TestRedisTransport_BadURL(t *testing.T) {
	_, err := NewRedisTransport("not-a-url")
	require.Error(t, err)
}
