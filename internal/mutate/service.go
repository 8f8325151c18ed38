// Package mutate applies task creates and moves: it allocates positions, persists them, and
// publishes the changed rows.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"bos-cli/internal/feed"
	"bos-cli/internal/model"
	"bos-cli/internal/offline"
	"bos-cli/internal/position"
	"bos-cli/internal/rebalance"
	"bos-cli/internal/statusutil"
	"bos-cli/internal/store"

	"github.com/google/uuid"
)

// Store is the persistence the service writes through. *store.Store implements it.
type Store interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	List(ctx context.Context, jobID string) ([]model.Task, error)
	ListScope(ctx context.Context, scope model.Scope) ([]model.Task, error)
	ApplyPositions(ctx context.Context, updates []model.PositionUpdate) error
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Config position.Config
	// Feed receives an upsert for every row the service writes. Nil disables publishing.
	Feed feed.Transport
	// Cache allocates offline positions. Nil uses offline.Default.
	Cache *offline.Cache
	// Origin tags published events.
	Origin    string
	Offline   bool
	Rebalance rebalance.Options
	Logger    *slog.Logger
}

type Service struct {
	store  Store
	feed   feed.Transport
	cache  *offline.Cache
	cfg    position.Config
	origin string
	rb     *rebalance.Rebalancer
	logger *slog.Logger

	mu       sync.Mutex
	online   bool
	pending  []string            // ids created offline, in creation order
	unsynced map[string]struct{} // ids written offline and not yet published
	deleted  []string            // ids deleted offline and not yet published
	keys     map[string]struct{} // offline cache keys in use
}

func New(st Store, opts Options) *Service {
	cfg := opts.Config.WithDefaults()
	if !slices.Contains(cfg.ScopeFields, "job_id") {
		// Roots of different jobs all have an empty parent; the job keeps them apart.
		cfg.ScopeFields = append([]string{"job_id"}, cfg.ScopeFields...)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := opts.Cache
	if cache == nil {
		cache = offline.Default
	}
	return &Service{
		store:    st,
		feed:     opts.Feed,
		cache:    cache,
		cfg:      cfg,
		origin:   opts.Origin,
		rb:       rebalance.New(st, opts.Rebalance, logger),
		logger:   logger,
		online:   !opts.Offline,
		unsynced: map[string]struct{}{},
		keys:     map[string]struct{}{},
	}
}

func (s *Service) Config() position.Config { return s.cfg }

func (s *Service) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline flips connectivity without syncing. Going online through Reconnect is what
// re-places and publishes offline work.
func (s *Service) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// NewTask describes a task to create. At most one of Position, BeforeTaskID, AfterTaskID and
// Placement should be set; with none the task goes last in its scope.
type NewTask struct {
	ID          string
	JobID       string
	ParentID    *string
	Title       string
	Status      string
	Description string

	Position     *float64
	BeforeTaskID string
	AfterTaskID  string
	Placement    model.Placement
}

func (n NewTask) relative() bool {
	return strings.TrimSpace(n.BeforeTaskID) != "" || strings.TrimSpace(n.AfterTaskID) != "" || n.Placement != model.PlacementNone
}

func (s *Service) Create(ctx context.Context, in NewTask) (model.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Task{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if in.Placement != model.PlacementNone && in.Placement != model.PlacementFirst && in.Placement != model.PlacementLast {
		return model.Task{}, ValidationError{Field: "placement", Reason: fmt.Sprintf("%q is not first or last", in.Placement)}
	}

	t := model.Task{
		ID:          id,
		JobID:       strings.TrimSpace(in.JobID),
		Title:       title,
		Status:      statusutil.Normalize(in.Status),
		Description: in.Description,
		CreatedAt:   model.Now(),
	}
	t.UpdatedAt = t.CreatedAt

	if pid := model.ID(deref(in.ParentID)); pid != nil && *pid != id {
		parent, err := s.get(ctx, "parent", *pid)
		if err != nil {
			return model.Task{}, err
		}
		switch {
		case t.JobID == "":
			t.JobID = parent.JobID
		case t.JobID != parent.JobID:
			return model.Task{}, InvalidMoveError{ID: id, ParentID: *pid, Reason: "parent belongs to another job"}
		}
		t.ParentID = pid
	}

	online := s.Online()
	switch {
	case in.Position != nil:
		if !s.cfg.AllowManualPositioning {
			return model.Task{}, ManualPositionError{ID: id}
		}
		t.Position = *in.Position
	case !online && !in.relative():
		key := s.offlineKey(t)
		t.Position = float64(s.cache.NextPosition(key))
		s.mu.Lock()
		s.keys[key] = struct{}{}
		s.pending = append(s.pending, id)
		s.mu.Unlock()
	default:
		scope := model.ScopeOf(t)
		sibs, err := s.store.ListScope(ctx, scope)
		if err != nil {
			return model.Task{}, err
		}
		ups := position.Convert(sibs, []model.RelativeUpdate{{
			ID:           id,
			ParentID:     t.ParentID,
			BeforeTaskID: in.BeforeTaskID,
			AfterTaskID:  in.AfterTaskID,
			Placement:    in.Placement,
		}}, s.cfg)
		t.Position = ups[0].Position
		t.RepositionedAfterID = ups[0].RepositionedAfterID
	}

	created, err := s.store.Create(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	s.logger.Debug("task created", "task_id", created.ID, "scope", model.ScopeOf(created).String(), "position", created.Position, "online", online)
	if online {
		s.publish(ctx, created)
		s.rebalanceIfNeeded(ctx, model.ScopeOf(created))
	} else {
		s.markUnsynced(created.ID)
	}
	return created, nil
}

// Move validates and translates relative updates against the current rows of the affected
// jobs, then persists the result in one transaction.
func (s *Service) Move(ctx context.Context, updates []model.RelativeUpdate) ([]model.PositionUpdate, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	updates = slices.Clone(updates)
	byID := map[string]model.Task{}
	loaded := map[string]bool{}
	var snapshot []model.Task
	load := func(jobID string) error {
		if loaded[jobID] {
			return nil
		}
		loaded[jobID] = true
		tasks, err := s.store.List(ctx, jobID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			byID[t.ID] = t
		}
		snapshot = append(snapshot, tasks...)
		return nil
	}

	for i := range updates {
		u := &updates[i]
		u.ID = strings.TrimSpace(u.ID)
		mover, err := s.get(ctx, "task", u.ID)
		if err != nil {
			return nil, err
		}
		if err := load(mover.JobID); err != nil {
			return nil, err
		}
		if err := s.validateParent(ctx, mover, u.ParentID, byID); err != nil {
			return nil, err
		}
	}

	ups := position.Convert(snapshot, updates, s.cfg)
	if err := s.store.ApplyPositions(ctx, ups); err != nil {
		return nil, err
	}

	moved := map[string]bool{}
	for _, u := range ups {
		moved[u.ID] = true
	}
	s.mu.Lock()
	// Moved rows hold real positions; Reconnect leaves them where they are.
	s.pending = slices.DeleteFunc(s.pending, func(id string) bool { return moved[id] })
	s.mu.Unlock()

	online := s.Online()
	scopes := map[string]model.Scope{}
	for _, u := range ups {
		t := byID[u.ID]
		u.Apply(&t)
		sc := model.ScopeOf(t)
		scopes[sc.String()] = sc
		if online {
			s.publishID(ctx, u.ID)
		} else {
			s.markUnsynced(u.ID)
		}
	}
	s.logger.Info("moved tasks", "count", len(ups), "online", online)
	if online {
		for _, sc := range scopes {
			s.rebalanceIfNeeded(ctx, sc)
		}
	}
	return ups, nil
}

func (s *Service) validateParent(ctx context.Context, mover model.Task, parentID *string, byID map[string]model.Task) error {
	pid := strings.TrimSpace(deref(parentID))
	if pid == "" || pid == mover.ID {
		return nil
	}
	parent, ok := byID[pid]
	if !ok {
		var err error
		if parent, err = s.get(ctx, "parent", pid); err != nil {
			return err
		}
	}
	if parent.JobID != mover.JobID {
		return InvalidMoveError{ID: mover.ID, ParentID: pid, Reason: "parent belongs to another job"}
	}
	seen := map[string]bool{}
	for cur := parent; ; {
		if cur.ID == mover.ID {
			return InvalidMoveError{ID: mover.ID, ParentID: pid, Reason: "parent is a descendant of the task"}
		}
		if seen[cur.ID] {
			return nil
		}
		seen[cur.ID] = true
		next, ok := byID[cur.Parent()]
		if !ok {
			return nil
		}
		cur = next
	}
}

// Delete removes one task. Its children keep their parent id and read as roots until moved.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := s.get(ctx, "task", id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	online := s.online
	delete(s.unsynced, id)
	s.pending = slices.DeleteFunc(s.pending, func(p string) bool { return p == id })
	if !online {
		s.deleted = append(s.deleted, id)
	}
	s.mu.Unlock()

	s.logger.Debug("task deleted", "task_id", id, "online", online)
	if online {
		s.publishDelete(ctx, id)
	}
	return nil
}

// Rebalance respaces one scope and publishes the changed rows.
func (s *Service) Rebalance(ctx context.Context, scope model.Scope) ([]model.PositionUpdate, error) {
	ups, err := s.rb.Rebalance(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.publishUpdates(ctx, ups)
	return ups, nil
}

// Reconnect goes online and re-places every task created offline and not moved since at the
// end of its scope, in creation order, replacing its provisional position. Offline counters are then cleared and
// the offline writes published.
func (s *Service) Reconnect(ctx context.Context) ([]model.PositionUpdate, error) {
	s.mu.Lock()
	s.online = true
	pending := s.pending
	s.pending = nil
	keys := s.keys
	s.keys = map[string]struct{}{}
	s.mu.Unlock()

	for k := range keys {
		s.cache.Clear(k)
	}

	var ups []model.PositionUpdate
	if len(pending) > 0 {
		reqs := make([]model.RelativeUpdate, 0, len(pending))
		snapshot := []model.Task{}
		seenJob := map[string]bool{}
		for _, id := range pending {
			t, err := s.store.Get(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			// Restored offline state does not carry the keys used by the process that wrote it.
			s.cache.Clear(s.offlineKey(t))
			if !seenJob[t.JobID] {
				seenJob[t.JobID] = true
				tasks, err := s.store.List(ctx, t.JobID)
				if err != nil {
					return nil, err
				}
				snapshot = append(snapshot, tasks...)
			}
			reqs = append(reqs, model.RelativeUpdate{ID: t.ID, ParentID: model.ID(t.Parent()), Placement: model.PlacementLast})
		}
		// Provisional positions are small, so pending rows sort ahead of synced ones; each
		// "last" placement therefore lands after the synced rows and the pending rows before it.
		ups = position.Convert(snapshot, reqs, s.cfg)
		if err := s.store.ApplyPositions(ctx, ups); err != nil {
			return nil, err
		}
		for _, u := range ups {
			s.markUnsynced(u.ID)
		}
	}

	s.mu.Lock()
	unsynced := make([]string, 0, len(s.unsynced))
	for id := range s.unsynced {
		unsynced = append(unsynced, id)
	}
	s.unsynced = map[string]struct{}{}
	deleted := s.deleted
	s.deleted = nil
	s.mu.Unlock()
	slices.Sort(unsynced)

	for _, id := range deleted {
		s.publishDelete(ctx, id)
	}

	scopes := map[string]model.Scope{}
	for _, id := range unsynced {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		s.publish(ctx, t)
		sc := model.ScopeOf(t)
		scopes[sc.String()] = sc
	}
	for _, sc := range scopes {
		s.rebalanceIfNeeded(ctx, sc)
	}
	s.logger.Info("reconnected", "replaced", len(ups), "published", len(unsynced), "deleted", len(deleted))
	return ups, nil
}

// OfflineState is the work a Service still has to sync. It lets a short-lived process (the
// CLI) hand offline writes to the next one.
type OfflineState struct {
	Pending  []string `json:"pending,omitempty"`
	Unsynced []string `json:"unsynced,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

func (st OfflineState) Empty() bool {
	return len(st.Pending) == 0 && len(st.Unsynced) == 0 && len(st.Deleted) == 0
}

func (s *Service) OfflineState() OfflineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := OfflineState{Pending: slices.Clone(s.pending), Deleted: slices.Clone(s.deleted)}
	for id := range s.unsynced {
		st.Unsynced = append(st.Unsynced, id)
	}
	slices.Sort(st.Unsynced)
	return st
}

// RestoreOffline merges st into the service's offline bookkeeping; ids already known are kept
// once, in their original creation order.
func (s *Service) RestoreOffline(st OfflineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range st.Pending {
		if !slices.Contains(s.pending, id) {
			s.pending = append(s.pending, id)
		}
	}
	for _, id := range st.Unsynced {
		s.unsynced[id] = struct{}{}
	}
	for _, id := range st.Deleted {
		if !slices.Contains(s.deleted, id) {
			s.deleted = append(s.deleted, id)
		}
	}
}

func (s *Service) offlineKey(t model.Task) string {
	fields := s.cfg.ScopeFields
	if !slices.Contains(fields, "parent_id") {
		fields = append(append([]string{}, fields...), "parent_id")
	}
	return offline.ScopeKey(feed.DefaultTable, fields, position.ScopeValues(t, fields))
}

func (s *Service) get(ctx context.Context, kind, id string) (model.Task, error) {
	t, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Task{}, NotFoundError{Kind: kind, ID: id}
	}
	return t, err
}

func (s *Service) rebalanceIfNeeded(ctx context.Context, scope model.Scope) {
	ups, ran, err := s.rb.RebalanceIfNeeded(ctx, scope)
	if err != nil {
		s.logger.Warn("rebalance failed", "scope", scope.String(), "err", err)
		return
	}
	if ran {
		s.publishUpdates(ctx, ups)
	}
}

func (s *Service) publishUpdates(ctx context.Context, ups []model.PositionUpdate) {
	for _, u := range ups {
		if s.Online() {
			s.publishID(ctx, u.ID)
		} else {
			s.markUnsynced(u.ID)
		}
	}
}

func (s *Service) publishID(ctx context.Context, id string) {
	if s.feed == nil {
		return
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.Warn("reload before publish failed", "task_id", id, "err", err)
		return
	}
	s.publish(ctx, t)
}

// publish is best effort: the row is already stored locally.
func (s *Service) publish(ctx context.Context, t model.Task) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, feed.Upsert(t, s.origin)); err != nil {
		s.logger.Warn("publish failed", "task_id", t.ID, "err", err)
	}
}

func (s *Service) publishDelete(ctx context.Context, id string) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, feed.Delete(id, s.origin)); err != nil {
		s.logger.Warn("publish delete failed", "task_id", id, "err", err)
	}
}

func (s *Service) markUnsynced(id string) {
	s.mu.Lock()
	s.unsynced[id] = struct{}{}
	s.mu.Unlock()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
