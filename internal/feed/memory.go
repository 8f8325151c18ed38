package feed

import (
	"context"
	"sync"

	"bos-cli/internal/model"
	"bos-cli/internal/position"
)

// MemoryTransport fans events out to in-process subscribers. Delivery blocks until every
// subscriber takes the event or its context ends.
type MemoryTransport struct {
	mu     sync.Mutex
	subs   map[string]map[*memSub]struct{}
	rows   map[string]map[string]model.Task
	closed bool
}

type memSub struct {
	ch   chan model.ChangeEvent
	done chan struct{}
	ctx  context.Context

	mu   sync.Mutex // held while sending so close never races a send
	once sync.Once
}

func newMemSub(ctx context.Context) *memSub {
	return &memSub{ch: make(chan model.ChangeEvent, 64), done: make(chan struct{}), ctx: ctx}
}

func (s *memSub) send(ctx context.Context, ev model.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	case <-s.ctx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *memSub) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs: map[string]map[*memSub]struct{}{},
		rows: map[string]map[string]model.Task{},
	}
}

func (m *MemoryTransport) Publish(ctx context.Context, ev model.ChangeEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	table := tableOf(ev)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	rows := m.rows[table]
	if rows == nil {
		rows = map[string]model.Task{}
		m.rows[table] = rows
	}
	switch ev.Op {
	case model.ChangeUpsert:
		if t, ok := taskOf(ev, position.Config{}); ok {
			rows[t.ID] = t
		}
	case model.ChangeDelete:
		delete(rows, eventID(ev))
	}
	subs := make([]*memSub, 0, len(m.subs[table]))
	for s := range m.subs[table] {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		if err := s.send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryTransport) Subscribe(ctx context.Context, table string) (<-chan model.ChangeEvent, error) {
	if table == "" {
		table = DefaultTable
	}
	s := newMemSub(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.subs[table] == nil {
		m.subs[table] = map[*memSub]struct{}{}
	}
	m.subs[table][s] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		m.mu.Lock()
		delete(m.subs[table], s)
		m.mu.Unlock()
		s.close()
	}()
	return s.ch, nil
}

func (m *MemoryTransport) Snapshot(_ context.Context, table string) ([]model.Task, error) {
	if table == "" {
		table = DefaultTable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Task, 0, len(m.rows[table]))
	for _, t := range m.rows[table] {
		out = append(out, t)
	}
	return position.SortTasksInPlace(out), nil
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for s := range subs {
			s.close()
		}
	}
	m.subs = map[string]map[*memSub]struct{}{}
	return nil
}

// taskOf returns the typed task of an upsert, decoding Row when Task is absent.
func taskOf(ev model.ChangeEvent, cfg position.Config) (model.Task, bool) {
	if ev.Task != nil {
		return *ev.Task, true
	}
	if ev.Row != nil {
		return position.FromRow(ev.Row, cfg)
	}
	return model.Task{}, false
}
