// Package feed carries task row changes between clients and keeps a local replica of a table.
package feed

import (
	"context"
	"errors"

	"bos-cli/internal/model"
)

// DefaultTable is the table tasks are published under.
const DefaultTable = "tasks"

// ErrClosed is returned by a Transport after Close.
var ErrClosed = errors.New("feed: transport closed")

// Transport publishes change events and delivers them to subscribers of the same table.
//
// Subscribe returns a channel that is closed when ctx is done or the transport is closed.
// Snapshot returns the current rows of a table as last published.
type Transport interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
	Subscribe(ctx context.Context, table string) (<-chan model.ChangeEvent, error)
	Snapshot(ctx context.Context, table string) ([]model.Task, error)
	Close() error
}

func tableOf(ev model.ChangeEvent) string {
	if ev.Table == "" {
		return DefaultTable
	}
	return ev.Table
}

func eventID(ev model.ChangeEvent) string {
	if ev.ID != "" {
		return ev.ID
	}
	if ev.Task != nil {
		return ev.Task.ID
	}
	if id, ok := ev.Row["id"].(string); ok {
		return id
	}
	return ""
}

func validate(ev model.ChangeEvent) error {
	switch ev.Op {
	case model.ChangeUpsert:
		if ev.Task == nil && ev.Row == nil {
			return errors.New("feed: upsert without task")
		}
	case model.ChangeDelete:
	default:
		return errors.New("feed: unknown op " + string(ev.Op))
	}
	if eventID(ev) == "" {
		return errors.New("feed: event without id")
	}
	return nil
}

// Upsert builds an upsert event for t.
func Upsert(t model.Task, origin string) model.ChangeEvent {
	tc := t
	return model.ChangeEvent{Op: model.ChangeUpsert, Table: DefaultTable, ID: t.ID, Task: &tc, Origin: origin, TS: model.Now()}
}

// Delete builds a delete event for id.
func Delete(id, origin string) model.ChangeEvent {
	return model.ChangeEvent{Op: model.ChangeDelete, Table: DefaultTable, ID: id, Origin: origin, TS: model.Now()}
}
