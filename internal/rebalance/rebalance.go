// Package rebalance respaces a sibling scope whose positions have run out of room.
package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"bos-cli/internal/model"
	"bos-cli/internal/position"
)

const (
	DefaultMinGap  = 2
	DefaultSpacing = position.DefaultSpacing
)

// DefaultCeiling leaves half of the float64 exact-integer range as headroom.
var DefaultCeiling = math.Pow(2, 53) / 2

type Options struct {
	// MinGap is the smallest acceptable distance between adjacent positions.
	MinGap float64
	// Ceiling is the largest acceptable absolute position.
	Ceiling float64
	// Spacing is the distance between respaced positions.
	Spacing float64
}

func DefaultOptions() Options {
	return Options{MinGap: DefaultMinGap, Ceiling: DefaultCeiling, Spacing: DefaultSpacing}
}

func (o Options) withDefaults() Options {
	if o.MinGap <= 0 {
		o.MinGap = DefaultMinGap
	}
	if o.Ceiling <= 0 {
		o.Ceiling = DefaultCeiling
	}
	if o.Spacing <= 0 {
		o.Spacing = DefaultSpacing
	}
	return o
}

// Reason explains why a scope needs respacing. The zero value means it does not.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonGap     Reason = "gap"
	ReasonCeiling Reason = "ceiling"
)

// Check reports whether tasks (one scope) need a rebalance.
func Check(tasks []model.Task, opts Options) Reason {
	opts = opts.withDefaults()
	sorted := position.SortTasks(tasks)
	for i, t := range sorted {
		if math.Abs(t.Position) >= opts.Ceiling {
			return ReasonCeiling
		}
		if i > 0 && t.Position-sorted[i-1].Position < opts.MinGap {
			return ReasonGap
		}
	}
	return ReasonNone
}

// NeedsRebalance is Check(tasks, opts) != ReasonNone.
func NeedsRebalance(tasks []model.Task, opts Options) bool {
	return Check(tasks, opts) != ReasonNone
}

// Plan assigns Spacing, 2*Spacing, ... in comparator order. Only tasks whose position changes
// are returned, and each returned update clears RepositionedAfterID.
func Plan(tasks []model.Task, opts Options) []model.PositionUpdate {
	opts = opts.withDefaults()
	sorted := position.SortTasks(tasks)
	var out []model.PositionUpdate
	for i, t := range sorted {
		want := float64(i+1) * opts.Spacing
		if t.Position == want {
			continue
		}
		out = append(out, model.PositionUpdate{
			ID:       t.ID,
			Position: want,
			ParentID: model.ID(t.Parent()),
		})
	}
	return out
}

// Store is the persistence a Rebalancer needs. ApplyPositions must be atomic.
type Store interface {
	ListScope(ctx context.Context, scope model.Scope) ([]model.Task, error)
	ApplyPositions(ctx context.Context, updates []model.PositionUpdate) error
}

type Rebalancer struct {
	Store  Store
	Opts   Options
	Logger *slog.Logger
}

func New(st Store, opts Options, logger *slog.Logger) *Rebalancer {
	return &Rebalancer{Store: st, Opts: opts, Logger: logger}
}

func (r *Rebalancer) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Rebalance respaces scope unconditionally and returns the applied updates.
func (r *Rebalancer) Rebalance(ctx context.Context, scope model.Scope) ([]model.PositionUpdate, error) {
	tasks, err := r.Store.ListScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("rebalance %s: list: %w", scope, err)
	}
	return r.apply(ctx, scope, tasks, ReasonNone)
}

// RebalanceIfNeeded respaces scope only when Check reports a reason. The bool reports whether a
// rebalance ran.
func (r *Rebalancer) RebalanceIfNeeded(ctx context.Context, scope model.Scope) ([]model.PositionUpdate, bool, error) {
	tasks, err := r.Store.ListScope(ctx, scope)
	if err != nil {
		return nil, false, fmt.Errorf("rebalance %s: list: %w", scope, err)
	}
	reason := Check(tasks, r.Opts)
	if reason == ReasonNone {
		return nil, false, nil
	}
	ups, err := r.apply(ctx, scope, tasks, reason)
	return ups, err == nil, err
}

func (r *Rebalancer) apply(ctx context.Context, scope model.Scope, tasks []model.Task, reason Reason) ([]model.PositionUpdate, error) {
	ups := Plan(tasks, r.Opts)
	if len(ups) == 0 {
		return nil, nil
	}
	if err := r.Store.ApplyPositions(ctx, ups); err != nil {
		return nil, fmt.Errorf("rebalance %s: apply: %w", scope, err)
	}
	r.logger().Info("rebalanced scope", "scope", scope.String(), "reason", string(reason), "tasks", len(tasks), "changed", len(ups))
	return ups, nil
}
