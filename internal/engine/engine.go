// Package engine owns the {current, previous} snapshot pair and the reset
// baseline, and turns them into the reconciled view consumed by the
// dashboard, the exporter and the JSON stream.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/model"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/reconcile"
)

// Engine is safe for concurrent use. All snapshot and baseline mutation
// happens under one mutex.
type Engine struct {
	period time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	current  *model.Snapshot
	previous *model.Snapshot
	baseline model.Baseline
	state    string

	subMu sync.Mutex
	subs  []chan View
}

func New(period time.Duration, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		period:   period,
		log:      log,
		baseline: model.ZeroBaseline(),
		state:    "disconnected",
	}
}

// Commit rotates snap in as current, making the old current previous, and
// clears any baseline group whose counter rolled back. It does nothing and
// returns false once ctx is done, so a tick finishing after teardown
// cannot touch the pair.
func (e *Engine) Commit(ctx context.Context, snap model.Snapshot) bool {
	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return false
	}
	prev := e.current
	before := e.baseline
	e.baseline = reconcile.ReconcileRollback(snap, prev, e.baseline)
	e.previous = prev
	cur := snap.Clone()
	e.current = &cur
	v := e.viewLocked()
	e.publish(v)
	e.mu.Unlock()

	e.logRollback(before, v.Baseline)
	return true
}

func (e *Engine) logRollback(before, after model.Baseline) {
	if before.Render != after.Render {
		e.log.Info("engine: render counter rolled back, baseline cleared")
	}
	if before.Output != after.Output {
		e.log.Info("engine: output counter rolled back, baseline cleared")
	}
	for name, entry := range before.Outputs {
		if after.Outputs[name] != entry {
			e.log.Info("engine: output counter rolled back, baseline cleared", "output", name)
		}
	}
}

// Reset replaces the baseline with the raw counters of the current
// snapshot. It reports false when nothing has been sampled yet.
func (e *Engine) Reset() bool {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return false
	}
	e.baseline = reconcile.Reset(*e.current)
	e.publish(e.viewLocked())
	e.mu.Unlock()

	e.log.Info("engine: baseline reset")
	return true
}

// SetState records the connection state shown alongside the numbers.
func (e *Engine) SetState(state string) {
	e.mu.Lock()
	if e.state == state {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.publish(e.viewLocked())
	e.mu.Unlock()
}

// Pair returns copies of the raw current and previous snapshots.
func (e *Engine) Pair() (current, previous *model.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSnap(e.current), cloneSnap(e.previous)
}

// Baseline returns a copy of the active baseline.
func (e *Engine) Baseline() model.Baseline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline.Clone()
}

// View returns the reconciled view of the current pair.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Subscribe returns a channel that always holds the latest view. Slow
// readers skip intermediate views.
func (e *Engine) Subscribe() <-chan View {
	ch := make(chan View, 1)
	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()
	return ch
}

// publish is called with mu held so views reach subscribers in the order
// they were built. It never blocks.
func (e *Engine) publish(v View) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func cloneSnap(s *model.Snapshot) *model.Snapshot {
	if s == nil {
		return nil
	}
	c := s.Clone()
	return &c
}
