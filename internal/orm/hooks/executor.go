package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/record"
)

var errNoQueue = errors.New("async queue not configured")

// Executor holds hooks per lifecycle point and runs them in registration order
type Executor struct {
	mu     sync.RWMutex
	hooks  [numTypes][]*Hook
	queue  *AsyncQueue
	logger *zap.Logger
}

// NewExecutor creates a hook executor. queue may be nil when no async hooks
// are registered.
func NewExecutor(queue *AsyncQueue, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{queue: queue, logger: logger}
}

// Register adds hook at lifecycle point t. Unknown types are ignored.
func (e *Executor) Register(t Type, hook *Hook) {
	if !t.valid() {
		return
	}
	hook.Type = t
	e.mu.Lock()
	e.hooks[t] = append(e.hooks[t], hook)
	e.mu.Unlock()
}

// On registers a synchronous hook for model ("" for every model)
func (e *Executor) On(t Type, model string, fn HookFunc) {
	e.Register(t, &Hook{Model: model, Fn: fn})
}

// OnAsync registers an async hook for model ("" for every model)
func (e *Executor) OnAsync(t Type, model string, fn HookFunc) {
	e.Register(t, &Hook{Model: model, Fn: fn, Async: true})
}

// HasHooks reports whether anything is registered at t
func (e *Executor) HasHooks(t Type) bool {
	return len(e.snapshot(t)) > 0
}

func (e *Executor) snapshot(t Type) []*Hook {
	if !t.valid() {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hooks[t]
}

// Execute runs the hooks at t that apply to rec. The first synchronous
// failure stops execution and is returned.
func (e *Executor) Execute(ctx *Context, t Type, rec *record.Record) error {
	for _, hook := range e.snapshot(t) {
		if !hook.appliesTo(rec) {
			continue
		}
		if hook.Async {
			if err := e.enqueue(ctx, hook, rec); err != nil {
				e.logger.Warn("failed to enqueue async hook",
					zap.Stringer("hook", t),
					zap.String("model", rec.Model()),
					zap.Error(err))
			}
			continue
		}
		if err := hook.Fn(ctx, rec); err != nil {
			return fmt.Errorf("hook %s failed: %w", t, err)
		}
	}
	return nil
}

func (e *Executor) enqueue(ctx *Context, hook *Hook, rec *record.Record) error {
	if e.queue == nil {
		return errNoQueue
	}
	snapshot := rec.Clone()
	actor, changes := ctx.actor, ctx.changes
	return e.queue.Enqueue(AsyncTask{
		Name: hook.Type.String() + "_hook",
		Fn: func(qctx context.Context) error {
			return hook.Fn(NewContext(qctx, actor).WithChanges(changes), snapshot)
		},
	})
}

// Close drains the async queue
func (e *Executor) Close() {
	if e.queue != nil {
		e.queue.Shutdown()
	}
}
