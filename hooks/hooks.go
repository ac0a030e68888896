// Package hooks is the extension pipeline of the recorder: four ordered
// stages that let cross-cutting behaviour (forwarding, filtering, metrics)
// attach to a recording without the orchestrator knowing about it.
//
// All hooks of a stage run synchronously, in registration order. The first
// error aborts the rest of that stage and is returned to the caller.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hazyhaar/domreplay/event"
)

// Stage names an extension point.
type Stage string

const (
	StageBeforeRun Stage = "beforeRun" // once, before any capture
	StageRun       Stage = "run"       // once, after watchers are active
	StageEmit      Stage = "emit"      // once per record
	StageEnd       Stage = "end"       // on session termination
)

// ErrDrop may be returned by an emit hook to filter an incremental record.
// It stops the stage like any error; structural records (HEAD, SNAPSHOT,
// TERMINATE) are never dropped.
var ErrDrop = errors.New("hooks: drop record")

// LifecycleHook runs at beforeRun, run and end.
type LifecycleHook func(ctx context.Context) error

// EmitHook runs for every record produced by the recorder.
type EmitHook func(ctx context.Context, rec event.RecordData) error

// HookError identifies the hook that aborted a stage.
type HookError struct {
	Stage Stage
	Index int
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hooks: %s[%d]: %v", e.Stage, e.Index, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Plugin installs hooks into a registry.
type Plugin interface {
	Apply(r *Registry)
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(r *Registry)

func (f PluginFunc) Apply(r *Registry) { f(r) }

// Registry holds the hooks of one recorder instance.
type Registry struct {
	mu        sync.RWMutex
	beforeRun []LifecycleHook
	run       []LifecycleHook
	emit      []EmitHook
	end       []LifecycleHook
}

// New creates an empty registry and applies plugins in order.
func New(plugins ...Plugin) *Registry {
	r := &Registry{}
	r.Use(plugins...)
	return r
}

// Use applies plugins in order.
func (r *Registry) Use(plugins ...Plugin) {
	for _, p := range plugins {
		if p != nil {
			p.Apply(r)
		}
	}
}

// OnBeforeRun registers a setup hook.
func (r *Registry) OnBeforeRun(h LifecycleHook) {
	if r == nil || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeRun = append(r.beforeRun, h)
}

// OnRun registers a hook signalling that capture is live.
func (r *Registry) OnRun(h LifecycleHook) {
	if r == nil || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = append(r.run, h)
}

// OnEmit registers a per-record hook.
func (r *Registry) OnEmit(h EmitHook) {
	if r == nil || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit = append(r.emit, h)
}

// OnEnd registers a teardown hook.
func (r *Registry) OnEnd(h LifecycleHook) {
	if r == nil || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.end = append(r.end, h)
}

// CallBeforeRun runs the beforeRun stage.
func (r *Registry) CallBeforeRun(ctx context.Context) error {
	return r.callLifecycle(ctx, StageBeforeRun)
}

// CallRun runs the run stage.
func (r *Registry) CallRun(ctx context.Context) error {
	return r.callLifecycle(ctx, StageRun)
}

// CallEnd runs the end stage.
func (r *Registry) CallEnd(ctx context.Context) error {
	return r.callLifecycle(ctx, StageEnd)
}

// CallEmit runs the emit stage for one record.
func (r *Registry) CallEmit(ctx context.Context, rec event.RecordData) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	handlers := make([]EmitHook, len(r.emit))
	copy(handlers, r.emit)
	r.mu.RUnlock()

	for i, h := range handlers {
		if err := h(ctx, rec); err != nil {
			return &HookError{Stage: StageEmit, Index: i, Err: err}
		}
	}
	return nil
}

// Len returns the number of hooks registered for a stage.
func (r *Registry) Len(s Stage) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch s {
	case StageBeforeRun:
		return len(r.beforeRun)
	case StageRun:
		return len(r.run)
	case StageEmit:
		return len(r.emit)
	case StageEnd:
		return len(r.end)
	}
	return 0
}

func (r *Registry) callLifecycle(ctx context.Context, s Stage) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	var src []LifecycleHook
	switch s {
	case StageBeforeRun:
		src = r.beforeRun
	case StageRun:
		src = r.run
	case StageEnd:
		src = r.end
	}
	handlers := make([]LifecycleHook, len(src))
	copy(handlers, src)
	r.mu.RUnlock()

	for i, h := range handlers {
		if err := h(ctx); err != nil {
			return &HookError{Stage: s, Index: i, Err: err}
		}
	}
	return nil
}
