// Package hooking lets routing components expose their internal activity to
// loggers, metrics collectors, and recorders.
package hooking

import "slices"

// HookPos names a place where a component invokes its hooks. Positions are
// compared by pointer, so each one is declared once as a package variable.
type HookPos struct {
	Name string
}

// HookCtx describes one hook invocation. Item is the object the position is
// about and Detail carries what else the position documents.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable is implemented by components that hooks can be attached to.
type Hookable interface {
	// AcceptHook attaches a hook.
	AcceptHook(hook Hook)

	// NumHooks returns how many hooks are attached.
	NumHooks() int

	// Hooks returns the attached hooks in attachment order.
	Hooks() []Hook
}

// Hook receives the invocations of the components it is attached to.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements Hookable. Components embed it and call InvokeHook.
type HookableBase struct {
	hooks []Hook
}

// NumHooks returns how many hooks are attached.
func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

// Hooks returns the attached hooks in attachment order.
func (h *HookableBase) Hooks() []Hook {
	return h.hooks
}

// AcceptHook attaches a hook. Attaching the same hook twice panics; plain
// functions cannot be compared and are never considered duplicates.
func (h *HookableBase) AcceptHook(hook Hook) {
	if _, isFunc := hook.(HookFunc); !isFunc && slices.Contains(h.hooks, hook) {
		panic("hook attached twice")
	}

	h.hooks = append(h.hooks, hook)
}

// InvokeHook calls every attached hook with ctx.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
