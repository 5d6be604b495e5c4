package hooking

import (
	"context"
	"fmt"
	"log/slog"
)

// LogHook writes every hook invocation it receives into a structured logger.
type LogHook struct {
	logger *slog.Logger
	level  slog.Level
	filter map[*HookPos]bool
}

// NewLogHook returns a LogHook that logs at the given level. When positions
// are given, only those positions are logged.
func NewLogHook(logger *slog.Logger, level slog.Level, pos ...*HookPos) *LogHook {
	h := &LogHook{
		logger: logger,
		level:  level,
	}

	if len(pos) > 0 {
		h.filter = make(map[*HookPos]bool, len(pos))
		for _, p := range pos {
			h.filter[p] = true
		}
	}

	return h
}

type named interface {
	Name() string
}

// Func writes the hook information into the logger.
func (h *LogHook) Func(ctx HookCtx) {
	if h.filter != nil && !h.filter[ctx.Pos] {
		return
	}

	attrs := []slog.Attr{slog.String("pos", ctx.Pos.Name)}

	if d, ok := ctx.Domain.(named); ok {
		attrs = append(attrs, slog.String("domain", d.Name()))
	}

	if ctx.Item != nil {
		attrs = append(attrs, slog.String("item", fmt.Sprint(ctx.Item)))
	}

	if ctx.Detail != nil {
		attrs = append(attrs, slog.String("detail", fmt.Sprint(ctx.Detail)))
	}

	h.logger.LogAttrs(context.Background(), h.level, "hook", attrs...)
}
