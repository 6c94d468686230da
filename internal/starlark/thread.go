package starlark

import (
	"context"
	"log/slog"

	"go.starlark.net/starlark"
)

// DefaultMaxSteps bounds the work one render may do.
const DefaultMaxSteps = uint64(1_000_000)

// Thread-local keys.
const (
	contextKey = "weft.context"
	loggerKey  = "weft.logger"
)

// ThreadOptions configures NewThread.
type ThreadOptions struct {
	MaxSteps uint64
	Logger   *slog.Logger
}

// NewThread creates a thread for one render. The thread carries ctx for
// blocking builtins and is cancelled when ctx is done. The returned stop
// function releases the cancellation hook and must be called when the
// render finishes.
func NewThread(ctx context.Context, name string, opts ThreadOptions) (*starlark.Thread, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	thread := &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			logger.Debug("template print", "thread", t.Name, "msg", msg)
		},
	}
	thread.SetMaxExecutionSteps(maxSteps)
	thread.SetLocal(contextKey, ctx)
	thread.SetLocal(loggerKey, logger)

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	return thread, func() { stop() }
}

// GoContext returns the context attached by NewThread, or Background.
func GoContext(thread *starlark.Thread) context.Context {
	if thread != nil {
		if ctx, ok := thread.Local(contextKey).(context.Context); ok {
			return ctx
		}
	}
	return context.Background()
}

// ThreadLogger returns the logger attached by NewThread, or a discard logger.
func ThreadLogger(thread *starlark.Thread) *slog.Logger {
	if thread != nil {
		if l, ok := thread.Local(loggerKey).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}
