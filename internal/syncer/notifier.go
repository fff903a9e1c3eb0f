package syncer

import (
	"context"

	"github.com/dmitrijs2005/focussync/internal/logging"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows short user-facing messages. It is fire-and-forget;
// correctness never depends on it.
type Notifier interface {
	Notify(ctx context.Context, level Level, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, level Level, msg string)

func (f NotifierFunc) Notify(ctx context.Context, level Level, msg string) { f(ctx, level, msg) }

// LogNotifier writes notifications to a Logger.
type LogNotifier struct {
	log logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{log: l.With("module", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, level Level, msg string) {
	switch level {
	case LevelError:
		n.log.Error(ctx, msg)
	case LevelWarning:
		n.log.Warn(ctx, msg)
	default:
		n.log.Info(ctx, msg, "level", string(level))
	}
}
