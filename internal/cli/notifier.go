package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/focussync/internal/syncer"
)

var levelMarks = map[syncer.Level]string{
	syncer.LevelSuccess: "ok",
	syncer.LevelInfo:    "..",
	syncer.LevelWarning: "!!",
	syncer.LevelError:   "xx",
}

// Notifier prints orchestrator notifications between REPL lines.
type Notifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewNotifier(w io.Writer) *Notifier {
	return &Notifier{w: w}
}

func (n *Notifier) Notify(_ context.Context, level syncer.Level, msg string) {
	mark, ok := levelMarks[level]
	if !ok {
		mark = string(level)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "[%s] %s\n", mark, msg)
}
