package toast

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rickgao/alert-feed/internal/model"
)

// NopNotifier never shows anything.
type NopNotifier struct{}

// RequestPermission always denies.
func (NopNotifier) RequestPermission(context.Context) Permission { return PermissionDenied }

// Show does nothing.
func (NopNotifier) Show(model.Alert) {}

// ConsoleNotifier writes one line per toast to a terminal or log stream.
type ConsoleNotifier struct {
	mu    sync.Mutex
	w     io.Writer
	title cases.Caser
}

// NewConsoleNotifier creates a notifier writing to w.
func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{
		w:     w,
		title: cases.Title(language.English),
	}
}

// RequestPermission always grants; a terminal needs no consent.
func (n *ConsoleNotifier) RequestPermission(context.Context) Permission {
	return PermissionGranted
}

// Show writes "[Severity] 15:04:05 #id message".
func (n *ConsoleNotifier) Show(a model.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts := a.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	// cases.Caser is stateful and not safe for concurrent use.
	label := n.title.String(string(a.Severity))
	fmt.Fprintf(n.w, "[%s] %s #%s %s\n", label, ts.Format(time.TimeOnly), a.ID, a.Message)
}
