// Package notify carries user-visible notices out of the recorder and the
// sync engine.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Level is the tone of a notice. Saved-offline is still Success.
type Level int

const (
	Info Level = iota
	Success
	Error
)

// Notice is one message for the user.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Notifier shows notices.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
)

// Writer prints notices as styled lines.
type Writer struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriter prints to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{W: w}
}

func (w *Writer) Notify(n Notice) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var mark string
	switch n.Level {
	case Success:
		mark = successStyle.Render("✓")
	case Error:
		mark = errorStyle.Render("✗")
	default:
		mark = infoStyle.Render("•")
	}
	if n.Message == "" {
		fmt.Fprintf(w.W, "%s %s\n", mark, n.Title)
		return
	}
	fmt.Fprintf(w.W, "%s %s: %s\n", mark, n.Title, n.Message)
}
