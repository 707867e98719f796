package status

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// LogSink writes status messages to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Report logs msg at the level matching its severity.
func (s *LogSink) Report(msg Message) {
	level := slog.LevelInfo
	switch msg.Severity {
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, msg.Text, "source", "status")
}

// Color palette using ANSI colors for broad terminal compatibility.
var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	infoStyle    = lipgloss.NewStyle()
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// ConsoleSink renders messages as timestamped, severity-colored lines.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink creates a ConsoleSink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Report writes one line for msg.
func (s *ConsoleSink) Report(msg Message) {
	style := infoStyle
	switch msg.Severity {
	case Warning:
		style = warningStyle
	case Error:
		style = errorStyle
	}

	line := fmt.Sprintf("%s %s",
		timeStyle.Render("["+msg.Time.Format("2006-01-02 15:04:05")+"]"),
		style.Render(msg.Text),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, line)
}

// ChanSink streams messages to a front-end over a buffered channel.
// Report never blocks; messages are dropped when the buffer is full.
type ChanSink struct {
	ch      chan Message
	dropped atomic.Int64
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{ch: make(chan Message, size)}
}

// Report enqueues msg or drops it if the buffer is full.
func (s *ChanSink) Report(msg Message) {
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Messages returns the receive side of the stream.
func (s *ChanSink) Messages() <-chan Message {
	return s.ch
}

// Dropped returns the number of messages dropped because the buffer was full.
func (s *ChanSink) Dropped() int64 {
	return s.dropped.Load()
}

// Recorder keeps every message in memory. Useful for tests and summaries.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

// Report records msg.
func (r *Recorder) Report(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// Messages returns a copy of all recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Count returns how many recorded messages have the given severity.
func (r *Recorder) Count(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Severity == sev {
			n++
		}
	}
	return n
}
