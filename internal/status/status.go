// Package status carries human-readable progress and problem reports from the
// backup core to whatever front-end is attached.
package status

import (
	"fmt"
	"time"
)

// Severity tags a status message.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Message is one status line.
type Message struct {
	Time     time.Time
	Severity Severity
	Text     string
}

// Sink receives status messages. Implementations must not block for long;
// the watch worker calls Report inline.
type Sink interface {
	Report(msg Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg Message)

// Report calls f(msg).
func (f SinkFunc) Report(msg Message) {
	f(msg)
}

// Discard drops every message.
var Discard Sink = SinkFunc(func(Message) {})

// Infof reports an Info message.
func Infof(s Sink, format string, args ...any) {
	report(s, Info, format, args...)
}

// Warnf reports a Warning message.
func Warnf(s Sink, format string, args ...any) {
	report(s, Warning, format, args...)
}

// Errorf reports an Error message.
func Errorf(s Sink, format string, args ...any) {
	report(s, Error, format, args...)
}

func report(s Sink, sev Severity, format string, args ...any) {
	if s == nil {
		return
	}
	s.Report(Message{
		Time:     time.Now(),
		Severity: sev,
		Text:     fmt.Sprintf(format, args...),
	})
}

// Multi fans a message out to several sinks in order.
type Multi []Sink

// Report forwards msg to every sink.
func (m Multi) Report(msg Message) {
	for _, s := range m {
		if s != nil {
			s.Report(msg)
		}
	}
}
