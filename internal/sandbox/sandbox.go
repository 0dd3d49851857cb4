// Package sandbox runs user-submitted code in isolated, resource-bounded
// runtime processes and streams their output back incrementally.
package sandbox

import "errors"

// ErrUnsupportedLanguage is returned when no runtime spec exists for the
// requested language id.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// EventType discriminates the three kinds of execution events.
type EventType int

const (
	// EventOutput carries a chunk of stdout/stderr text.
	EventOutput EventType = iota
	// EventInputWait signals that the process appears to be waiting for
	// stdin. Heuristic, may fire on ordinary output.
	EventInputWait
	// EventFinished is the terminal event for an execution.
	EventFinished
)

// Event is one item in an execution's output stream.
type Event struct {
	Type     EventType
	Data     string
	ExitCode int
	Err      bool // launch failure or abnormal termination
}

// EventFunc receives execution events in process order.
type EventFunc func(Event)

// Request describes one code execution.
type Request struct {
	SessionID    string
	WorkspaceDir string
	Language     string
	Source       string
}

// Execution is a live sandboxed process.
type Execution interface {
	// SessionID returns the owning session.
	SessionID() string
	// SendInput writes a line to the process's stdin, appending a newline
	// if absent. Returns false if the input stream is unavailable.
	SendInput(text string) bool
	// Stop terminates the process and removes its backing environment.
	// Idempotent.
	Stop()
}

// Runner launches sandboxed executions. Implementations deliver events from
// the execution's own goroutines, never synchronously from Start.
type Runner interface {
	Start(req Request, onEvent EventFunc) (Execution, error)
}
