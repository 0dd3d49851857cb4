package sandbox

import (
	"sync"
)

// Supervisor tracks at most one live execution per session and enforces
// preemption: a new execute request for a session stops the previous
// execution before the replacement is installed.
type Supervisor struct {
	runner Runner

	mu     sync.Mutex
	active map[string]Execution
}

// NewSupervisor creates a supervisor over the given runner.
func NewSupervisor(runner Runner) *Supervisor {
	return &Supervisor{
		runner: runner,
		active: make(map[string]Execution),
	}
}

// Execute starts a new execution for the session. Any execution already
// tracked for the session is stopped and removed first; the map transition
// happens under one lock so two starts for the same session cannot
// interleave. Once a successor is installed, the preempted run's remaining
// events (late output, its terminal event) are dropped so they cannot be
// mistaken for the successor's. The finished event removes the tracked
// entry here, not in the runner.
func (s *Supervisor) Execute(req Request, onEvent EventFunc) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.active[req.SessionID]; ok {
		prev.Stop()
		delete(s.active, req.SessionID)
	}

	var exec Execution
	wrapped := func(ev Event) {
		s.mu.Lock()
		if cur, ok := s.active[req.SessionID]; ok && cur != exec {
			// A successor replaced this execution.
			s.mu.Unlock()
			return
		}
		if ev.Type == EventFinished {
			delete(s.active, req.SessionID)
		}
		s.mu.Unlock()
		onEvent(ev)
	}

	started, err := s.runner.Start(req, wrapped)
	if err != nil {
		return nil, err
	}
	exec = started
	s.active[req.SessionID] = started
	return started, nil
}

// Get returns the live execution for a session, if any.
func (s *Supervisor) Get(sessionID string) (Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[sessionID]
	return e, ok
}

// SendInput forwards a line of stdin to the session's live execution.
// Returns false when there is none or its input stream is unavailable.
func (s *Supervisor) SendInput(sessionID, text string) bool {
	e, ok := s.Get(sessionID)
	if !ok {
		return false
	}
	return e.SendInput(text)
}

// Stop terminates the session's live execution, if any.
func (s *Supervisor) Stop(sessionID string) {
	s.mu.Lock()
	e, ok := s.active[sessionID]
	if ok {
		delete(s.active, sessionID)
	}
	s.mu.Unlock()
	if ok {
		e.Stop()
	}
}

// CloseAll stops every live execution.
func (s *Supervisor) CloseAll() {
	s.mu.Lock()
	execs := make([]Execution, 0, len(s.active))
	for id, e := range s.active {
		execs = append(execs, e)
		delete(s.active, id)
	}
	s.mu.Unlock()
	for _, e := range execs {
		e.Stop()
	}
}
