package transport

import (
	"context"
	"fmt"
	"sync"
)

// Responder computes a simulator response for a query. Returning ok=false
// falls back to the static response table.
type Responder func(cmd string) (resp string, ok bool)

// Sim is an in-process Transport backed by a response table. It is used
// by driver tests and the simulated instrument mode, where no hardware is
// attached.
//
// All methods are safe for concurrent use.
type Sim struct {
	mu        sync.Mutex
	connected bool
	responses map[string]string
	responder Responder

	failQueries int
	failSends   int
	instrErrs   []string

	queries []string
	sends   []string
	opens   int
	reopens int
}

// NewSim creates a closed simulator with an empty response table.
func NewSim() *Sim {
	return &Sim{responses: make(map[string]string)}
}

// Respond sets the static response for a query command.
func (s *Sim) Respond(cmd, resp string) {
	s.mu.Lock()
	s.responses[cmd] = resp
	s.mu.Unlock()
}

// SetResponder installs a dynamic responder consulted before the static
// table.
func (s *Sim) SetResponder(r Responder) {
	s.mu.Lock()
	s.responder = r
	s.mu.Unlock()
}

// FailQueries makes the next n queries fail at the transport level.
func (s *Sim) FailQueries(n int) {
	s.mu.Lock()
	s.failQueries = n
	s.mu.Unlock()
}

// FailSends makes the next n sends fail at the transport level.
func (s *Sim) FailSends(n int) {
	s.mu.Lock()
	s.failSends = n
	s.mu.Unlock()
}

// QueueInstrumentError enqueues a message for the next CheckOperation.
func (s *Sim) QueueInstrumentError(msg string) {
	s.mu.Lock()
	s.instrErrs = append(s.instrErrs, msg)
	s.mu.Unlock()
}

// Queries returns the queries seen so far.
func (s *Sim) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// Sends returns the command lines transmitted so far.
func (s *Sim) Sends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sends))
	copy(out, s.sends)
	return out
}

// Opens returns how many times the simulator was opened.
func (s *Sim) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Reopens returns how many times the simulator was reopened.
func (s *Sim) Reopens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopens
}

// Open implements Transport.
func (s *Sim) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		s.connected = true
		s.opens++
	}
	return nil
}

// Close implements Transport.
func (s *Sim) Close(context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Reopen implements Transport.
func (s *Sim) Reopen(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.reopens++
	return nil
}

// Connected implements Transport.
func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Query implements Transport.
func (s *Sim) Query(_ context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", ErrClosed
	}
	s.queries = append(s.queries, cmd)
	if s.failQueries > 0 {
		s.failQueries--
		return "", fmt.Errorf("simulated link failure on %q", cmd)
	}
	if s.responder != nil {
		if resp, ok := s.responder(cmd); ok {
			return resp, nil
		}
	}
	resp, ok := s.responses[cmd]
	if !ok {
		return "", fmt.Errorf("no simulated response for %q", cmd)
	}
	return resp, nil
}

// Send implements Transport.
func (s *Sim) Send(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrClosed
	}
	s.sends = append(s.sends, line)
	if s.failSends > 0 {
		s.failSends--
		return fmt.Errorf("simulated link failure on %q", line)
	}
	return nil
}

// CheckOperation implements Transport. It drains one queued instrument
// error message, if any.
func (s *Sim) CheckOperation(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", ErrClosed
	}
	if len(s.instrErrs) == 0 {
		return "", nil
	}
	msg := s.instrErrs[0]
	s.instrErrs = s.instrErrs[1:]
	return msg, nil
}
