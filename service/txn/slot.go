package txn

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when a slot's action is still pending or confirming.
var ErrBusy = errors.New("an action is already in progress")

// Slot holds at most one action, e.g. one admin form in one session.
type Slot struct {
	mu     sync.Mutex
	action *Action
}

// Submit starts req unless the current action is in flight.
func (s *Slot) Submit(ctx context.Context, r *Runner, req Request) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.action != nil && InFlight(s.action.State()) {
		return nil, ErrBusy
	}
	a, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	s.action = a
	return a, nil
}

// Action returns the current action or nil.
func (s *Slot) Action() *Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.action
}

// State returns the current lifecycle, Idle when nothing was submitted.
func (s *Slot) State() State {
	if a := s.Action(); a != nil {
		return a.State()
	}
	return Idle{}
}

// Busy reports whether the slot refuses new submissions.
func (s *Slot) Busy() bool {
	return InFlight(s.State())
}

// Reset clears a finished action.
func (s *Slot) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.action == nil {
		return nil
	}
	if _, err := Apply(s.action.State(), Reset{}); err != nil {
		return ErrBusy
	}
	s.action = nil
	return nil
}
