// Package txn tracks the lifecycle of contract writes. A lifecycle is one
// of Idle, Pending, Confirming, Succeeded or Failed and moves only through
// Apply.
package txn

import (
	"errors"
	"fmt"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidTransition is returned when an event does not apply to a state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Phase names the variant of a State.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePending    Phase = "pending"
	PhaseConfirming Phase = "confirming"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// State is the lifecycle of one write. The concrete types below are the
// only implementations.
type State interface {
	Phase() Phase
	isState()
}

// Idle: nothing submitted.
type Idle struct{}

// Pending: waiting for the wallet to sign and broadcast.
type Pending struct{}

// Confirming: broadcast, waiting for the receipt.
type Confirming struct {
	Hash common.Hash
}

// Succeeded: mined successfully.
type Succeeded struct {
	Hash    common.Hash
	Receipt *chain.Receipt
}

// Failed: rejected, reverted or timed out. Hash is nil when the failure
// happened before broadcast.
type Failed struct {
	Hash *common.Hash
	Err  error
}

func (Idle) Phase() Phase       { return PhaseIdle }
func (Pending) Phase() Phase    { return PhasePending }
func (Confirming) Phase() Phase { return PhaseConfirming }
func (Succeeded) Phase() Phase  { return PhaseSucceeded }
func (Failed) Phase() Phase     { return PhaseFailed }

func (Idle) isState()       {}
func (Pending) isState()    {}
func (Confirming) isState() {}
func (Succeeded) isState()  {}
func (Failed) isState()     {}

// Event drives a transition.
type Event interface {
	isEvent()
}

// Submit starts a new write.
type Submit struct{}

// WalletConfirmed: the wallet returned a transaction hash.
type WalletConfirmed struct {
	Hash common.Hash
}

// ChainConfirmed: the receipt arrived and the transaction succeeded.
type ChainConfirmed struct {
	Receipt *chain.Receipt
}

// Errored: the wallet, the node or the receipt reported a failure.
type Errored struct {
	Err error
}

// Reset clears a finished lifecycle.
type Reset struct{}

func (Submit) isEvent()          {}
func (WalletConfirmed) isEvent() {}
func (ChainConfirmed) isEvent()  {}
func (Errored) isEvent()         {}
func (Reset) isEvent()           {}

// InFlight reports whether s is Pending or Confirming.
func InFlight(s State) bool {
	switch s.(type) {
	case Pending, Confirming:
		return true
	}
	return false
}

// Apply returns the state that follows s on e.
func Apply(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case Submit:
		if InFlight(s) {
			return s, fmt.Errorf("%w: submit while %s", ErrInvalidTransition, s.Phase())
		}
		return Pending{}, nil

	case WalletConfirmed:
		if _, ok := s.(Pending); !ok {
			return s, fmt.Errorf("%w: wallet confirmation while %s", ErrInvalidTransition, s.Phase())
		}
		return Confirming{Hash: ev.Hash}, nil

	case ChainConfirmed:
		c, ok := s.(Confirming)
		if !ok {
			return s, fmt.Errorf("%w: chain confirmation while %s", ErrInvalidTransition, s.Phase())
		}
		return Succeeded{Hash: c.Hash, Receipt: ev.Receipt}, nil

	case Errored:
		switch st := s.(type) {
		case Pending:
			return Failed{Err: ev.Err}, nil
		case Confirming:
			hash := st.Hash
			return Failed{Hash: &hash, Err: ev.Err}, nil
		}
		return s, fmt.Errorf("%w: error while %s", ErrInvalidTransition, s.Phase())

	case Reset:
		if InFlight(s) {
			return s, fmt.Errorf("%w: reset while %s", ErrInvalidTransition, s.Phase())
		}
		return Idle{}, nil
	}
	return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, e)
}

// HashOf returns the transaction hash carried by s, if any.
func HashOf(s State) (common.Hash, bool) {
	switch st := s.(type) {
	case Confirming:
		return st.Hash, true
	case Succeeded:
		return st.Hash, true
	case Failed:
		if st.Hash != nil {
			return *st.Hash, true
		}
	}
	return common.Hash{}, false
}

// ErrOf returns the error carried by a Failed state.
func ErrOf(s State) error {
	if f, ok := s.(Failed); ok {
		return f.Err
	}
	return nil
}
