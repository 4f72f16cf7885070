package txn

import (
	"sync"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind names the contract write an action performs.
type Kind string

const (
	KindTransfer           Kind = "transfer"
	KindRegisterInvestor   Kind = "register_investor"
	KindUpdateInvestor     Kind = "update_investor"
	KindRevokeInvestor     Kind = "revoke_investor"
	KindFreezeAccount      Kind = "freeze_account"
	KindUnfreezeAccount    Kind = "unfreeze_account"
	KindForceTransfer      Kind = "force_transfer"
	KindSetLegalDocument   Kind = "set_legal_document"
	KindSetInvestmentLimit Kind = "set_investment_limits"
)

// Action is one submitted write and its lifecycle. The runner owns all
// mutation; readers take snapshots.
type Action struct {
	ID        uuid.UUID
	Kind      Kind
	Account   common.Address
	Params    map[string]string
	CreatedAt time.Time

	mu        sync.RWMutex
	state     State
	updatedAt time.Time
	done      chan struct{}
}

func newAction(kind Kind, account common.Address, params map[string]string, now time.Time) *Action {
	return &Action{
		ID:        uuid.New(),
		Kind:      kind,
		Account:   account,
		Params:    params,
		CreatedAt: now,
		state:     Idle{},
		updatedAt: now,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (a *Action) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Done is closed once the action reached Succeeded or Failed.
func (a *Action) Done() <-chan struct{} {
	return a.done
}

func (a *Action) apply(e Event, now time.Time) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := Apply(a.state, e)
	if err != nil {
		return a.state, err
	}
	a.state = next
	a.updatedAt = now
	switch next.(type) {
	case Succeeded, Failed:
		close(a.done)
	}
	return next, nil
}

// Record is a flat snapshot of an action for storage, events and JSON.
type Record struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	Account   string            `json:"account"`
	Phase     Phase             `json:"phase"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Error     string            `json:"error,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Block     uint64            `json:"block,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Snapshot returns the action as a Record.
func (a *Action) Snapshot() Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec := Record{
		ID:        a.ID,
		Kind:      a.Kind,
		Account:   a.Account.Hex(),
		Phase:     a.state.Phase(),
		Params:    a.Params,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.updatedAt,
	}
	if h, ok := HashOf(a.state); ok {
		rec.TxHash = h.Hex()
	}
	if err := ErrOf(a.state); err != nil {
		rec.Error = err.Error()
	}
	if s, ok := a.state.(Succeeded); ok && s.Receipt != nil {
		rec.Block = s.Receipt.BlockNumber
	}
	return rec
}

// Receipt returns the receipt of a succeeded action.
func (a *Action) Receipt() *chain.Receipt {
	if s, ok := a.State().(Succeeded); ok {
		return s.Receipt
	}
	return nil
}
