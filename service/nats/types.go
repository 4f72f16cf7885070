package nats

import (
	"strings"
	"time"

	"github.com/brojonat/idproperty/service/txn"
)

// ActionEvent is published to "actions.{account}" after every lifecycle
// transition of a dashboard action.
type ActionEvent struct {
	ActionID string `json:"action_id"`
	Kind     string `json:"kind"`
	Account  string `json:"account"`

	Phase  string `json:"phase"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
	Block  uint64 `json:"block,omitempty"`

	Params map[string]string `json:"params,omitempty"`

	UpdatedAt   time.Time `json:"updated_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromRecord converts an action snapshot into an event.
func FromRecord(rec txn.Record) *ActionEvent {
	return &ActionEvent{
		ActionID:    rec.ID.String(),
		Kind:        string(rec.Kind),
		Account:     rec.Account,
		Phase:       string(rec.Phase),
		TxHash:      rec.TxHash,
		Error:       rec.Error,
		Block:       rec.Block,
		Params:      rec.Params,
		UpdatedAt:   rec.UpdatedAt,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the subject events for account are published on.
// Addresses are lowercased so checksummed and plain input match.
func Subject(account string) string {
	return subjectPrefix + strings.ToLower(account)
}

// Terminal reports whether the event ends its action's lifecycle.
func (e *ActionEvent) Terminal() bool {
	return e.Phase == string(txn.PhaseSucceeded) || e.Phase == string(txn.PhaseFailed)
}
