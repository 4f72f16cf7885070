// Package transfer implements the token transfer flow: a form, a preview,
// submission and the success or error outcome.
package transfer

import (
	"math/big"
	"sync"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Step is derived from the preview and the transfer's lifecycle.
type Step string

const (
	StepForm       Step = "form"
	StepPreview    Step = "preview"
	StepSubmitting Step = "submitting"
	StepSuccess    Step = "success"
	StepError      Step = "error"
)

// Input is the raw form input.
type Input struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Preview is the validated transfer with before and after balances.
type Preview struct {
	From             common.Address  `json:"from"`
	To               common.Address  `json:"to"`
	Amount           *big.Int        `json:"amount"`
	SenderBalance    *big.Int        `json:"sender_balance"`
	SenderAfter      *big.Int        `json:"sender_after"`
	RecipientBalance *big.Int        `json:"recipient_balance"`
	RecipientAfter   *big.Int        `json:"recipient_after"`
	ValueIDR         decimal.Decimal `json:"value_idr"`
}

// Flow is one session's transfer flow. The zero value is at StepForm.
type Flow struct {
	mu       sync.Mutex
	input    Input
	fieldErr string
	preview  *Preview
	slot     txn.Slot
}

// View is a consistent snapshot of a Flow for rendering.
type View struct {
	Step    Step
	Input   Input
	Error   string
	Preview *Preview
	State   txn.State
	Action  *txn.Action
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stepLocked()
}

func (f *Flow) stepLocked() Step {
	if f.preview == nil {
		return StepForm
	}
	switch f.slot.State().(type) {
	case txn.Pending, txn.Confirming:
		return StepSubmitting
	case txn.Succeeded:
		return StepSuccess
	case txn.Failed:
		return StepError
	}
	return StepPreview
}

// View snapshots the flow.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		Step:   f.stepLocked(),
		Input:  f.input,
		Error:  f.fieldErr,
		State:  f.slot.State(),
		Action: f.slot.Action(),
	}
	if f.preview != nil {
		p := *f.preview
		v.Preview = &p
	}
	return v
}

// StatusText describes an in-flight lifecycle.
func StatusText(s txn.State) (text, subtext string) {
	switch s.(type) {
	case txn.Pending:
		return "Waiting for wallet confirmation...", "Please confirm the transaction in your wallet"
	case txn.Confirming:
		return "Transaction submitted", "Waiting for blockchain confirmation..."
	}
	return "", ""
}

// ErrorText is the preview's failure message.
func ErrorText(s txn.State) string {
	if err := txn.ErrOf(s); err != nil {
		return chain.TransferPreviewMessage(err)
	}
	return ""
}
