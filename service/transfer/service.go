package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/format"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotConnected is returned when no wallet is configured.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrKYCRequired is returned when the sender is not verified.
	ErrKYCRequired = errors.New("KYC verification required")
	// ErrNoPreview is returned by Confirm before a successful Preview.
	ErrNoPreview = errors.New("no transfer to confirm")
)

// ValidationError is a form error shown inline.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// Gate is what the transfer page may show.
type Gate int

const (
	GateNotConnected Gate = iota
	GateKYCRequired
	GateReady
)

// Service validates and submits transfers for the connected wallet.
type Service struct {
	reader *reader.Reader
	token  *chain.TokenContract
	wallet chain.Wallet
	runner *txn.Runner
	logger *slog.Logger
}

// NewService creates a Service. wallet may be nil for a read-only dashboard.
func NewService(r *reader.Reader, token *chain.TokenContract, wallet chain.Wallet, runner *txn.Runner, logger *slog.Logger) *Service {
	return &Service{reader: r, token: token, wallet: wallet, runner: runner, logger: logger}
}

// Account returns the connected address or nil.
func (s *Service) Account() *common.Address {
	if s.wallet == nil {
		return nil
	}
	addr := s.wallet.Address()
	return &addr
}

// Gate reports whether the connected account may use the transfer form.
// An unknown verification answer counts as not verified.
func (s *Service) Gate(ctx context.Context) Gate {
	account := s.Account()
	if account == nil {
		return GateNotConnected
	}
	if verified := s.reader.IsVerified(ctx, account); !verified.Ok() || !verified.Value {
		return GateKYCRequired
	}
	return GateReady
}

// Validate checks in against the form rules in order and builds the
// preview. No call is issued before the eligibility check unless the
// earlier rules pass.
func (s *Service) Validate(ctx context.Context, in Input) (*Preview, error) {
	from := s.Account()
	if from == nil {
		return nil, ErrNotConnected
	}

	recipient := strings.TrimSpace(in.Recipient)
	if !format.IsValidAddress(recipient) {
		return nil, invalid("Please enter a valid address")
	}
	to := common.HexToAddress(recipient)

	amount, err := format.ParseTokens(in.Amount)
	if err != nil || amount.Sign() == 0 {
		return nil, invalid("Please enter an amount")
	}

	balance := s.reader.Balance(ctx, from)
	if balance.Ok() && amount.Cmp(balance.Value) > 0 {
		return nil, invalid("Insufficient balance")
	}

	check := s.reader.CanTransfer(ctx, from, &to, amount)
	if !check.Ok() {
		if check.Err != nil {
			s.logger.WarnContext(ctx, "transfer eligibility check failed", "error", check.Err)
		}
		return nil, invalid("Transfer not allowed")
	}
	if !check.Value.Allowed {
		if check.Value.Reason != "" {
			return nil, invalid(check.Value.Reason)
		}
		return nil, invalid("Transfer not allowed")
	}

	senderBalance := balance.OrElse(new(big.Int))
	recipientBalance := s.reader.Balance(ctx, &to).OrElse(new(big.Int))
	return &Preview{
		From:             *from,
		To:               to,
		Amount:           amount,
		SenderBalance:    senderBalance,
		SenderAfter:      new(big.Int).Sub(senderBalance, amount),
		RecipientBalance: recipientBalance,
		RecipientAfter:   new(big.Int).Add(recipientBalance, amount),
		ValueIDR:         format.TokenValue(amount, s.reader.TokenValueIDR(ctx).OrElse(nil)),
	}, nil
}

// Preview validates the form and moves the flow to StepPreview. A
// validation failure keeps the flow on the form with the message set.
func (s *Service) Preview(ctx context.Context, f *Flow, in Input) error {
	if s.Gate(ctx) != GateReady {
		if s.Account() == nil {
			return ErrNotConnected
		}
		return ErrKYCRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.slot.Busy() {
		return txn.ErrBusy
	}

	f.input = in
	preview, err := s.Validate(ctx, in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			f.fieldErr = verr.Message
		}
		return err
	}
	if err := f.slot.Reset(); err != nil {
		return err
	}
	f.fieldErr = ""
	f.preview = preview
	return nil
}

// Confirm submits transfer(to, amount) for the previewed transfer. It is
// also the retry from StepError.
func (s *Service) Confirm(ctx context.Context, f *Flow) (*txn.Action, error) {
	if s.wallet == nil {
		return nil, ErrNotConnected
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.preview == nil {
		return nil, ErrNoPreview
	}
	if _, ok := f.slot.State().(txn.Succeeded); ok {
		return nil, ErrNoPreview
	}
	p := *f.preview

	return f.slot.Submit(ctx, s.runner, txn.Request{
		Kind:    txn.KindTransfer,
		Account: p.From,
		Params: map[string]string{
			"from":   p.From.Hex(),
			"to":     p.To.Hex(),
			"amount": p.Amount.String(),
		},
		Submit: func(ctx context.Context) (common.Hash, error) {
			return s.token.Transfer(ctx, s.wallet, p.To, p.Amount)
		},
		OnSuccess: func(*chain.Receipt) {
			s.reader.InvalidateTransfer(p.From, p.To)
		},
	})
}

// Cancel discards the input and the lifecycle and returns to the form.
// "Make another transfer" is the same operation.
func (s *Service) Cancel(f *Flow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.slot.Reset(); err != nil {
		return err
	}
	f.input = Input{}
	f.fieldErr = ""
	f.preview = nil
	return nil
}

// MaxAmount is min(balance, maxInvestment) as a plain token string, or ""
// when the balance is unknown or zero.
func (s *Service) MaxAmount(ctx context.Context) string {
	balance := s.reader.Balance(ctx, s.Account())
	if !balance.Ok() || balance.Value.Sign() == 0 {
		return ""
	}
	max := balance.Value
	if limit := s.reader.MaxInvestment(ctx); limit.Ok() && limit.Value.Cmp(max) < 0 {
		max = limit.Value
	}
	return format.FormatUnits(max, format.TokenDecimals)
}

// SuccessToast is the toast shown once a transfer confirmed.
const SuccessToast = "Transfer successful!"

// FailureToast is the toast shown when a transfer failed.
func FailureToast(err error) string {
	return chain.TransferToastMessage(err)
}

// Describe renders a preview amount for logs and toasts.
func Describe(p *Preview, symbol string) string {
	return fmt.Sprintf("%s to %s", format.FormatTokens(p.Amount, symbol), format.ShortenAddress(p.To.Hex()))
}
