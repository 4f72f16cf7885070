package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/format"
	"github.com/brojonat/idproperty/service/kyc"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrForbidden is returned when the account lacks the form's capability.
	ErrForbidden = errors.New("admin capability required")
	// ErrNotConnected is returned when no wallet is configured.
	ErrNotConnected = errors.New("wallet not connected")
)

// Service submits admin forms through the runner.
type Service struct {
	reader   *reader.Reader
	token    *chain.TokenContract
	registry *chain.RegistryContract
	wallet   chain.Wallet
	runner   *txn.Runner
	explorer string
	logger   *slog.Logger
}

// Config holds the Service's collaborators.
type Config struct {
	Reader      *reader.Reader
	Token       *chain.TokenContract
	Registry    *chain.RegistryContract
	Wallet      chain.Wallet
	Runner      *txn.Runner
	ExplorerURL string
	Logger      *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	return &Service{
		reader:   cfg.Reader,
		token:    cfg.Token,
		registry: cfg.Registry,
		wallet:   cfg.Wallet,
		runner:   cfg.Runner,
		explorer: cfg.ExplorerURL,
		logger:   cfg.Logger,
	}
}

// plan is a validated form ready to submit.
type plan struct {
	kind      txn.Kind
	params    map[string]string
	submit    func(ctx context.Context) (common.Hash, error)
	onSuccess func()
}

type formDef struct {
	// input is the form whose values the action reads and resets.
	input   Form
	allowed func(session.Capabilities) bool
	success string
	build   func(s *Service, values map[string]string) (*plan, error)
}

func kycAdmin(c session.Capabilities) bool   { return c.KYCAdmin }
func tokenAdmin(c session.Capabilities) bool { return c.TokenAdmin }

var formDefs = map[Form]formDef{
	FormRegister: {
		input:   FormRegister,
		allowed: kycAdmin,
		success: "Investor registered successfully!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			in, err := ParseRegister(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind: txn.KindRegisterInvestor,
				params: map[string]string{
					"investor":     in.Investor.Hex(),
					"level":        fmt.Sprint(uint8(in.Level)),
					"country_code": fmt.Sprint(in.CountryCode),
					"valid_days":   in.ValidDays.String(),
				},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.registry.RegisterInvestor(ctx, s.wallet, in.Investor, in.Level, in.CountryCode, in.ValidDays)
				},
				onSuccess: func() { s.reader.InvalidateInvestor(in.Investor) },
			}, nil
		},
	},
	FormUpdate: {
		input:   FormUpdate,
		allowed: kycAdmin,
		success: "Investor updated successfully!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			in, err := ParseUpdate(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind:   txn.KindUpdateInvestor,
				params: map[string]string{"investor": in.Investor.Hex(), "level": fmt.Sprint(uint8(in.Level))},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.registry.UpdateInvestor(ctx, s.wallet, in.Investor, in.Level)
				},
				onSuccess: func() { s.reader.InvalidateInvestor(in.Investor) },
			}, nil
		},
	},
	FormRevoke: {
		input:   FormUpdate,
		allowed: kycAdmin,
		success: "Investor revoked successfully!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			addr, err := ParseRevoke(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind:   txn.KindRevokeInvestor,
				params: map[string]string{"investor": addr.Hex()},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.registry.RevokeInvestor(ctx, s.wallet, addr)
				},
				onSuccess: func() { s.reader.InvalidateInvestor(addr) },
			}, nil
		},
	},
	FormFreeze: {
		input:   FormFreeze,
		allowed: tokenAdmin,
		success: "Account frozen successfully!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			in, err := ParseFreeze(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind:   txn.KindFreezeAccount,
				params: map[string]string{"account": in.Account.Hex(), "reason": in.Reason},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.token.FreezeAccount(ctx, s.wallet, in.Account, in.Reason)
				},
				onSuccess: func() { s.reader.InvalidateFreeze(in.Account) },
			}, nil
		},
	},
	FormUnfreeze: {
		input:   FormUnfreeze,
		allowed: tokenAdmin,
		success: "Account unfrozen successfully!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			addr, err := ParseUnfreeze(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind:   txn.KindUnfreezeAccount,
				params: map[string]string{"account": addr.Hex()},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.token.UnfreezeAccount(ctx, s.wallet, addr)
				},
				onSuccess: func() { s.reader.InvalidateFreeze(addr) },
			}, nil
		},
	},
	FormForceTransfer: {
		input:   FormForceTransfer,
		allowed: tokenAdmin,
		success: "Force transfer completed!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			in, err := ParseForceTransfer(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind: txn.KindForceTransfer,
				params: map[string]string{
					"from":   in.From.Hex(),
					"to":     in.To.Hex(),
					"amount": in.Amount.String(),
					"reason": in.Reason,
				},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.token.ForceTransfer(ctx, s.wallet, in.From, in.To, in.Amount, in.Reason)
				},
				onSuccess: func() { s.reader.InvalidateTransfer(in.From, in.To) },
			}, nil
		},
	},
	FormLegalDocument: {
		input:   FormLegalDocument,
		allowed: tokenAdmin,
		success: "Legal document updated!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			cid, err := ParseLegalDocument(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind:   txn.KindSetLegalDocument,
				params: map[string]string{"ipfs_hash": cid},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.token.SetLegalDocument(ctx, s.wallet, cid)
				},
				onSuccess: func() { s.reader.InvalidateProperty() },
			}, nil
		},
	},
	FormLimits: {
		input:   FormLimits,
		allowed: tokenAdmin,
		success: "Investment limits updated!",
		build: func(s *Service, values map[string]string) (*plan, error) {
			in, err := ParseLimits(values)
			if err != nil {
				return nil, err
			}
			return &plan{
				kind:   txn.KindSetInvestmentLimit,
				params: map[string]string{"min": in.Min.String(), "max": in.Max.String()},
				submit: func(ctx context.Context) (common.Hash, error) {
					return s.token.SetInvestmentLimits(ctx, s.wallet, in.Min, in.Max)
				},
				onSuccess: func() { s.reader.InvalidateLimits() },
			}, nil
		},
	},
}

// Allowed reports whether caps may submit form.
func Allowed(caps session.Capabilities, form Form) bool {
	def, ok := formDefs[form]
	return ok && def.allowed(caps)
}

// SuccessMessage is the toast shown when form's action confirmed.
func SuccessMessage(form Form) string {
	return formDefs[form].success
}

// InputForm is the form whose values form reads; revoke reads the update
// form.
func InputForm(form Form) Form {
	return formDefs[form].input
}

// Submit validates values and starts the form's write in the session's
// slot. Values are retained in the session so a re-rendered form keeps
// them until the action succeeds.
func (s *Service) Submit(ctx context.Context, sess *session.Session, caps session.Capabilities, form Form, values map[string]string) (*txn.Action, error) {
	def, ok := formDefs[form]
	if !ok {
		return nil, fmt.Errorf("unknown form %q", form)
	}
	if s.wallet == nil {
		return nil, ErrNotConnected
	}
	if !def.allowed(caps) {
		return nil, ErrForbidden
	}

	sess.SetFormValues(string(def.input), values)
	p, err := def.build(s, values)
	if err != nil {
		return nil, err
	}

	a, err := sess.Slot(string(form)).Submit(ctx, s.runner, txn.Request{
		Kind:      p.kind,
		Account:   s.wallet.Address(),
		Params:    p.params,
		Submit:    p.submit,
		OnSuccess: func(*chain.Receipt) { p.onSuccess() },
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "admin action submitted", "form", string(form), "action_id", a.ID.String())
	return a, nil
}

// Reset clears a finished form lifecycle.
func (s *Service) Reset(sess *session.Session, form Form) error {
	if _, ok := formDefs[form]; !ok {
		return fmt.Errorf("unknown form %q", form)
	}
	return sess.Slot(string(form)).Reset()
}

// Settle turns finished actions into toasts once each and resets the input
// of forms whose action succeeded.
func (s *Service) Settle(sess *session.Session) {
	for _, form := range Forms {
		a := sess.Slot(string(form)).Action()
		if a == nil {
			continue
		}
		state := a.State()
		if txn.InFlight(state) || !sess.MarkNotified(a.ID) {
			continue
		}
		switch st := state.(type) {
		case txn.Succeeded:
			sess.AddFlash(session.Flash{
				Kind:    "success",
				Message: SuccessMessage(form),
				Link:    format.TxURL(s.explorer, st.Hash.Hex()),
			})
			sess.ClearForm(string(InputForm(form)))
		case txn.Failed:
			sess.AddFlash(session.Flash{Kind: "error", Message: chain.AdminMessage(st.Err)})
		}
	}
}

// FormView is what a form renders.
type FormView struct {
	Form    Form
	Values  map[string]string
	Phase   txn.Phase
	Busy    bool
	Status  string
	Message string
	TxURL   string
}

// View renders form's state from the session.
func (s *Service) View(sess *session.Session, form Form) FormView {
	values := sess.FormValues(string(InputForm(form)))
	if len(values) == 0 && InputForm(form) == FormRegister {
		values = DefaultRegisterValues()
	}
	state := sess.Slot(string(form)).State()
	v := FormView{
		Form:   form,
		Values: values,
		Phase:  state.Phase(),
		Busy:   txn.InFlight(state),
	}
	switch st := state.(type) {
	case txn.Pending:
		v.Status = "Waiting for wallet confirmation..."
	case txn.Confirming:
		v.Status = "Transaction submitted. Waiting for confirmation..."
	case txn.Succeeded:
		v.Message = SuccessMessage(form)
		v.TxURL = format.TxURL(s.explorer, st.Hash.Hex())
	case txn.Failed:
		v.Message = chain.AdminMessage(st.Err)
	}
	return v
}

// Tab groups forms on the admin page.
type Tab struct {
	ID    string
	Label string
	Forms []Form
}

// Tabs returns the tabs caps may see.
func Tabs(caps session.Capabilities) []Tab {
	var tabs []Tab
	if caps.KYCAdmin {
		tabs = append(tabs, Tab{ID: "kyc", Label: "KYC Management", Forms: []Form{FormRegister, FormUpdate}})
	}
	if caps.TokenAdmin {
		tabs = append(tabs,
			Tab{ID: "token", Label: "Token Management", Forms: []Form{FormLimits, FormLegalDocument, FormForceTransfer}},
			Tab{ID: "frozen", Label: "Account Actions", Forms: []Form{FormFreeze, FormUnfreeze}},
		)
	}
	return tabs
}

// Investor is the result of an investor lookup.
type Investor struct {
	Address     common.Address `json:"address"`
	Short       string         `json:"short"`
	Found       bool           `json:"found"`
	Verified    bool           `json:"verified"`
	Level       kyc.Level      `json:"level"`
	Badge       kyc.Badge      `json:"badge"`
	ExpiryDate  string         `json:"expiry_date,omitempty"`
	CountryCode uint16         `json:"country_code"`
}

// NotFoundMessage is shown when a lookup finds no active record.
const NotFoundMessage = "Investor not found or not active"

// Lookup reads the registry record of address.
func (s *Service) Lookup(ctx context.Context, address string) (*Investor, error) {
	address = strings.TrimSpace(address)
	if !format.IsValidAddress(address) {
		return nil, invalid(msgInvalidWallet)
	}
	addr := common.HexToAddress(address)

	rec := s.reader.Investor(ctx, &addr)
	if rec.Err != nil {
		return nil, fmt.Errorf("failed to read investor: %w", rec.Err)
	}
	out := &Investor{Address: addr, Short: format.ShortenAddress(addr.Hex())}
	if !rec.Ok() || !rec.Value.IsActive {
		return out, nil
	}

	verified := s.reader.IsVerified(ctx, &addr)
	if verified.Err != nil {
		return nil, fmt.Errorf("failed to read verification: %w", verified.Err)
	}
	level := rec.Value.Level
	out.Found = true
	out.Verified = verified.Value
	out.Level = level
	out.Badge = kyc.BadgeFor(verified.Value, &level)
	out.ExpiryDate = format.FormatDateShort(rec.Value.ExpiryDate)
	out.CountryCode = rec.Value.CountryCode
	return out, nil
}

// Stats is the admin page's summary row.
type Stats struct {
	TotalInvestors  string `json:"total_investors"`
	TotalSupply     string `json:"total_supply"`
	PropertyValue   string `json:"property_value"`
	InvestmentRange string `json:"investment_range"`
}

// Stats reads the summary row; unavailable values render as zero.
func (s *Service) Stats(ctx context.Context) Stats {
	investors := "0"
	if n := s.reader.TotalInvestors(ctx); n.Ok() {
		investors = n.Value.String()
	}
	value := format.FormatIDRInt(nil)
	if p := s.reader.Property(ctx); p.Ok() {
		value = format.FormatIDRInt(p.Value.TotalValue)
	}
	limits := s.reader.InvestmentLimits(ctx)
	return Stats{
		TotalInvestors:  investors,
		TotalSupply:     format.FormatTokensRaw(s.reader.TotalSupply(ctx).OrElse(nil)),
		PropertyValue:   value,
		InvestmentRange: format.FormatTokensRaw(limits.Min.OrElse(nil)) + " - " + format.FormatTokensRaw(limits.Max.OrElse(nil)),
	}
}
