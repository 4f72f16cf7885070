package server

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/idproperty/service/admin"
	"github.com/brojonat/idproperty/service/config"
	"github.com/brojonat/idproperty/service/format"
	"github.com/brojonat/idproperty/service/kyc"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

// pageDeps are the collaborators every page handler reads from.
type pageDeps struct {
	renderer  *TemplateRenderer
	reader    *reader.Reader
	transfers *transfer.Service
	admin     *admin.Service
	history   HistoryStore
	cfg       *config.Config
	logger    *slog.Logger
}

// layout is the data every page template receives.
type layout struct {
	Title        string
	Nav          string
	Symbol       string
	Connected    bool
	Account      string
	AccountShort string
	IsAdmin      bool
	CanLogin     bool
	Flashes      []session.Flash
	Refresh      bool
	Page         interface{}
}

// render settles finished actions into toasts and executes the page.
func (p *pageDeps) render(w http.ResponseWriter, r *http.Request, name, title string, page interface{}) {
	p.renderStatus(w, r, http.StatusOK, name, title, page)
}

func (p *pageDeps) renderStatus(w http.ResponseWriter, r *http.Request, status int, name, title string, page interface{}) {
	sess, _ := session.FromContext(r.Context())
	l := layout{
		Title:  title,
		Nav:    strings.TrimSuffix(name, ".html"),
		Symbol: p.cfg.TokenSymbol,
		Page:   page,
	}
	if account := session.AccountFrom(r.Context()); account != nil {
		l.Connected = true
		l.Account = account.Hex()
		l.AccountShort = format.ShortenAddress(account.Hex())
	} else {
		l.CanLogin = p.cfg.OperatorToken != "" && p.transfers.Account() != nil
	}
	l.IsAdmin = session.CapabilitiesFrom(r.Context()).IsAdmin()
	if sess != nil {
		p.admin.Settle(sess)
		settleTransfer(sess, p.cfg.ExplorerURL)
		l.Flashes = sess.TakeFlashes()
		l.Refresh = busy(sess, adminFormNames())
	}

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := p.renderer.Render(w, name, l); err != nil {
		p.logger.ErrorContext(r.Context(), "failed to render template", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func adminFormNames() []string {
	names := make([]string, len(admin.Forms))
	for i, f := range admin.Forms {
		names[i] = string(f)
	}
	return names
}

type homePage struct {
	TokenPrice string
	MarketCap  string
	Investors  string
	Ownership  string
	Property   propertyCard
}

// handleHomePage serves GET /.
func handleHomePage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		price := p.reader.TokenValueIDR(ctx)
		prop := p.reader.Property(ctx)

		data := homePage{
			TokenPrice: format.FormatIDRInt(price.OrElse(nil)),
			MarketCap:  format.FormatIDRInt(nil),
			Investors:  p.reader.TotalInvestors(ctx).OrElse(new(big.Int)).String(),
			Ownership:  notAvailable,
			Property:   newPropertyCard(prop, price),
		}
		if prop.Ok() {
			data.MarketCap = format.FormatIDRInt(prop.Value.TotalValue)
		}
		if account := session.AccountFrom(ctx); account != nil {
			data.Ownership = format.FormatPercent(p.reader.OwnershipPercent(ctx, account).OrElse(nil))
		}
		p.render(w, r, "home.html", "Home", data)
	})
}

type propertyPage struct {
	Property         propertyCard
	TotalTokens      string
	InvestmentRange  string
	LegalDocumentURL string
	ContractURL      string
	Tokens           string
	InvestmentValue  string
	OwnershipPercent string
}

// handlePropertyPage serves GET /property, including the investment
// calculator driven by ?tokens=.
func handlePropertyPage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		price := p.reader.TokenValueIDR(ctx)
		prop := p.reader.Property(ctx)
		limits := p.reader.InvestmentLimits(ctx)

		data := propertyPage{
			Property:        newPropertyCard(prop, price),
			InvestmentRange: investmentRange(limits),
			Tokens:          r.URL.Query().Get("tokens"),
			ContractURL:     format.AddressURL(p.cfg.ExplorerURL, p.cfg.PropertyTokenAddress),
		}

		var totalTokens *big.Int
		if prop.Ok() {
			totalTokens = prop.Value.TotalTokens
			data.TotalTokens = format.FormatTokensRaw(totalTokens)
			data.LegalDocumentURL = format.IPFSURL(p.cfg.IPFSGatewayURL, prop.Value.LegalDocument)
		}
		value, bp := calculateInvestment(data.Tokens, price.OrElse(nil), totalTokens)
		data.InvestmentValue = format.FormatIDR(value)
		data.OwnershipPercent = format.FormatPercent(bp)

		p.render(w, r, "property.html", "Property Details", data)
	})
}

type portfolioPage struct {
	Ownership ownershipCard
	Property  propertyCard
	Recent    []transferRow
}

// handlePortfolioPage serves GET /portfolio.
func handlePortfolioPage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		account := session.AccountFrom(ctx)
		if account == nil {
			p.render(w, r, "portfolio.html", "My Portfolio", nil)
			return
		}

		price := p.reader.TokenValueIDR(ctx)
		data := portfolioPage{
			Ownership: newOwnershipCard(
				p.reader.Balance(ctx, account),
				p.reader.OwnershipPercent(ctx, account),
				price,
				p.reader.Frozen(ctx, account),
				p.cfg.TokenSymbol,
			),
			Property: newPropertyCard(p.reader.Property(ctx), price),
			Recent:   p.recentTransfers(ctx, *account),
		}
		p.render(w, r, "portfolio.html", "My Portfolio", data)
	})
}

type kycPage struct {
	Loaded     bool
	Status     kyc.Status
	Badge      kyc.Badge
	ExpiryDate string
	Levels     []kyc.Level
}

// handleKYCPage serves GET /kyc.
func handleKYCPage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		account := session.AccountFrom(ctx)
		if account == nil {
			p.render(w, r, "kyc.html", "KYC Status", nil)
			return
		}

		data := kycPage{Levels: kyc.Levels()[1:]}
		if status := p.reader.KYCStatus(ctx, account, time.Now()); status.Ok() {
			level := status.Value.Level
			data.Loaded = true
			data.Status = status.Value
			data.Badge = kyc.BadgeFor(status.Value.Verified, &level)
			if status.Value.Registered {
				data.ExpiryDate = format.FormatDate(status.Value.ExpiryDate)
			}
		}
		p.render(w, r, "kyc.html", "KYC Status", data)
	})
}

type previewView struct {
	From             string
	To               string
	Amount           string
	SenderBalance    string
	SenderAfter      string
	RecipientBalance string
	RecipientAfter   string
	Value            string
}

type transferPage struct {
	KYCRequired bool
	Step        string
	Recipient   string
	Amount      string
	Error       string
	Balance     string
	MaxAmount   string
	Range       string
	Preview     *previewView
	Status      string
	Subtext     string
	Failure     string
	TxURL       string
	Recent      []transferRow
}

// handleTransferPage serves GET /transfer.
func handleTransferPage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, _ := session.FromContext(ctx)
		gate := transfer.GateNotConnected
		if session.AccountFrom(ctx) != nil {
			gate = p.transfers.Gate(ctx)
		}
		switch gate {
		case transfer.GateNotConnected:
			p.render(w, r, "transfer.html", "Transfer Tokens", nil)
			return
		case transfer.GateKYCRequired:
			p.render(w, r, "transfer.html", "Transfer Tokens", transferPage{KYCRequired: true})
			return
		}

		account := session.AccountFrom(ctx)
		symbol := p.cfg.TokenSymbol
		v := sess.Transfer.View()
		data := transferPage{
			Step:      string(v.Step),
			Recipient: v.Input.Recipient,
			Amount:    v.Input.Amount,
			Error:     v.Error,
			Balance:   format.FormatTokens(p.reader.Balance(ctx, account).OrElse(nil), symbol),
			MaxAmount: p.transfers.MaxAmount(ctx),
			Range:     investmentRange(p.reader.InvestmentLimits(ctx)),
			Recent:    p.recentTransfers(ctx, *account),
		}
		if pv := v.Preview; pv != nil {
			data.Preview = &previewView{
				From:             pv.From.Hex(),
				To:               pv.To.Hex(),
				Amount:           format.FormatTokens(pv.Amount, symbol),
				SenderBalance:    format.FormatTokens(pv.SenderBalance, symbol),
				SenderAfter:      format.FormatTokens(pv.SenderAfter, symbol),
				RecipientBalance: format.FormatTokens(pv.RecipientBalance, symbol),
				RecipientAfter:   format.FormatTokens(pv.RecipientAfter, symbol),
				Value:            format.FormatIDR(pv.ValueIDR),
			}
		}
		data.Status, data.Subtext = transfer.StatusText(v.State)
		data.Failure = transfer.ErrorText(v.State)
		if hash, ok := txn.HashOf(v.State); ok {
			data.TxURL = format.TxURL(p.cfg.ExplorerURL, hash.Hex())
		}
		p.render(w, r, "transfer.html", "Transfer Tokens", data)
	})
}

// handleTransferPreview validates the transfer form. Validation messages
// are kept on the flow and shown inline.
func handleTransferPreview(svc *transfer.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		sess, _ := session.FromContext(r.Context())
		in := transfer.Input{
			Recipient: r.PostForm.Get("recipient"),
			Amount:    r.PostForm.Get("amount"),
		}

		err := svc.Preview(r.Context(), sess.Transfer, in)
		var verr *transfer.ValidationError
		switch {
		case err == nil, errors.As(err, &verr):
		case errors.Is(err, txn.ErrBusy), errors.Is(err, transfer.ErrNotConnected), errors.Is(err, transfer.ErrKYCRequired):
			logger.DebugContext(r.Context(), "transfer preview refused", "error", err)
		default:
			logger.ErrorContext(r.Context(), "transfer preview failed", "error", err)
			sess.AddFlash(session.Flash{Kind: "error", Message: transfer.FailureToast(err)})
		}
		http.Redirect(w, r, "/transfer", http.StatusSeeOther)
	})
}

// handleTransferConfirm submits the previewed transfer. It is also the
// retry after a failure.
func handleTransferConfirm(svc *transfer.Service, symbol string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		a, err := svc.Confirm(r.Context(), sess.Transfer)
		switch {
		case err == nil:
			if pv := sess.Transfer.View().Preview; pv != nil {
				logger.InfoContext(r.Context(), "transfer submitted",
					"action_id", a.ID.String(),
					"transfer", transfer.Describe(pv, symbol),
				)
			}
		case errors.Is(err, txn.ErrBusy), errors.Is(err, transfer.ErrNoPreview):
			logger.DebugContext(r.Context(), "transfer confirm refused", "error", err)
		default:
			logger.ErrorContext(r.Context(), "transfer confirm failed", "error", err)
			sess.AddFlash(session.Flash{Kind: "error", Message: transfer.FailureToast(err)})
		}
		http.Redirect(w, r, "/transfer", http.StatusSeeOther)
	})
}

// handleTransferCancel returns the flow to the form. It serves both
// "Cancel" and "Make Another Transfer".
func handleTransferCancel(svc *transfer.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		if err := svc.Cancel(sess.Transfer); err != nil {
			logger.DebugContext(r.Context(), "transfer cancel refused", "error", err)
		}
		http.Redirect(w, r, "/transfer", http.StatusSeeOther)
	})
}

// formMeta is the card title and button labels of an admin form.
type formMeta struct {
	Title      string
	Button     string
	Pending    string
	Confirming string
}

var formMetas = map[admin.Form]formMeta{
	admin.FormRegister:      {"Register New Investor", "Register Investor", "Confirm in Wallet...", "Registering..."},
	admin.FormUpdate:        {"Update / Revoke Investor", "Update Level", "Confirm...", "Updating..."},
	admin.FormRevoke:        {"Update / Revoke Investor", "Revoke", "Confirm...", "Revoking..."},
	admin.FormLimits:        {"Investment Limits", "Update Limits", "Confirm in Wallet...", "Updating..."},
	admin.FormLegalDocument: {"Legal Document", "Update Document", "Confirm in Wallet...", "Updating..."},
	admin.FormForceTransfer: {"Force Transfer (Legal Compliance)", "Execute Force Transfer", "Confirm in Wallet...", "Executing..."},
	admin.FormFreeze:        {"Freeze Account", "Freeze Account", "Confirm in Wallet...", "Freezing..."},
	admin.FormUnfreeze:      {"Unfreeze Account", "Unfreeze Account", "Confirm in Wallet...", "Unfreezing..."},
}

// formView is an admin form ready to render.
type formView struct {
	admin.FormView
	Title  string
	Label  string
	Action string
	Reset  string
}

func newFormView(v admin.FormView) *formView {
	meta := formMetas[v.Form]
	label := meta.Button
	switch v.Phase {
	case txn.PhasePending:
		label = meta.Pending
	case txn.PhaseConfirming:
		label = meta.Confirming
	}
	return &formView{
		FormView: v,
		Title:    meta.Title,
		Label:    label,
		Action:   "/admin/forms/" + string(v.Form),
		Reset:    "/admin/forms/" + string(v.Form) + "/reset",
	}
}

// tabFor is the admin tab that holds form.
func tabFor(form admin.Form) string {
	switch form {
	case admin.FormRegister, admin.FormUpdate, admin.FormRevoke:
		return "kyc"
	case admin.FormFreeze, admin.FormUnfreeze:
		return "frozen"
	}
	return "token"
}

type tabView struct {
	ID     string
	Label  string
	Active bool
	URL    string
}

type levelOption struct {
	Value string
	Label string
}

type adminPage struct {
	Stats       admin.Stats
	Tabs        []tabView
	Active      string
	Forms       map[string]*formView
	Levels      []levelOption
	Countries   map[uint16]string
	LookupQuery string
	LookupError string
	Lookup      *admin.Investor
}

// handleAdminPage serves GET /admin. A connected account without either
// admin capability is redirected home; without a wallet the page shows
// the connect notice.
func handleAdminPage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if session.AccountFrom(ctx) == nil {
			p.render(w, r, "admin.html", "Admin Dashboard", nil)
			return
		}
		caps := session.CapabilitiesFrom(ctx)
		if !caps.IsAdmin() {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		sess, _ := session.FromContext(ctx)
		q := r.URL.Query()

		// "Update" shortcut from the investor lookup.
		if addr := q.Get("update"); format.IsValidAddress(addr) {
			values := sess.FormValues(string(admin.FormUpdate))
			values["address"] = common.HexToAddress(addr).Hex()
			sess.SetFormValues(string(admin.FormUpdate), values)
		}

		tabs := admin.Tabs(caps)
		active := q.Get("tab")
		if !containsTab(tabs, active) {
			active = tabs[0].ID
		}
		data := adminPage{
			Stats:     p.admin.Stats(ctx),
			Active:    active,
			Forms:     make(map[string]*formView, len(admin.Forms)),
			Countries: kyc.Countries(),
		}
		for _, t := range tabs {
			data.Tabs = append(data.Tabs, tabView{ID: t.ID, Label: t.Label, Active: t.ID == active, URL: "/admin?tab=" + t.ID})
		}
		for _, f := range admin.Forms {
			if admin.Allowed(caps, f) {
				data.Forms[string(f)] = newFormView(p.admin.View(sess, f))
			}
		}
		for _, l := range kyc.Levels()[1:] {
			data.Levels = append(data.Levels, levelOption{Value: strconv.Itoa(int(l)), Label: l.Label()})
		}

		if lookup := strings.TrimSpace(q.Get("investor")); lookup != "" && caps.KYCAdmin {
			data.LookupQuery = lookup
			inv, err := p.admin.Lookup(ctx, lookup)
			var verr *admin.ValidationError
			switch {
			case errors.As(err, &verr):
				data.LookupError = verr.Message
			case err != nil:
				p.logger.WarnContext(ctx, "investor lookup failed", "address", lookup, "error", err)
				data.LookupError = "Failed to load investor"
			case !inv.Found:
				data.LookupError = admin.NotFoundMessage
			default:
				data.Lookup = inv
			}
		}
		p.render(w, r, "admin.html", "Admin Dashboard", data)
	})
}

func containsTab(tabs []admin.Tab, id string) bool {
	for _, t := range tabs {
		if t.ID == id {
			return true
		}
	}
	return false
}

// handleAdminSubmit serves POST /admin/forms/{form}.
func handleAdminSubmit(svc *admin.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form, ok := admin.ParseForm(r.PathValue("form"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		values := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}

		ctx := r.Context()
		sess, _ := session.FromContext(ctx)
		_, err := svc.Submit(ctx, sess, session.CapabilitiesFrom(ctx), form, values)
		var verr *admin.ValidationError
		switch {
		case err == nil:
		case errors.As(err, &verr):
			sess.AddFlash(session.Flash{Kind: "error", Message: verr.Message})
		case errors.Is(err, admin.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		case errors.Is(err, admin.ErrNotConnected), errors.Is(err, txn.ErrBusy):
			logger.DebugContext(ctx, "admin submit refused", "form", string(form), "error", err)
		default:
			logger.ErrorContext(ctx, "admin submit failed", "form", string(form), "error", err)
			sess.AddFlash(session.Flash{Kind: "error", Message: err.Error()})
		}
		http.Redirect(w, r, "/admin?tab="+tabFor(form), http.StatusSeeOther)
	})
}

// handleAdminReset serves POST /admin/forms/{form}/reset.
func handleAdminReset(svc *admin.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form, ok := admin.ParseForm(r.PathValue("form"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		sess, _ := session.FromContext(r.Context())
		if err := svc.Reset(sess, form); err != nil {
			logger.DebugContext(r.Context(), "admin reset refused", "form", string(form), "error", err)
		}
		http.Redirect(w, r, "/admin?tab="+tabFor(form), http.StatusSeeOther)
	})
}

type loginPage struct {
	Enabled bool
	Error   string
}

// handleLoginPage serves GET /login.
func handleLoginPage(p *pageDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session.AccountFrom(r.Context()) != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		p.render(w, r, "login.html", "Operator Login", loginPage{Enabled: p.cfg.OperatorToken != ""})
	})
}

// handleLogin serves POST /login. A matching operator token replaces the
// browser session with an operator session.
func handleLogin(p *pageDeps, sessions *session.Store, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		if !tokenMatches(p.cfg.OperatorToken, r.PostForm.Get("token")) {
			p.logger.WarnContext(r.Context(), "operator login failed", "remote_addr", r.RemoteAddr)
			sess := sessions.Ensure(w, r)
			ctx := session.WithSession(r.Context(), sess)
			page := loginPage{Enabled: p.cfg.OperatorToken != "", Error: "Invalid operator token"}
			p.renderStatus(w, r.WithContext(ctx), http.StatusUnauthorized, "login.html", "Operator Login", page)
			return
		}
		sessions.Login(w, r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

// handleLogout serves POST /logout.
func handleLogout(sessions *session.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions.Logout(w, r)
		logger.DebugContext(r.Context(), "operator logged out")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

func handleFavicon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
