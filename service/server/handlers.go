package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/idproperty/service/admin"
	"github.com/brojonat/idproperty/service/config"
	"github.com/brojonat/idproperty/service/db"
	"github.com/brojonat/idproperty/service/format"
	"github.com/brojonat/idproperty/service/kyc"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// sessionResponse describes the connected wallet and this browser's flow.
type sessionResponse struct {
	Connected    bool                 `json:"connected"`
	Account      string               `json:"account,omitempty"`
	Capabilities session.Capabilities `json:"capabilities"`
	Transfer     transferState        `json:"transfer"`
}

type transferState struct {
	Step     string `json:"step"`
	Error    string `json:"error,omitempty"`
	Phase    string `json:"phase"`
	TxHash   string `json:"tx_hash,omitempty"`
	ActionID string `json:"action_id,omitempty"`
}

// handleGetSession returns a handler for GET /api/v1/session.
func handleGetSession(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		resp := sessionResponse{Capabilities: session.CapabilitiesFrom(r.Context())}
		if account := session.AccountFrom(r.Context()); account != nil {
			resp.Connected = true
			resp.Account = account.Hex()
		}

		v := sess.Transfer.View()
		resp.Transfer = transferState{
			Step:  string(v.Step),
			Error: v.Error,
			Phase: string(v.State.Phase()),
		}
		if h, ok := txn.HashOf(v.State); ok {
			resp.Transfer.TxHash = h.Hex()
		}
		if v.Action != nil {
			resp.Transfer.ActionID = v.Action.ID.String()
		}
		if err := txn.ErrOf(v.State); err != nil {
			resp.Transfer.Error = transfer.ErrorText(v.State)
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// propertyResponse is the property record with display values.
type propertyResponse struct {
	Name             string `json:"name"`
	Location         string `json:"location"`
	TotalValue       string `json:"total_value"`
	TotalTokens      string `json:"total_tokens"`
	LegalDocument    string `json:"legal_document"`
	LegalDocumentURL string `json:"legal_document_url,omitempty"`
	IsActive         bool   `json:"is_active"`
	TokenValueIDR    string `json:"token_value_idr"`
	Display          struct {
		TotalValue  string `json:"total_value"`
		TotalTokens string `json:"total_tokens"`
		TokenPrice  string `json:"token_price"`
	} `json:"display"`
}

// handleGetProperty returns a handler for GET /api/v1/property.
func handleGetProperty(rd *reader.Reader, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prop := rd.Property(r.Context())
		if !prop.Ok() {
			logger.ErrorContext(r.Context(), "failed to read property", "error", prop.Err)
			writeError(w, "property not available", http.StatusBadGateway)
			return
		}
		price := rd.TokenValueIDR(r.Context()).OrElse(nil)

		p := prop.Value
		resp := propertyResponse{
			Name:             p.Name,
			Location:         p.Location,
			TotalValue:       bigString(p.TotalValue),
			TotalTokens:      bigString(p.TotalTokens),
			LegalDocument:    p.LegalDocument,
			LegalDocumentURL: format.IPFSURL(cfg.IPFSGatewayURL, p.LegalDocument),
			IsActive:         p.IsActive,
			TokenValueIDR:    bigString(price),
		}
		resp.Display.TotalValue = format.FormatIDRInt(p.TotalValue)
		resp.Display.TotalTokens = format.FormatTokensRaw(p.TotalTokens)
		resp.Display.TokenPrice = format.FormatIDRInt(price)
		writeJSON(w, resp, http.StatusOK)
	})
}

// tokenResponse is the token metadata and the addresses of both admins.
type tokenResponse struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Decimals       uint8  `json:"decimals"`
	TotalSupply    string `json:"total_supply"`
	TokenValueIDR  string `json:"token_value_idr"`
	Admin          string `json:"admin"`
	KYCRegistry    string `json:"kyc_registry"`
	RegistryAdmin  string `json:"registry_admin"`
	TotalInvestors string `json:"total_investors"`
}

// handleGetToken returns a handler for GET /api/v1/token.
func handleGetToken(rd *reader.Reader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := rd.Name(ctx)
		symbol := rd.Symbol(ctx)
		decimals := rd.Decimals(ctx)
		supply := rd.TotalSupply(ctx)
		if !name.Ok() || !symbol.Ok() || !decimals.Ok() || !supply.Ok() {
			logger.ErrorContext(ctx, "failed to read token metadata",
				"name", name.Status.String(),
				"symbol", symbol.Status.String(),
				"decimals", decimals.Status.String(),
				"total_supply", supply.Status.String(),
			)
			writeError(w, "token metadata not available", http.StatusBadGateway)
			return
		}

		resp := tokenResponse{
			Address:        rd.TokenAddress().Hex(),
			Name:           name.Value,
			Symbol:         symbol.Value,
			Decimals:       decimals.Value,
			TotalSupply:    bigString(supply.Value),
			TokenValueIDR:  bigString(rd.TokenValueIDR(ctx).OrElse(nil)),
			TotalInvestors: bigString(rd.TotalInvestors(ctx).OrElse(nil)),
		}
		if a := rd.TokenAdmin(ctx); a.Ok() {
			resp.Admin = a.Value.Hex()
		}
		if a := rd.LinkedRegistry(ctx); a.Ok() {
			resp.KYCRegistry = a.Value.Hex()
		}
		if a := rd.RegistryAdmin(ctx); a.Ok() {
			resp.RegistryAdmin = a.Value.Hex()
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetLimits returns a handler for GET /api/v1/limits.
func handleGetLimits(rd *reader.Reader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limits := rd.InvestmentLimits(r.Context())
		if limits.Failed || limits.Loading {
			logger.ErrorContext(r.Context(), "failed to read investment limits", "min", limits.Min.Err, "max", limits.Max.Err)
			writeError(w, "investment limits not available", http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{
			"min":     limits.Min.Value.String(),
			"max":     limits.Max.Value.String(),
			"display": investmentRange(limits),
		}, http.StatusOK)
	})
}

// accountResponse is one account's holdings and verification state.
type accountResponse struct {
	Address       string      `json:"address"`
	Balance       string      `json:"balance"`
	OwnershipBP   string      `json:"ownership_bp"`
	Ownership     string      `json:"ownership"`
	Frozen        bool        `json:"frozen"`
	Verified      bool        `json:"verified"`
	KYC           *kyc.Status `json:"kyc,omitempty"`
	Allowance     string      `json:"allowance,omitempty"`
	DisplayAmount string      `json:"display_balance"`
}

// handleGetAccount returns a handler for GET /api/v1/accounts/{address}.
// An optional ?spender= adds the allowance granted to spender.
func handleGetAccount(rd *reader.Reader, symbol string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		account, err := parseAddress(r.PathValue("address"), "address")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		balance := rd.Balance(ctx, &account)
		if !balance.Ok() {
			logger.ErrorContext(ctx, "failed to read balance", "address", account.Hex(), "error", balance.Err)
			writeError(w, "account not available", http.StatusBadGateway)
			return
		}
		bp := rd.OwnershipPercent(ctx, &account).OrElse(nil)
		resp := accountResponse{
			Address:       account.Hex(),
			Balance:       balance.Value.String(),
			OwnershipBP:   bigString(bp),
			Ownership:     format.FormatPercent(bp),
			Frozen:        rd.Frozen(ctx, &account).OrElse(false),
			Verified:      rd.IsVerified(ctx, &account).OrElse(false),
			DisplayAmount: format.FormatTokens(balance.Value, symbol),
		}
		if status := rd.KYCStatus(ctx, &account, time.Now()); status.Ok() {
			resp.KYC = &status.Value
		}

		if s := r.URL.Query().Get("spender"); s != "" {
			spender, err := parseAddress(s, "spender")
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			resp.Allowance = bigString(rd.Allowance(ctx, &account, &spender).OrElse(nil))
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetInvestor returns a handler for GET /api/v1/investors/{address}.
// An optional ?level= adds whether the investor meets that level.
func handleGetInvestor(rd *reader.Reader, svc *admin.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		address := r.PathValue("address")
		inv, err := svc.Lookup(ctx, address)
		var verr *admin.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, verr.Message, http.StatusBadRequest)
			return
		case err != nil:
			logger.ErrorContext(ctx, "failed to look up investor", "address", address, "error", err)
			writeError(w, "investor not available", http.StatusBadGateway)
			return
		case !inv.Found:
			writeError(w, admin.NotFoundMessage, http.StatusNotFound)
			return
		}

		resp := map[string]interface{}{"investor": inv}
		if l := r.URL.Query().Get("level"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil {
				writeError(w, "invalid level parameter: must be an integer", http.StatusBadRequest)
				return
			}
			level, err := kyc.ParseLevel(n)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			meets := rd.MeetsLevel(ctx, &inv.Address, level)
			if !meets.Ok() {
				writeError(w, "level check not available", http.StatusBadGateway)
				return
			}
			resp["meets_level"] = meets.Value
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleCheckTransfer returns a handler for
// GET /api/v1/transfers/check?from=&to=&amount=, asking the token contract
// whether the transfer would be allowed. amount is in whole tokens.
func handleCheckTransfer(rd *reader.Reader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := parseAddress(q.Get("from"), "from")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		to, err := parseAddress(q.Get("to"), "to")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		amount, err := format.ParseTokens(q.Get("amount"))
		if err != nil || amount.Sign() <= 0 {
			writeError(w, "invalid amount: must be a positive token amount", http.StatusBadRequest)
			return
		}

		check := rd.CanTransfer(r.Context(), &from, &to, amount)
		if !check.Ok() {
			logger.ErrorContext(r.Context(), "failed to check transfer", "from", from.Hex(), "to", to.Hex(), "error", check.Err)
			writeError(w, "transfer check not available", http.StatusBadGateway)
			return
		}
		writeJSON(w, check.Value, http.StatusOK)
	})
}

// handleCreateTransfer returns a handler for POST /api/v1/transfers. It
// validates like the transfer form and submits from the connected wallet.
func handleCreateTransfer(svc *transfer.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var in transfer.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			logger.Debug("failed to decode transfer request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		flow := &transfer.Flow{}
		err := svc.Preview(r.Context(), flow, in)
		var verr *transfer.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, verr.Message, http.StatusBadRequest)
			return
		case errors.Is(err, transfer.ErrNotConnected):
			writeError(w, "no wallet configured", http.StatusServiceUnavailable)
			return
		case errors.Is(err, transfer.ErrKYCRequired):
			writeError(w, "KYC verification required", http.StatusForbidden)
			return
		case err != nil:
			logger.ErrorContext(r.Context(), "transfer preview failed", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		a, err := svc.Confirm(r.Context(), flow)
		if err != nil {
			logger.ErrorContext(r.Context(), "transfer submit failed", "error", err)
			writeError(w, "failed to submit transfer", http.StatusInternalServerError)
			return
		}
		logger.InfoContext(r.Context(), "transfer submitted", "action_id", a.ID.String())
		writeJSON(w, a.Snapshot(), http.StatusAccepted)
	})
}

// actionGetter looks up actions still held by the runner.
type actionGetter interface {
	Get(id uuid.UUID) (*txn.Action, error)
}

// handleGetAction returns a handler for GET /api/v1/actions/{id}. Live
// actions come from the runner; older ones from the history when present.
func handleGetAction(runner actionGetter, history HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid action id", http.StatusBadRequest)
			return
		}

		if a, err := runner.Get(id); err == nil {
			writeJSON(w, a.Snapshot(), http.StatusOK)
			return
		}
		if history == nil {
			writeError(w, "action not found", http.StatusNotFound)
			return
		}

		rec, err := history.GetAction(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "action not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get action", "action_id", id.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rec, http.StatusOK)
	})
}

// handleListHistory returns a handler for
// GET /api/v1/history?account=ADDRESS&kind=KIND&limit=N&offset=N.
func handleListHistory(history HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			writeError(w, "action history not configured", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		account, err := parseAddress(query.Get("account"), "account")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := int32(defaultHistoryLimit)
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsed > maxHistoryLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxHistoryLimit), http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			parsed, err := strconv.Atoi(offsetStr)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsed)
		}

		records, err := history.ListActionsByAccount(r.Context(), db.ListActionsParams{
			Account: account.Hex(),
			Kind:    txn.Kind(query.Get("kind")),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list actions", "account", account.Hex(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		total, err := history.CountActionsByAccount(r.Context(), account.Hex())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count actions", "account", account.Hex(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("actions listed", "account", account.Hex(), "count", len(records))
		if records == nil {
			records = []*txn.Record{}
		}
		writeJSON(w, map[string]interface{}{
			"actions": records,
			"count":   len(records),
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseAddress validates a 0x address parameter.
func parseAddress(s, name string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, errorf("%s is required", name)
	}
	if !format.IsValidAddress(s) {
		return common.Address{}, errorf("invalid %s: must be a 0x-prefixed 40 character hex address", name)
	}
	return common.HexToAddress(s), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
