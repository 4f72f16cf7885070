package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Property is the on-chain property record. Amounts are decimal strings
// of the raw integer values.
type Property struct {
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

// Token is the token metadata and its administrators.
type Token struct {
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

// Limits are the per-investor bounds in raw token units.
type Limits struct {
	Min     string `json:"min"`
	Max     string `json:"max"`
	Display string `json:"display"`
}

// KYCStatus is an account's derived verification state.
type KYCStatus struct {
	Registered    bool   `json:"registered"`
	Verified      bool   `json:"verified"`
	Level         int    `json:"level"`
	LevelLabel    string `json:"level_label"`
	ExpiryDate    int64  `json:"expiry_date"`
	Expired       bool   `json:"expired"`
	DaysRemaining int    `json:"days_remaining"`
	ExpiringSoon  bool   `json:"expiring_soon"`
	CountryCode   uint16 `json:"country_code"`
	Country       string `json:"country"`
}

// Account is one address's holdings.
type Account struct {
	Address        string     `json:"address"`
	Balance        string     `json:"balance"`
	OwnershipBP    string     `json:"ownership_bp"`
	Ownership      string     `json:"ownership"`
	Frozen         bool       `json:"frozen"`
	Verified       bool       `json:"verified"`
	KYC            *KYCStatus `json:"kyc,omitempty"`
	Allowance      string     `json:"allowance,omitempty"`
	DisplayBalance string     `json:"display_balance"`
}

// Investor is a registry record.
type Investor struct {
	Address     string `json:"address"`
	Short       string `json:"short"`
	Found       bool   `json:"found"`
	Verified    bool   `json:"verified"`
	Level       int    `json:"level"`
	ExpiryDate  string `json:"expiry_date"`
	CountryCode uint16 `json:"country_code"`
	Badge       struct {
		Label string `json:"label"`
		Color string `json:"color"`
	} `json:"badge"`
}

// TransferCheck is the token contract's verdict on a transfer.
type TransferCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Action is a write submitted through the dashboard.
type Action struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Account   string            `json:"account"`
	Phase     string            `json:"phase"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Error     string            `json:"error,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Block     uint64            `json:"block,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Terminal reports whether the action has finished.
func (a *Action) Terminal() bool {
	return a.Phase == PhaseSucceeded || a.Phase == PhaseFailed
}

// ActionEvent is one lifecycle transition delivered over the stream.
type ActionEvent struct {
	ActionID    string            `json:"action_id"`
	Kind        string            `json:"kind"`
	Account     string            `json:"account"`
	Phase       string            `json:"phase"`
	TxHash      string            `json:"tx_hash,omitempty"`
	Error       string            `json:"error,omitempty"`
	Block       uint64            `json:"block,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
	PublishedAt time.Time         `json:"published_at"`
}

// Terminal reports whether the event ends its action's lifecycle.
func (e *ActionEvent) Terminal() bool {
	return e.Phase == PhaseSucceeded || e.Phase == PhaseFailed
}

// Terminal action phases.
const (
	PhaseSucceeded = "succeeded"
	PhaseFailed    = "failed"
)

// HistoryParams filters an account's action history.
type HistoryParams struct {
	Account string
	Limit   int
	Offset  int
}

// History is one page of action history.
type History struct {
	Actions []*Action `json:"actions"`
	Count   int       `json:"count"`
	Total   int64     `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the IDProperty dashboard API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new dashboard API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// WithToken sets the operator token sent as a bearer token on writes.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// Property fetches the property record.
func (c *Client) Property(ctx context.Context) (*Property, error) {
	var out Property
	if err := c.getJSON(ctx, "/api/v1/property", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Token fetches token metadata.
func (c *Client) Token(ctx context.Context) (*Token, error) {
	var out Token
	if err := c.getJSON(ctx, "/api/v1/token", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Limits fetches the investment limits.
func (c *Client) Limits(ctx context.Context) (*Limits, error) {
	var out Limits
	if err := c.getJSON(ctx, "/api/v1/limits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account fetches an address's holdings. A non-empty spender adds the
// allowance granted to it.
func (c *Client) Account(ctx context.Context, address, spender string) (*Account, error) {
	q := url.Values{}
	if spender != "" {
		q.Set("spender", spender)
	}
	var out Account
	if err := c.getJSON(ctx, "/api/v1/accounts/"+url.PathEscape(address), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Investor looks up a registry record. A level above zero also asks
// whether the investor meets it; the answer is nil otherwise.
func (c *Client) Investor(ctx context.Context, address string, level int) (*Investor, *bool, error) {
	q := url.Values{}
	if level > 0 {
		q.Set("level", strconv.Itoa(level))
	}
	var out struct {
		Investor   *Investor `json:"investor"`
		MeetsLevel *bool     `json:"meets_level,omitempty"`
	}
	if err := c.getJSON(ctx, "/api/v1/investors/"+url.PathEscape(address), q, &out); err != nil {
		return nil, nil, err
	}
	return out.Investor, out.MeetsLevel, nil
}

// CheckTransfer asks whether a transfer of amount whole tokens would be
// allowed.
func (c *Client) CheckTransfer(ctx context.Context, from, to, amount string) (*TransferCheck, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	q.Set("amount", amount)
	var out TransferCheck
	if err := c.getJSON(ctx, "/api/v1/transfers/check", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer submits a transfer from the server's wallet. The returned
// action is still in flight; use AwaitAction or Action to follow it.
func (c *Client) Transfer(ctx context.Context, recipient, amount string) (*Action, error) {
	body, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"amount":    amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var out Action
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("transfer submitted", "action_id", out.ID, "recipient", recipient, "amount", amount)
	return &out, nil
}

// Action fetches an action by id.
func (c *Client) Action(ctx context.Context, id string) (*Action, error) {
	var out Action
	if err := c.getJSON(ctx, "/api/v1/actions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists an account's actions, newest first.
func (c *Client) History(ctx context.Context, params HistoryParams) (*History, error) {
	q := url.Values{}
	q.Set("account", params.Account)
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	var out History
	if err := c.getJSON(ctx, "/api/v1/history", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Stream delivers action events for account (every account when empty)
// to fn until ctx is done, the stream ends, or fn returns an error.
// Returning ErrStopStream from fn ends the stream without error.
func (c *Client) Stream(ctx context.Context, account string, fn func(*ActionEvent) error) error {
	u := c.baseURL + "/api/v1/stream/actions"
	if account != "" {
		u += "/" + url.PathEscape(account)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the client's request timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if currentData != "" && (currentEvent == "" || currentEvent == "action") {
				var event ActionEvent
				if err := json.Unmarshal([]byte(currentData), &event); err != nil {
					c.logger.Warn("failed to decode action event", "error", err)
				} else if err := fn(&event); err != nil {
					if errors.Is(err, ErrStopStream) {
						return nil
					}
					return err
				}
			}
			currentEvent, currentData = "", ""
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

// ErrStopStream ends Stream cleanly when returned from its callback.
var ErrStopStream = errors.New("stop stream")

// AwaitAction blocks until the action with id reaches a terminal phase on
// account's stream and returns its final event.
func (c *Client) AwaitAction(ctx context.Context, account, id string) (*ActionEvent, error) {
	var final *ActionEvent
	err := c.Stream(ctx, account, func(e *ActionEvent) error {
		if e.ActionID != id || !e.Terminal() {
			return nil
		}
		final = e
		return ErrStopStream
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("stream closed before action %s finished", id)
	}
	return final, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
