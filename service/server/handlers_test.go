package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/idproperty/service/admin"
	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/config"
	"github.com/brojonat/idproperty/service/db"
	"github.com/brojonat/idproperty/service/kyc"
	natspkg "github.com/brojonat/idproperty/service/nats"
	"github.com/brojonat/idproperty/service/query"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	explorer      = "https://explorer.sepolia.mantle.xyz"
	tokenContract = "0x1111111111111111111111111111111111111111"
	operatorToken = "operator-secret-token"
	allowedOrigin = "https://app.idproperty.example"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

type testEnv struct {
	fixture  *chain.Fixture
	wallet   *chain.MockWallet
	events   *natspkg.MockPublisher
	sessions *session.Store
	server   *httptest.Server
	jar      *cookiejar.Jar
	client   *http.Client
}

// newTestEnv serves the full handler against the chain fixture and logs the
// cookie jar in as the operator. A nil account runs the dashboard without a
// wallet.
func newTestEnv(t *testing.T, account *common.Address, history HistoryStore) *testEnv {
	t.Helper()
	env := newAnonymousEnv(t, account, history)
	if account != nil {
		env.login(t)
	}
	return env
}

// newAnonymousEnv is newTestEnv without the operator login.
func newAnonymousEnv(t *testing.T, account *common.Address, history HistoryStore) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := chain.NewFixture()

	events := natspkg.NewMockPublisher()
	runner, err := txn.NewRunner(txn.RunnerConfig{
		Waiter:    chain.NewReceiptPoller(f.Client, 5*time.Millisecond, 2*time.Second, logger),
		Publisher: events,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close(context.Background()) })

	env := &testEnv{fixture: f, events: events}
	var wallet chain.Wallet
	if account != nil {
		env.wallet = chain.NewMockWallet(*account)
		wallet = env.wallet
	}

	r := reader.New(f.Token, f.Registry, query.NewCache(128, time.Minute, nil, logger), logger)
	cfg := &config.Config{
		TokenSymbol:          "SDMN",
		ExplorerURL:          explorer,
		IPFSGatewayURL:       "https://ipfs.io/ipfs/",
		PropertyTokenAddress: tokenContract,
		OperatorToken:        operatorToken,
		CORSAllowedOrigins:   []string{allowedOrigin},
	}
	env.sessions = session.NewStore(64, time.Hour, false, logger)
	srv := New(":0", Deps{
		Config:    cfg,
		Reader:    r,
		Transfers: transfer.NewService(r, f.Token, wallet, runner, logger),
		Admin: admin.NewService(admin.Config{
			Reader:      r,
			Token:       f.Token,
			Registry:    f.Registry,
			Wallet:      wallet,
			Runner:      runner,
			ExplorerURL: explorer,
			Logger:      logger,
		}),
		Sessions: env.sessions,
		Runner:   runner,
		History:  history,
	}, nil, nil, logger)
	require.NoError(t, srv.WithTemplates())

	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)

	env.jar, err = cookiejar.New(nil)
	require.NoError(t, err)
	env.client = &http.Client{
		Jar: env.jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, string) {
	t.Helper()
	req := e.newRequest(t, method, path, body, contentType)
	return e.send(t, e.client, req)
}

func (e *testEnv) newRequest(t *testing.T, method, path string, body io.Reader, contentType string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

// send issues req with client, which need not share the env's cookie jar.
func (e *testEnv) send(t *testing.T, client *http.Client, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	return e.do(t, http.MethodGet, path, nil, "")
}

func (e *testEnv) postForm(t *testing.T, path string, values url.Values) *http.Response {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, path, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
	return resp
}

// postJSON posts body with the operator bearer token.
func (e *testEnv) postJSON(t *testing.T, path, body string) (*http.Response, string) {
	t.Helper()
	req := e.newRequest(t, http.MethodPost, path, strings.NewReader(body), "application/json")
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	return e.send(t, e.client, req)
}

// login exchanges the operator token for an operator session in the jar.
func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.postForm(t, "/login", url.Values{"token": {operatorToken}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

// stranger is a client with no cookies that does not follow redirects.
func stranger() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// session returns the server-side session bound to the cookie jar.
func (e *testEnv) session(t *testing.T) *session.Session {
	t.Helper()
	u, err := url.Parse(e.server.URL)
	require.NoError(t, err)
	for _, c := range e.jar.Cookies(u) {
		if c.Name == session.CookieName {
			sess, ok := e.sessions.Get(c.Value)
			require.True(t, ok)
			return sess
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func verify(f *chain.Fixture, account common.Address) {
	f.SetInvestor(account, kyc.Investor{
		Level:       kyc.LevelBasic,
		ExpiryDate:  time.Now().Add(365 * 24 * time.Hour).Unix(),
		CountryCode: 360,
		IsActive:    true,
	}, true)
}

func decode(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

// fakeHistory is an in-memory HistoryStore.
type fakeHistory struct {
	records []*txn.Record
	params  db.ListActionsParams
}

func (h *fakeHistory) GetAction(ctx context.Context, id uuid.UUID) (*txn.Record, error) {
	for _, r := range h.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, db.ErrNotFound
}

func (h *fakeHistory) ListActionsByAccount(ctx context.Context, params db.ListActionsParams) ([]*txn.Record, error) {
	h.params = params
	var out []*txn.Record
	for _, r := range h.records {
		if strings.EqualFold(r.Account, params.Account) && (params.Kind == "" || r.Kind == params.Kind) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *fakeHistory) CountActionsByAccount(ctx context.Context, account string) (int64, error) {
	var n int64
	for _, r := range h.records {
		if strings.EqualFold(r.Account, account) {
			n++
		}
	}
	return n, nil
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "allowed origin", origin: allowedOrigin, wantOrigin: allowedOrigin},
		{name: "foreign origin", origin: "https://evil.example", wantOrigin: ""},
		{name: "no origin", origin: "", wantOrigin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.newRequest(t, http.MethodOptions, "/api/v1/transfers", nil, "")
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, _ := env.send(t, env.client, req)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			assert.Equal(t, tt.wantOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
			assert.NotEqual(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestGetProperty(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.get(t, "/api/v1/property")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode(t, body)
	assert.Equal(t, "Sudirman Residence", got["name"])
	assert.Equal(t, "Jakarta Selatan", got["location"])
	assert.Equal(t, "10000000000", got["total_value"])
	assert.Equal(t, "https://ipfs.io/ipfs/QmLegalDocument", got["legal_document_url"])
	assert.Equal(t, "10000", got["token_value_idr"])
	assert.Equal(t, true, got["is_active"])
}

func TestGetTokenAndLimits(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.get(t, "/api/v1/token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode(t, body)
	assert.Equal(t, "SDMN", got["symbol"])
	assert.Equal(t, float64(18), got["decimals"])
	assert.Equal(t, chain.FixtureTokenAdmin.Hex(), got["admin"])
	assert.Equal(t, chain.FixtureRegistryAddress.Hex(), got["kyc_registry"])
	assert.Equal(t, chain.FixtureRegistryAdmin.Hex(), got["registry_admin"])

	resp, body = env.get(t, "/api/v1/limits")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode(t, body)
	assert.Equal(t, chain.Tokens(1).String(), got["min"])
	assert.Equal(t, chain.Tokens(100_000).String(), got["max"])
	assert.Equal(t, "1 - 100.000", got["display"])
}

func TestGetAccount(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.fixture.SetBalance(alice, chain.Tokens(250))
	env.fixture.SetOwnership(alice, 25)
	verify(env.fixture, alice)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "short address", path: "/api/v1/accounts/0x1234", wantStatus: http.StatusBadRequest},
		{name: "not hex", path: "/api/v1/accounts/0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", wantStatus: http.StatusBadRequest},
		{name: "bad spender", path: "/api/v1/accounts/" + alice.Hex() + "?spender=nope", wantStatus: http.StatusBadRequest},
		{name: "valid", path: "/api/v1/accounts/" + alice.Hex(), wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, tt.path)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
		})
	}

	_, body := env.get(t, "/api/v1/accounts/"+alice.Hex())
	got := decode(t, body)
	assert.Equal(t, chain.Tokens(250).String(), got["balance"])
	assert.Equal(t, "25", got["ownership_bp"])
	assert.Equal(t, "0.25%", got["ownership"])
	assert.Equal(t, true, got["verified"])
	assert.Equal(t, "250.00 SDMN", got["display_balance"])
	status, ok := got["kyc"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Indonesia", status["country"])
}

func TestGetInvestor(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	verify(env.fixture, alice)

	resp, _ := env.get(t, "/api/v1/investors/0x1234")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.get(t, "/api/v1/investors/"+bob.Hex())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, admin.NotFoundMessage, decode(t, body)["error"])

	resp, body = env.get(t, "/api/v1/investors/"+alice.Hex())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inv, ok := decode(t, body)["investor"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, inv["verified"])

	resp, _ = env.get(t, "/api/v1/investors/"+alice.Hex()+"?level=9")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.get(t, "/api/v1/investors/"+alice.Hex()+"?level=x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckTransfer(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "missing from", query: "to=" + bob.Hex() + "&amount=1", wantStatus: http.StatusBadRequest},
		{name: "bad to", query: "from=" + alice.Hex() + "&to=0x12&amount=1", wantStatus: http.StatusBadRequest},
		{name: "zero amount", query: "from=" + alice.Hex() + "&to=" + bob.Hex() + "&amount=0", wantStatus: http.StatusBadRequest},
		{name: "junk amount", query: "from=" + alice.Hex() + "&to=" + bob.Hex() + "&amount=ten", wantStatus: http.StatusBadRequest},
		{name: "valid", query: "from=" + alice.Hex() + "&to=" + bob.Hex() + "&amount=10", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, "/api/v1/transfers/check?"+tt.query)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
		})
	}

	_, body := env.get(t, "/api/v1/transfers/check?from="+alice.Hex()+"&to="+bob.Hex()+"&amount=10")
	assert.Equal(t, true, decode(t, body)["allowed"])
}

func TestCreateTransfer_PathologicalInput(t *testing.T) {
	readOnly := newTestEnv(t, nil, nil)
	resp, _ := readOnly.postJSON(t, "/api/v1/transfers", `{"recipient":"`+bob.Hex()+`","amount":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	unverified := newTestEnv(t, &alice, nil)
	unverified.fixture.SetBalance(alice, chain.Tokens(100))
	resp, _ = unverified.postJSON(t, "/api/v1/transfers", `{"recipient":"`+bob.Hex()+`","amount":"1"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env := newTestEnv(t, &alice, nil)
	verify(env.fixture, alice)
	env.fixture.SetBalance(alice, chain.Tokens(100))

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{name: "extremely large request body", body: `{"recipient":"` + strings.Repeat("A", 2*1024*1024) + `"}`, wantError: "request body too large"},
		{name: "malformed JSON", body: `{"recipient":`, wantError: "invalid request body"},
		{name: "bad recipient", body: `{"recipient":"0x12","amount":"1"}`, wantError: "Please enter a valid address"},
		{name: "missing amount", body: `{"recipient":"` + bob.Hex() + `"}`, wantError: "Please enter an amount"},
		{name: "insufficient balance", body: `{"recipient":"` + bob.Hex() + `","amount":"150"}`, wantError: "Insufficient balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.postJSON(t, "/api/v1/transfers", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, tt.wantError)
		})
	}
	assert.Empty(t, env.wallet.Sent())
}

func TestCreateTransfer_RequiresOperatorToken(t *testing.T) {
	env := newAnonymousEnv(t, &alice, nil)
	verify(env.fixture, alice)
	env.fixture.SetBalance(alice, chain.Tokens(100))
	body := `{"recipient":"` + bob.Hex() + `","amount":"10"}`

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token", header: ""},
		{name: "wrong token", header: "Bearer not-the-operator-token"},
		{name: "not a bearer", header: "Basic " + operatorToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.newRequest(t, http.MethodPost, "/api/v1/transfers", strings.NewReader(body), "application/json")
			req.Header.Set("Origin", "https://evil.example")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, respBody := env.send(t, stranger(), req)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, respBody, "missing or invalid operator token")
			assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
	assert.Empty(t, env.wallet.Sent())
}

func TestCreateTransfer_Submits(t *testing.T) {
	env := newTestEnv(t, &alice, nil)
	verify(env.fixture, alice)
	env.fixture.SetBalance(alice, chain.Tokens(100))

	resp, body := env.postJSON(t, "/api/v1/transfers", `{"recipient":"`+bob.Hex()+`","amount":"10"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	got := decode(t, body)
	assert.Equal(t, "transfer", got["kind"])
	assert.Equal(t, alice.Hex(), got["account"])

	id, err := uuid.Parse(got["id"].(string))
	require.NoError(t, err)
	resp, body = env.get(t, "/api/v1/actions/"+id.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id.String(), decode(t, body)["id"])
	require.Eventually(t, func() bool { return len(env.wallet.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Lifecycle events are published for the submitting account.
	require.Eventually(t, func() bool {
		return len(env.events.GetPublishedEventsForAccount(alice.Hex())) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, id.String(), env.events.GetPublishedEventsForAccount(alice.Hex())[0].ActionID)
	assert.Empty(t, env.events.GetPublishedEventsForAccount(bob.Hex()))
}

func TestGetAction(t *testing.T) {
	known := &txn.Record{ID: uuid.New(), Kind: txn.KindTransfer, Account: alice.Hex(), Phase: txn.PhaseSucceeded}
	env := newTestEnv(t, nil, &fakeHistory{records: []*txn.Record{known}})

	resp, _ := env.get(t, "/api/v1/actions/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.get(t, "/api/v1/actions/"+uuid.New().String())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.get(t, "/api/v1/actions/"+known.ID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "succeeded", decode(t, body)["phase"])

	noHistory := newTestEnv(t, nil, nil)
	resp, _ = noHistory.get(t, "/api/v1/actions/"+known.ID.String())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListHistory(t *testing.T) {
	noHistory := newTestEnv(t, nil, nil)
	resp, _ := noHistory.get(t, "/api/v1/history?account="+alice.Hex())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	history := &fakeHistory{records: []*txn.Record{
		{ID: uuid.New(), Kind: txn.KindTransfer, Account: alice.Hex(), Phase: txn.PhaseSucceeded},
		{ID: uuid.New(), Kind: txn.KindFreezeAccount, Account: alice.Hex(), Phase: txn.PhaseFailed},
	}}
	env := newTestEnv(t, nil, history)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "missing account", query: "", wantStatus: http.StatusBadRequest},
		{name: "limit zero", query: "account=" + alice.Hex() + "&limit=0", wantStatus: http.StatusBadRequest},
		{name: "limit too large", query: "account=" + alice.Hex() + "&limit=1000", wantStatus: http.StatusBadRequest},
		{name: "limit not a number", query: "account=" + alice.Hex() + "&limit=abc", wantStatus: http.StatusBadRequest},
		{name: "negative offset", query: "account=" + alice.Hex() + "&offset=-1", wantStatus: http.StatusBadRequest},
		{name: "valid", query: "account=" + alice.Hex(), wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, "/api/v1/history?"+tt.query)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
		})
	}

	_, body := env.get(t, "/api/v1/history?account="+alice.Hex()+"&kind=transfer&limit=5&offset=2")
	got := decode(t, body)
	assert.Equal(t, float64(1), got["count"])
	assert.Equal(t, float64(2), got["total"])
	assert.Equal(t, db.ListActionsParams{Account: alice.Hex(), Kind: "transfer", Limit: 5, Offset: 2}, history.params)
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, body := env.get(t, "/api/v1/session")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode(t, body)
	assert.Equal(t, false, got["connected"])
	flow := got["transfer"].(map[string]interface{})
	assert.Equal(t, "form", flow["step"])
	assert.Equal(t, "idle", flow["phase"])

	// A visitor without the operator login is not the wallet.
	anonymous := newAnonymousEnv(t, &chain.FixtureTokenAdmin, nil)
	_, body = anonymous.get(t, "/api/v1/session")
	got = decode(t, body)
	assert.Equal(t, false, got["connected"])
	assert.Equal(t, false, got["capabilities"].(map[string]interface{})["is_token_admin"])

	tokenAdmin := newTestEnv(t, &chain.FixtureTokenAdmin, nil)
	_, body = tokenAdmin.get(t, "/api/v1/session")
	got = decode(t, body)
	assert.Equal(t, true, got["connected"])
	caps := got["capabilities"].(map[string]interface{})
	assert.Equal(t, true, caps["is_token_admin"])
	assert.Equal(t, false, caps["is_kyc_admin"])
}
