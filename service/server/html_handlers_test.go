package server

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomePage(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Sudirman Residence")
	assert.Contains(t, body, "Featured Property")
	assert.Contains(t, body, "Read-only")

	resp, _ = env.get(t, "/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPropertyPage_Calculator(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, body := env.get(t, "/property?tokens=100")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Investment Calculator")
	assert.Contains(t, body, "Rp\u00a01.000.000")
	assert.Contains(t, body, "0.01%")
	assert.Contains(t, body, explorer+"/address/"+tokenContract)
}

func TestAdminPage_Gating(t *testing.T) {
	t.Run("no wallet", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		resp, body := env.get(t, "/admin")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Connect Your Wallet")
	})

	t.Run("wallet configured but not logged in", func(t *testing.T) {
		env := newAnonymousEnv(t, &chain.FixtureTokenAdmin, nil)
		resp, body := env.get(t, "/admin")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Connect Your Wallet")
		assert.Contains(t, body, `href="/login"`)
		assert.NotContains(t, body, "Token Management")
	})

	t.Run("not an admin", func(t *testing.T) {
		env := newTestEnv(t, &alice, nil)
		resp, _ := env.get(t, "/admin")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
	})

	t.Run("registry admin", func(t *testing.T) {
		env := newTestEnv(t, &chain.FixtureRegistryAdmin, nil)
		resp, body := env.get(t, "/admin")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "KYC Management")
		assert.NotContains(t, body, "Token Management")

		resp = env.postForm(t, "/admin/forms/limits", url.Values{"min": {"1"}, "max": {"10"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Empty(t, env.wallet.Sent())
	})

	t.Run("token admin", func(t *testing.T) {
		env := newTestEnv(t, &chain.FixtureTokenAdmin, nil)
		_, body := env.get(t, "/admin?tab=token")
		assert.Contains(t, body, "Token Management")
		assert.NotContains(t, body, "KYC Management")
	})
}

func TestAdminSubmit_RefusesForeignWrites(t *testing.T) {
	env := newTestEnv(t, &chain.FixtureTokenAdmin, nil)
	form := url.Values{"from": {alice.Hex()}, "to": {bob.Hex()}, "amount": {"5"}, "reason": {"court order"}}

	post := func(t *testing.T, client *http.Client, origin string) *http.Response {
		t.Helper()
		req := env.newRequest(t, http.MethodPost, "/admin/forms/force-transfer", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, _ := env.send(t, client, req)
		return resp
	}

	t.Run("cookieless cross-origin", func(t *testing.T) {
		resp := post(t, stranger(), "https://evil.example")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("operator cookie cross-origin", func(t *testing.T) {
		resp := post(t, env.client, "https://evil.example")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("opaque origin", func(t *testing.T) {
		resp := post(t, env.client, "null")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("cookieless same-origin", func(t *testing.T) {
		resp := post(t, stranger(), "")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
	})

	t.Run("anonymous transfer", func(t *testing.T) {
		req := env.newRequest(t, http.MethodPost, "/transfer/confirm", nil, "")
		resp, _ := env.send(t, stranger(), req)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
	})

	assert.Empty(t, env.wallet.Sent())
}

func TestLogin(t *testing.T) {
	env := newAnonymousEnv(t, &chain.FixtureTokenAdmin, nil)

	resp, body := env.get(t, "/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Operator Login")

	resp, body = env.do(t, http.MethodPost, "/login", strings.NewReader(url.Values{"token": {"guess"}}.Encode()), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid operator token")
	_, body = env.get(t, "/admin")
	assert.Contains(t, body, "Connect Your Wallet")

	req := env.newRequest(t, http.MethodPost, "/login", strings.NewReader(url.Values{"token": {operatorToken}}.Encode()), "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://evil.example")
	resp, _ = env.send(t, env.client, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env.login(t)
	resp, body = env.get(t, "/admin?tab=token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Token Management")
	assert.Contains(t, body, "Log Out")

	resp = env.postForm(t, "/logout", url.Values{})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = env.get(t, "/admin")
	assert.Contains(t, body, "Connect Your Wallet")
}

func TestLogin_ReadOnly(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, body := env.get(t, "/login")
	assert.Contains(t, body, "Operator Login")
	assert.NotContains(t, body, `href="/login"`)
}

func TestAdminSubmit_ValidationFlash(t *testing.T) {
	env := newTestEnv(t, &chain.FixtureRegistryAdmin, nil)

	resp := env.postForm(t, "/admin/forms/register", url.Values{"address": {"0x1234"}, "level": {"1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/admin?tab=kyc", resp.Header.Get("Location"))

	_, body := env.get(t, "/admin?tab=kyc")
	assert.Contains(t, body, "Please enter a valid wallet address")
	assert.Empty(t, env.wallet.Sent())

	// Flashes are shown once.
	_, body = env.get(t, "/admin?tab=kyc")
	assert.NotContains(t, body, "Please enter a valid wallet address")

	resp = env.postForm(t, "/admin/forms/bogus", url.Values{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransferPage_NotConnected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, body := env.get(t, "/transfer")
	assert.Contains(t, body, "Connect your wallet to transfer tokens.")
}

func TestTransferPage_KYCRequired(t *testing.T) {
	env := newTestEnv(t, &alice, nil)
	env.fixture.SetBalance(alice, chain.Tokens(100))

	_, body := env.get(t, "/transfer")
	assert.Contains(t, body, "KYC Verification Required")
	assert.NotContains(t, body, "Send Tokens")
}

func TestTransferFlow(t *testing.T) {
	env := newTestEnv(t, &alice, nil)
	verify(env.fixture, alice)
	env.fixture.SetBalance(alice, chain.Tokens(100))

	_, body := env.get(t, "/transfer")
	assert.Contains(t, body, "Send Tokens")

	resp := env.postForm(t, "/transfer/preview", url.Values{"recipient": {bob.Hex()}, "amount": {"150"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/transfer", resp.Header.Get("Location"))
	_, body = env.get(t, "/transfer")
	assert.Contains(t, body, "Insufficient balance")
	assert.Equal(t, 0, env.fixture.RPC.Calls(env.fixture.TokenAddress, "canTransfer"))

	env.postForm(t, "/transfer/preview", url.Values{"recipient": {bob.Hex()}, "amount": {"10"}})
	_, body = env.get(t, "/transfer")
	assert.Contains(t, body, "Confirm Transfer")
	assert.Contains(t, body, "Rp\u00a0100.000")

	resp = env.postForm(t, "/transfer/confirm", url.Values{})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	a := env.session(t).Transfer.View().Action
	require.NotNil(t, a)
	require.Eventually(t, func() bool {
		_, ok := a.State().(txn.Confirming)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, body = env.get(t, "/transfer")
	assert.Contains(t, body, `http-equiv="refresh"`)

	hash, _ := txn.HashOf(a.State())
	env.fixture.Mine(hash, true)
	<-a.Done()

	_, body = env.get(t, "/transfer")
	assert.Contains(t, body, "Transfer Successful!")
	assert.Contains(t, body, "Transfer successful!")
	assert.Contains(t, body, explorer+"/tx/"+hash.Hex())

	// The toast is shown once; the success card stays until reset.
	_, body = env.get(t, "/transfer")
	assert.NotContains(t, body, "Transfer successful!")
	assert.Contains(t, body, "Transfer Successful!")

	env.postForm(t, "/transfer/reset", url.Values{})
	_, body = env.get(t, "/transfer")
	assert.Contains(t, body, "Send Tokens")
	assert.NotContains(t, body, "Transfer Successful!")
}

func TestTransferFlow_WalletRejected(t *testing.T) {
	env := newTestEnv(t, &alice, nil)
	verify(env.fixture, alice)
	env.fixture.SetBalance(alice, chain.Tokens(100))
	env.wallet.FailWith(chain.ErrUserRejected)

	env.postForm(t, "/transfer/preview", url.Values{"recipient": {bob.Hex()}, "amount": {"10"}})
	env.postForm(t, "/transfer/confirm", url.Values{})
	a := env.session(t).Transfer.View().Action
	require.NotNil(t, a)
	<-a.Done()

	_, body := env.get(t, "/transfer")
	assert.Contains(t, body, "Transaction Failed")
	assert.Contains(t, body, "Try Again")
}

func TestFavicon(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, _ := env.get(t, "/favicon.ico")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
