package reader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/kyc"
	"github.com/brojonat/idproperty/service/query"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestReader(t *testing.T) (*Reader, *chain.Fixture) {
	t.Helper()
	f := chain.NewFixture()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := query.NewCache(128, time.Minute, nil, logger)
	return New(f.Token, f.Registry, cache, logger), f
}

func TestReader_AbsentAddressIsNotIssued(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()

	assert.Equal(t, query.NotLoaded, r.Balance(ctx, nil).Status)
	assert.Equal(t, query.NotLoaded, r.Frozen(ctx, nil).Status)
	assert.Equal(t, query.NotLoaded, r.IsVerified(ctx, nil).Status)
	assert.Equal(t, query.NotLoaded, r.Investor(ctx, nil).Status)
	assert.Equal(t, query.NotLoaded, r.CanTransfer(ctx, &alice, nil, big.NewInt(1)).Status)
	assert.Equal(t, query.NotLoaded, r.CanTransfer(ctx, &alice, &bob, big.NewInt(0)).Status)
	assert.Equal(t, query.NotLoaded, r.KYCStatus(ctx, nil, time.Now()).Status)

	assert.Equal(t, 0, f.RPC.Calls(f.TokenAddress, "balanceOf"))
	assert.Equal(t, 0, f.RPC.Calls(f.TokenAddress, "canTransfer"))
	assert.Equal(t, 0, f.RPC.Calls(f.RegistryAddress, "isVerified"))
}

func TestReader_CachesPerCallSignature(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()
	f.SetBalance(alice, chain.Tokens(100))
	f.SetBalance(bob, chain.Tokens(5))

	a := r.Balance(ctx, &alice)
	b := r.Balance(ctx, &bob)
	r.Balance(ctx, &alice)

	require.True(t, a.Ok())
	assert.Equal(t, 0, a.Value.Cmp(chain.Tokens(100)))
	assert.Equal(t, 0, b.Value.Cmp(chain.Tokens(5)))
	assert.Equal(t, 2, f.RPC.Calls(f.TokenAddress, "balanceOf"))
}

func TestReader_FailedRead(t *testing.T) {
	r, f := newTestReader(t)
	f.RPC.SetError(f.TokenAddress, chain.PropertyTokenABI, "property", errors.New("node down"))

	res := r.Property(context.Background())
	assert.Equal(t, query.Failed, res.Status)
	assert.Error(t, res.Err)
}

func TestReader_InvestmentLimits(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()

	limits := r.InvestmentLimits(ctx)
	assert.False(t, limits.Loading)
	assert.False(t, limits.Failed)
	assert.Equal(t, 0, limits.Min.Value.Cmp(chain.Tokens(1)))
	assert.Equal(t, 0, limits.Max.Value.Cmp(chain.Tokens(100_000)))

	r.InvalidateLimits()
	f.RPC.SetError(f.TokenAddress, chain.PropertyTokenABI, "maxInvestment", errors.New("boom"))
	limits = r.InvestmentLimits(ctx)
	assert.True(t, limits.Failed)
	assert.True(t, limits.Min.Ok())
}

func TestReader_KYCStatus(t *testing.T) {
	r, f := newTestReader(t)
	now := time.Unix(1_700_000_000, 0)
	f.SetInvestor(alice, kyc.Investor{
		Level:       kyc.LevelBasic,
		ExpiryDate:  now.Unix() + 5*86400,
		CountryCode: 702,
		IsActive:    true,
	}, true)

	res := r.KYCStatus(context.Background(), &alice, now)
	require.True(t, res.Ok())
	assert.True(t, res.Value.Registered)
	assert.True(t, res.Value.Verified)
	assert.Equal(t, 5, res.Value.DaysRemaining)
	assert.True(t, res.Value.ExpiringSoon)
	assert.Equal(t, "Singapore", res.Value.Country)

	res = r.KYCStatus(context.Background(), &bob, now)
	require.True(t, res.Ok())
	assert.False(t, res.Value.Registered)
}

func TestReader_InvalidateTransfer(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()
	carol := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

	r.Balance(ctx, &alice)
	r.Balance(ctx, &bob)
	r.Balance(ctx, &carol)
	r.CanTransfer(ctx, &alice, &bob, big.NewInt(1))
	r.Property(ctx)

	dropped := r.InvalidateTransfer(alice, bob)
	assert.Equal(t, 3, dropped)

	r.Balance(ctx, &alice)
	r.Balance(ctx, &carol)
	r.Property(ctx)
	assert.Equal(t, 4, f.RPC.Calls(f.TokenAddress, "balanceOf"))
	assert.Equal(t, 1, f.RPC.Calls(f.TokenAddress, "property"))
}

func TestReader_InvalidateInvestor(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()

	r.IsVerified(ctx, &alice)
	r.IsVerified(ctx, &bob)
	r.TotalInvestors(ctx)

	r.InvalidateInvestor(alice)

	r.IsVerified(ctx, &alice)
	r.IsVerified(ctx, &bob)
	r.TotalInvestors(ctx)
	assert.Equal(t, 3, f.RPC.Calls(f.RegistryAddress, "isVerified"))
	assert.Equal(t, 2, f.RPC.Calls(f.RegistryAddress, "totalInvestors"))
}

func TestReader_Refresh(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx))
	require.NoError(t, r.Refresh(ctx))
	assert.Equal(t, 2, f.RPC.Calls(f.TokenAddress, "property"))
	assert.Equal(t, 2, f.RPC.Calls(f.RegistryAddress, "admin"))

	f.RPC.SetError(f.TokenAddress, chain.PropertyTokenABI, "getTokenValueIDR", errors.New("boom"))
	assert.Error(t, r.Refresh(ctx))
}

func TestReader_RefreshKeepsValuesWhenNodeFails(t *testing.T) {
	r, f := newTestReader(t)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	boom := errors.New("node unavailable")
	f.RPC.SetError(f.TokenAddress, chain.PropertyTokenABI, "admin", boom)
	f.RPC.SetError(f.RegistryAddress, chain.KYCRegistryABI, "admin", boom)
	f.RPC.SetError(f.TokenAddress, chain.PropertyTokenABI, "totalSupply", boom)
	require.Error(t, r.Refresh(ctx))

	// cached reads answer without touching the failing node
	before := f.RPC.Calls(f.TokenAddress, "admin")
	tokenAdmin := r.TokenAdmin(ctx)
	require.True(t, tokenAdmin.Ok())
	assert.Equal(t, chain.FixtureTokenAdmin, tokenAdmin.Value)
	registryAdmin := r.RegistryAdmin(ctx)
	require.True(t, registryAdmin.Ok())
	assert.Equal(t, chain.FixtureRegistryAdmin, registryAdmin.Value)
	supply := r.TotalSupply(ctx)
	require.True(t, supply.Ok())
	assert.Equal(t, chain.Tokens(1_000_000), supply.Value)
	assert.Equal(t, before, f.RPC.Calls(f.TokenAddress, "admin"))

	// once the node recovers the next refresh picks up new values
	f.SetAdmins(alice, bob)
	require.NoError(t, r.Refresh(ctx))
	assert.Equal(t, alice, r.TokenAdmin(ctx).Value)
	assert.Equal(t, bob, r.RegistryAdmin(ctx).Value)
}

func TestRefresher_InvalidSchedule(t *testing.T) {
	r, _ := newTestReader(t)
	_, err := NewRefresher(r, "not a schedule", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	rf, err := NewRefresher(r, "@every 1h", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	rf.Start()
	rf.Stop()
}
