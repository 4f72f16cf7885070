// Package reader exposes cached contract reads and the values derived from
// them. Every accessor returns a query.Result; accessors whose address
// argument is nil return the not-loaded state without calling the node.
package reader

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/kyc"
	"github.com/brojonat/idproperty/service/query"
	"github.com/ethereum/go-ethereum/common"
)

// Reader serves contract reads through the query cache.
type Reader struct {
	token    *chain.TokenContract
	registry *chain.RegistryContract
	cache    *query.Cache
	logger   *slog.Logger
}

// New creates a Reader.
func New(token *chain.TokenContract, registry *chain.RegistryContract, cache *query.Cache, logger *slog.Logger) *Reader {
	return &Reader{token: token, registry: registry, cache: cache, logger: logger}
}

// TokenAddress returns the token contract address.
func (r *Reader) TokenAddress() common.Address { return r.token.Address() }

// RegistryAddress returns the registry contract address.
func (r *Reader) RegistryAddress() common.Address { return r.registry.Address() }

func (r *Reader) tokenKey(fn string, args ...interface{}) query.Key {
	return query.NewKey(r.token.Address().Hex(), fn, args...)
}

func (r *Reader) registryKey(fn string, args ...interface{}) query.Key {
	return query.NewKey(r.registry.Address().Hex(), fn, args...)
}

// Token reads

func (r *Reader) Name(ctx context.Context) query.Result[string] {
	return query.Get(ctx, r.cache, r.tokenKey("name"), r.token.Name)
}

func (r *Reader) Symbol(ctx context.Context) query.Result[string] {
	return query.Get(ctx, r.cache, r.tokenKey("symbol"), r.token.Symbol)
}

func (r *Reader) Decimals(ctx context.Context) query.Result[uint8] {
	return query.Get(ctx, r.cache, r.tokenKey("decimals"), r.token.Decimals)
}

func (r *Reader) TotalSupply(ctx context.Context) query.Result[*big.Int] {
	return query.Get(ctx, r.cache, r.tokenKey("totalSupply"), r.token.TotalSupply)
}

// Balance reads balanceOf(account).
func (r *Reader) Balance(ctx context.Context, account *common.Address) query.Result[*big.Int] {
	if account == nil {
		return query.Idle[*big.Int]()
	}
	return query.Get(ctx, r.cache, r.tokenKey("balanceOf", account.Hex()), func(ctx context.Context) (*big.Int, error) {
		return r.token.BalanceOf(ctx, *account)
	})
}

func (r *Reader) Allowance(ctx context.Context, owner, spender *common.Address) query.Result[*big.Int] {
	if owner == nil || spender == nil {
		return query.Idle[*big.Int]()
	}
	return query.Get(ctx, r.cache, r.tokenKey("allowance", owner.Hex(), spender.Hex()), func(ctx context.Context) (*big.Int, error) {
		return r.token.Allowance(ctx, *owner, *spender)
	})
}

func (r *Reader) Property(ctx context.Context) query.Result[*chain.Property] {
	return query.Get(ctx, r.cache, r.tokenKey("property"), r.token.Property)
}

// OwnershipPercent reads the account's share in basis points.
func (r *Reader) OwnershipPercent(ctx context.Context, account *common.Address) query.Result[*big.Int] {
	if account == nil {
		return query.Idle[*big.Int]()
	}
	return query.Get(ctx, r.cache, r.tokenKey("getOwnershipPercent", account.Hex()), func(ctx context.Context) (*big.Int, error) {
		return r.token.OwnershipPercent(ctx, *account)
	})
}

func (r *Reader) TokenValueIDR(ctx context.Context) query.Result[*big.Int] {
	return query.Get(ctx, r.cache, r.tokenKey("getTokenValueIDR"), r.token.TokenValueIDR)
}

func (r *Reader) Frozen(ctx context.Context, account *common.Address) query.Result[bool] {
	if account == nil {
		return query.Idle[bool]()
	}
	return query.Get(ctx, r.cache, r.tokenKey("frozen", account.Hex()), func(ctx context.Context) (bool, error) {
		return r.token.Frozen(ctx, *account)
	})
}

// CanTransfer is only issued when both parties are known and amount > 0.
func (r *Reader) CanTransfer(ctx context.Context, from, to *common.Address, amount *big.Int) query.Result[*chain.TransferCheck] {
	if from == nil || to == nil || amount == nil || amount.Sign() <= 0 {
		return query.Idle[*chain.TransferCheck]()
	}
	key := r.tokenKey("canTransfer", from.Hex(), to.Hex(), amount.String())
	return query.Get(ctx, r.cache, key, func(ctx context.Context) (*chain.TransferCheck, error) {
		return r.token.CanTransfer(ctx, *from, *to, amount)
	})
}

func (r *Reader) MinInvestment(ctx context.Context) query.Result[*big.Int] {
	return query.Get(ctx, r.cache, r.tokenKey("minInvestment"), r.token.MinInvestment)
}

func (r *Reader) MaxInvestment(ctx context.Context) query.Result[*big.Int] {
	return query.Get(ctx, r.cache, r.tokenKey("maxInvestment"), r.token.MaxInvestment)
}

// TokenAdmin reads the token's admin().
func (r *Reader) TokenAdmin(ctx context.Context) query.Result[common.Address] {
	return query.Get(ctx, r.cache, r.tokenKey("admin"), r.token.Admin)
}

// LinkedRegistry reads the registry address the token is configured with.
func (r *Reader) LinkedRegistry(ctx context.Context) query.Result[common.Address] {
	return query.Get(ctx, r.cache, r.tokenKey("kycRegistry"), r.token.KYCRegistry)
}

// Registry reads

// RegistryAdmin reads the registry's admin().
func (r *Reader) RegistryAdmin(ctx context.Context) query.Result[common.Address] {
	return query.Get(ctx, r.cache, r.registryKey("admin"), r.registry.Admin)
}

func (r *Reader) TotalInvestors(ctx context.Context) query.Result[*big.Int] {
	return query.Get(ctx, r.cache, r.registryKey("totalInvestors"), r.registry.TotalInvestors)
}

func (r *Reader) IsVerified(ctx context.Context, account *common.Address) query.Result[bool] {
	if account == nil {
		return query.Idle[bool]()
	}
	return query.Get(ctx, r.cache, r.registryKey("isVerified", account.Hex()), func(ctx context.Context) (bool, error) {
		return r.registry.IsVerified(ctx, *account)
	})
}

// Investor reads getInvestor(account).
func (r *Reader) Investor(ctx context.Context, account *common.Address) query.Result[*kyc.Investor] {
	if account == nil {
		return query.Idle[*kyc.Investor]()
	}
	return query.Get(ctx, r.cache, r.registryKey("getInvestor", account.Hex()), func(ctx context.Context) (*kyc.Investor, error) {
		return r.registry.GetInvestor(ctx, *account)
	})
}

func (r *Reader) MeetsLevel(ctx context.Context, account *common.Address, level kyc.Level) query.Result[bool] {
	if account == nil {
		return query.Idle[bool]()
	}
	return query.Get(ctx, r.cache, r.registryKey("meetsLevel", account.Hex(), uint8(level)), func(ctx context.Context) (bool, error) {
		return r.registry.MeetsLevel(ctx, *account, level)
	})
}

// Derived state

// Limits combines the two investment limit reads.
type Limits struct {
	Min     query.Result[*big.Int]
	Max     query.Result[*big.Int]
	Loading bool
	Failed  bool
}

// InvestmentLimits reads both limits; Loading and Failed are the OR of
// the two reads.
func (r *Reader) InvestmentLimits(ctx context.Context) Limits {
	min := r.MinInvestment(ctx)
	max := r.MaxInvestment(ctx)
	return Limits{
		Min:     min,
		Max:     max,
		Loading: min.Status == query.NotLoaded || max.Status == query.NotLoaded,
		Failed:  min.Status == query.Failed || max.Status == query.Failed,
	}
}

// KYCStatus derives expiry and labels from the registry record and the
// isVerified answer.
func (r *Reader) KYCStatus(ctx context.Context, account *common.Address, now time.Time) query.Result[kyc.Status] {
	if account == nil {
		return query.Idle[kyc.Status]()
	}
	inv := r.Investor(ctx, account)
	verified := r.IsVerified(ctx, account)
	switch {
	case inv.Status == query.Failed:
		return query.Failure[kyc.Status](inv.Err)
	case verified.Status == query.Failed:
		return query.Failure[kyc.Status](verified.Err)
	case !inv.Ok() || !verified.Ok():
		return query.Idle[kyc.Status]()
	}
	return query.Success(kyc.Derive(inv.Value, verified.Value, now))
}
