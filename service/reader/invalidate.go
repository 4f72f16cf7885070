package reader

import (
	"github.com/brojonat/idproperty/service/query"
	"github.com/ethereum/go-ethereum/common"
)

// Reads that depend on an account's balance or eligibility.
var accountTokenReads = map[string]bool{
	"balanceOf":           true,
	"getOwnershipPercent": true,
	"frozen":              true,
	"allowance":           true,
}

// InvalidateTransfer drops reads a token movement between accounts can
// change. Eligibility answers are dropped for every pair.
func (r *Reader) InvalidateTransfer(accounts ...common.Address) int {
	token := r.tokenKey("").Contract
	return r.cache.Invalidate(func(k query.Key) bool {
		if k.Contract != token {
			return false
		}
		if k.Function == "canTransfer" {
			return true
		}
		if !accountTokenReads[k.Function] {
			return false
		}
		for _, a := range accounts {
			if k.HasArg(a.Hex()) {
				return true
			}
		}
		return false
	})
}

// InvalidateInvestor drops registry reads for the account, the investor
// count and every transfer eligibility answer.
func (r *Reader) InvalidateInvestor(account common.Address) int {
	token := r.tokenKey("").Contract
	registry := r.registryKey("").Contract
	return r.cache.Invalidate(func(k query.Key) bool {
		switch k.Contract {
		case registry:
			return k.Function == "totalInvestors" || k.HasArg(account.Hex())
		case token:
			return k.Function == "canTransfer"
		}
		return false
	})
}

// InvalidateFreeze drops the frozen flag and eligibility answers.
func (r *Reader) InvalidateFreeze(account common.Address) int {
	token := r.tokenKey("").Contract
	return r.cache.Invalidate(func(k query.Key) bool {
		if k.Contract != token {
			return false
		}
		return k.Function == "canTransfer" || (k.Function == "frozen" && k.HasArg(account.Hex()))
	})
}

// InvalidateProperty drops the property record.
func (r *Reader) InvalidateProperty() int {
	return r.cache.InvalidateFunctions(r.token.Address().Hex(), "property")
}

// InvalidateLimits drops the investment limits and eligibility answers.
func (r *Reader) InvalidateLimits() int {
	return r.cache.InvalidateFunctions(r.token.Address().Hex(), "minInvestment", "maxInvestment", "canTransfer")
}
