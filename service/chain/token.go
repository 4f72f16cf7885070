package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const tokenContract = "token"

// TokenContract binds the property token's read and write functions.
// Writes perform no validation; callers validate before submitting.
type TokenContract struct {
	client  *Client
	address common.Address
}

// NewTokenContract binds the token at address.
func NewTokenContract(client *Client, address common.Address) *TokenContract {
	return &TokenContract{client: client, address: address}
}

// Address returns the bound contract address.
func (t *TokenContract) Address() common.Address {
	return t.address
}

func (t *TokenContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	return t.client.call(ctx, tokenContract, &PropertyTokenABI, t.address, method, args...)
}

func (t *TokenContract) callBigInt(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := t.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return unpackOne[*big.Int](values, method)
}

func (t *TokenContract) callAddress(ctx context.Context, method string) (common.Address, error) {
	values, err := t.call(ctx, method)
	if err != nil {
		return common.Address{}, err
	}
	return unpackOne[common.Address](values, method)
}

func (t *TokenContract) callString(ctx context.Context, method string) (string, error) {
	values, err := t.call(ctx, method)
	if err != nil {
		return "", err
	}
	return unpackOne[string](values, method)
}

// Name returns the ERC-20 name.
func (t *TokenContract) Name(ctx context.Context) (string, error) {
	return t.callString(ctx, "name")
}

// Symbol returns the ERC-20 symbol.
func (t *TokenContract) Symbol(ctx context.Context) (string, error) {
	return t.callString(ctx, "symbol")
}

// Decimals returns the ERC-20 decimals.
func (t *TokenContract) Decimals(ctx context.Context) (uint8, error) {
	values, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return unpackOne[uint8](values, "decimals")
}

func (t *TokenContract) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.callBigInt(ctx, "totalSupply")
}

func (t *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return t.callBigInt(ctx, "balanceOf", account)
}

func (t *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callBigInt(ctx, "allowance", owner, spender)
}

// Property returns the property record stored on the token.
func (t *TokenContract) Property(ctx context.Context) (*Property, error) {
	values, err := t.call(ctx, "property")
	if err != nil {
		return nil, err
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("property: expected 6 outputs, got %d", len(values))
	}

	p := &Property{}
	var ok [6]bool
	p.Name, ok[0] = values[0].(string)
	p.Location, ok[1] = values[1].(string)
	p.TotalValue, ok[2] = values[2].(*big.Int)
	p.TotalTokens, ok[3] = values[3].(*big.Int)
	p.LegalDocument, ok[4] = values[4].(string)
	p.IsActive, ok[5] = values[5].(bool)
	for i, good := range ok {
		if !good {
			return nil, fmt.Errorf("property: unexpected type %T for output %d", values[i], i)
		}
	}
	return p, nil
}

// OwnershipPercent returns the account's share in basis points.
func (t *TokenContract) OwnershipPercent(ctx context.Context, account common.Address) (*big.Int, error) {
	return t.callBigInt(ctx, "getOwnershipPercent", account)
}

// TokenValueIDR returns the rupiah value of one whole token.
func (t *TokenContract) TokenValueIDR(ctx context.Context) (*big.Int, error) {
	return t.callBigInt(ctx, "getTokenValueIDR")
}

func (t *TokenContract) Frozen(ctx context.Context, account common.Address) (bool, error) {
	values, err := t.call(ctx, "frozen", account)
	if err != nil {
		return false, err
	}
	return unpackOne[bool](values, "frozen")
}

// CanTransfer asks the token whether a transfer would pass its compliance rules.
func (t *TokenContract) CanTransfer(ctx context.Context, from, to common.Address, amount *big.Int) (*TransferCheck, error) {
	values, err := t.call(ctx, "canTransfer", from, to, amount)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("canTransfer: expected 2 outputs, got %d", len(values))
	}
	allowed, ok1 := values[0].(bool)
	reason, ok2 := values[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("canTransfer: unexpected output types %T, %T", values[0], values[1])
	}
	return &TransferCheck{Allowed: allowed, Reason: reason}, nil
}

func (t *TokenContract) MinInvestment(ctx context.Context) (*big.Int, error) {
	return t.callBigInt(ctx, "minInvestment")
}

func (t *TokenContract) MaxInvestment(ctx context.Context) (*big.Int, error) {
	return t.callBigInt(ctx, "maxInvestment")
}

// Admin returns the token administrator.
func (t *TokenContract) Admin(ctx context.Context) (common.Address, error) {
	return t.callAddress(ctx, "admin")
}

// KYCRegistry returns the registry the token consults.
func (t *TokenContract) KYCRegistry(ctx context.Context) (common.Address, error) {
	return t.callAddress(ctx, "kycRegistry")
}

// Write accessors. Each returns the hash once the wallet broadcast the
// transaction; the receipt is awaited separately.

func (t *TokenContract) send(ctx context.Context, w Wallet, method string, args ...interface{}) (common.Hash, error) {
	data, err := PropertyTokenABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s.%s: %w", tokenContract, method, err)
	}
	return w.Send(ctx, t.address, data)
}

func (t *TokenContract) Transfer(ctx context.Context, w Wallet, to common.Address, amount *big.Int) (common.Hash, error) {
	return t.send(ctx, w, "transfer", to, amount)
}

func (t *TokenContract) Approve(ctx context.Context, w Wallet, spender common.Address, amount *big.Int) (common.Hash, error) {
	return t.send(ctx, w, "approve", spender, amount)
}

func (t *TokenContract) TransferFrom(ctx context.Context, w Wallet, from, to common.Address, amount *big.Int) (common.Hash, error) {
	return t.send(ctx, w, "transferFrom", from, to, amount)
}

func (t *TokenContract) FreezeAccount(ctx context.Context, w Wallet, account common.Address, reason string) (common.Hash, error) {
	return t.send(ctx, w, "freezeAccount", account, reason)
}

func (t *TokenContract) UnfreezeAccount(ctx context.Context, w Wallet, account common.Address) (common.Hash, error) {
	return t.send(ctx, w, "unfreezeAccount", account)
}

func (t *TokenContract) ForceTransfer(ctx context.Context, w Wallet, from, to common.Address, amount *big.Int, reason string) (common.Hash, error) {
	return t.send(ctx, w, "forceTransfer", from, to, amount, reason)
}

func (t *TokenContract) SetLegalDocument(ctx context.Context, w Wallet, ipfsHash string) (common.Hash, error) {
	return t.send(ctx, w, "setLegalDocument", ipfsHash)
}

func (t *TokenContract) SetInvestmentLimits(ctx context.Context, w Wallet, min, max *big.Int) (common.Hash, error) {
	return t.send(ctx, w, "setInvestmentLimits", min, max)
}
