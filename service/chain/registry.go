package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/brojonat/idproperty/service/kyc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const registryContract = "registry"

// RegistryContract binds the KYC registry.
type RegistryContract struct {
	client  *Client
	address common.Address
}

// NewRegistryContract binds the registry at address.
func NewRegistryContract(client *Client, address common.Address) *RegistryContract {
	return &RegistryContract{client: client, address: address}
}

// Address returns the bound contract address.
func (r *RegistryContract) Address() common.Address {
	return r.address
}

func (r *RegistryContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	return r.client.call(ctx, registryContract, &KYCRegistryABI, r.address, method, args...)
}

// Admin returns the registry administrator.
func (r *RegistryContract) Admin(ctx context.Context) (common.Address, error) {
	values, err := r.call(ctx, "admin")
	if err != nil {
		return common.Address{}, err
	}
	return unpackOne[common.Address](values, "admin")
}

func (r *RegistryContract) TotalInvestors(ctx context.Context) (*big.Int, error) {
	values, err := r.call(ctx, "totalInvestors")
	if err != nil {
		return nil, err
	}
	return unpackOne[*big.Int](values, "totalInvestors")
}

func (r *RegistryContract) IsVerified(ctx context.Context, investor common.Address) (bool, error) {
	values, err := r.call(ctx, "isVerified", investor)
	if err != nil {
		return false, err
	}
	return unpackOne[bool](values, "isVerified")
}

// GetInvestor returns the registry record. Unknown addresses come back as
// an inactive zero record, not an error.
func (r *RegistryContract) GetInvestor(ctx context.Context, investor common.Address) (*kyc.Investor, error) {
	values, err := r.call(ctx, "getInvestor", investor)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("getInvestor: expected 1 output, got %d", len(values))
	}

	tuple := abi.ConvertType(values[0], new(investorTuple)).(*investorTuple)
	inv := &kyc.Investor{
		Level:       kyc.Level(tuple.Level),
		CountryCode: tuple.CountryCode,
		IsActive:    tuple.IsActive,
	}
	if tuple.ExpiryDate != nil {
		inv.ExpiryDate = tuple.ExpiryDate.Int64()
	}
	return inv, nil
}

func (r *RegistryContract) MeetsLevel(ctx context.Context, investor common.Address, level kyc.Level) (bool, error) {
	values, err := r.call(ctx, "meetsLevel", investor, uint8(level))
	if err != nil {
		return false, err
	}
	return unpackOne[bool](values, "meetsLevel")
}

func (r *RegistryContract) send(ctx context.Context, w Wallet, method string, args ...interface{}) (common.Hash, error) {
	data, err := KYCRegistryABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s.%s: %w", registryContract, method, err)
	}
	return w.Send(ctx, r.address, data)
}

func (r *RegistryContract) RegisterInvestor(ctx context.Context, w Wallet, investor common.Address, level kyc.Level, countryCode uint16, validDays *big.Int) (common.Hash, error) {
	return r.send(ctx, w, "registerInvestor", investor, uint8(level), countryCode, validDays)
}

func (r *RegistryContract) UpdateInvestor(ctx context.Context, w Wallet, investor common.Address, level kyc.Level) (common.Hash, error) {
	return r.send(ctx, w, "updateInvestor", investor, uint8(level))
}

func (r *RegistryContract) RevokeInvestor(ctx context.Context, w Wallet, investor common.Address) (common.Hash, error) {
	return r.send(ctx, w, "revokeInvestor", investor)
}
