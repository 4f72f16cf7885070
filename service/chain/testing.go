package chain

import (
	"io"
	"log/slog"
	"math/big"

	"github.com/brojonat/idproperty/service/kyc"
	"github.com/ethereum/go-ethereum/common"
)

// Fixture wires a MockRPC to both contracts with plausible defaults so
// tests only override what they exercise.
type Fixture struct {
	RPC      *MockRPC
	Client   *Client
	Token    *TokenContract
	Registry *RegistryContract

	TokenAddress    common.Address
	RegistryAddress common.Address
}

// Fixture defaults.
var (
	FixtureTokenAddress    = common.HexToAddress("0x7070707070707070707070707070707070707070")
	FixtureRegistryAddress = common.HexToAddress("0x6060606060606060606060606060606060606060")
	FixtureTokenAdmin      = common.HexToAddress("0xad00000000000000000000000000000000000001")
	FixtureRegistryAdmin   = common.HexToAddress("0xad00000000000000000000000000000000000002")
)

// Tokens converts whole tokens to 18-decimal raw units.
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// NewFixture builds a fixture with an active property, limits of 1 to
// 100,000 tokens and no registered investors.
func NewFixture() *Fixture {
	rpc := NewMockRPC()
	client := NewClient(rpc, "fixture", nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	client.backoff = 0
	f := &Fixture{
		RPC:             rpc,
		Client:          client,
		Token:           NewTokenContract(client, FixtureTokenAddress),
		Registry:        NewRegistryContract(client, FixtureRegistryAddress),
		TokenAddress:    FixtureTokenAddress,
		RegistryAddress: FixtureRegistryAddress,
	}

	t, r := FixtureTokenAddress, FixtureRegistryAddress
	rpc.SetResult(t, PropertyTokenABI, "name", "IDProperty Sudirman")
	rpc.SetResult(t, PropertyTokenABI, "symbol", "SDMN")
	rpc.SetResult(t, PropertyTokenABI, "decimals", uint8(18))
	rpc.SetResult(t, PropertyTokenABI, "totalSupply", Tokens(1_000_000))
	rpc.SetResult(t, PropertyTokenABI, "balanceOf", big.NewInt(0))
	rpc.SetResult(t, PropertyTokenABI, "allowance", big.NewInt(0))
	rpc.SetResult(t, PropertyTokenABI, "property",
		"Sudirman Residence", "Jakarta Selatan", big.NewInt(10_000_000_000), Tokens(1_000_000), "QmLegalDocument", true)
	rpc.SetResult(t, PropertyTokenABI, "getOwnershipPercent", big.NewInt(0))
	rpc.SetResult(t, PropertyTokenABI, "getTokenValueIDR", big.NewInt(10_000))
	rpc.SetResult(t, PropertyTokenABI, "frozen", false)
	rpc.SetResult(t, PropertyTokenABI, "canTransfer", true, "")
	rpc.SetResult(t, PropertyTokenABI, "minInvestment", Tokens(1))
	rpc.SetResult(t, PropertyTokenABI, "maxInvestment", Tokens(100_000))
	rpc.SetResult(t, PropertyTokenABI, "admin", FixtureTokenAdmin)
	rpc.SetResult(t, PropertyTokenABI, "kycRegistry", r)

	rpc.SetResult(r, KYCRegistryABI, "admin", FixtureRegistryAdmin)
	rpc.SetResult(r, KYCRegistryABI, "totalInvestors", big.NewInt(0))
	rpc.SetResult(r, KYCRegistryABI, "isVerified", false)
	rpc.SetResult(r, KYCRegistryABI, "getInvestor", InvestorOutput(kyc.Investor{}))
	rpc.SetResult(r, KYCRegistryABI, "meetsLevel", false)
	return f
}

// SetBalance sets balanceOf(account).
func (f *Fixture) SetBalance(account common.Address, amount *big.Int) {
	f.RPC.SetResultFor(f.TokenAddress, PropertyTokenABI, "balanceOf", []interface{}{account}, amount)
}

// SetOwnership sets getOwnershipPercent(account) in basis points.
func (f *Fixture) SetOwnership(account common.Address, basisPoints int64) {
	f.RPC.SetResultFor(f.TokenAddress, PropertyTokenABI, "getOwnershipPercent", []interface{}{account}, big.NewInt(basisPoints))
}

// SetFrozen sets frozen(account).
func (f *Fixture) SetFrozen(account common.Address, frozen bool) {
	f.RPC.SetResultFor(f.TokenAddress, PropertyTokenABI, "frozen", []interface{}{account}, frozen)
}

// SetInvestor registers a record and the isVerified answer for account.
func (f *Fixture) SetInvestor(account common.Address, inv kyc.Investor, verified bool) {
	f.RPC.SetResultFor(f.RegistryAddress, KYCRegistryABI, "getInvestor", []interface{}{account}, InvestorOutput(inv))
	f.RPC.SetResultFor(f.RegistryAddress, KYCRegistryABI, "isVerified", []interface{}{account}, verified)
}

// SetCanTransfer sets the eligibility answer for every transfer.
func (f *Fixture) SetCanTransfer(allowed bool, reason string) {
	f.RPC.SetResult(f.TokenAddress, PropertyTokenABI, "canTransfer", allowed, reason)
}

// SetLimits sets minInvestment and maxInvestment.
func (f *Fixture) SetLimits(min, max *big.Int) {
	f.RPC.SetResult(f.TokenAddress, PropertyTokenABI, "minInvestment", min)
	f.RPC.SetResult(f.TokenAddress, PropertyTokenABI, "maxInvestment", max)
}

// SetTotalInvestors sets the registry's investor count.
func (f *Fixture) SetTotalInvestors(n int64) {
	f.RPC.SetResult(f.RegistryAddress, KYCRegistryABI, "totalInvestors", big.NewInt(n))
}

// SetAdmins sets admin() on the token and the registry.
func (f *Fixture) SetAdmins(tokenAdmin, registryAdmin common.Address) {
	f.RPC.SetResult(f.TokenAddress, PropertyTokenABI, "admin", tokenAdmin)
	f.RPC.SetResult(f.RegistryAddress, KYCRegistryABI, "admin", registryAdmin)
}

// Mine marks a broadcast transaction as mined with the given success flag.
func (f *Fixture) Mine(hash common.Hash, success bool) {
	status := uint64(0)
	if success {
		status = 1
	}
	f.RPC.SetReceipt(hash, status)
}
