package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/idproperty/service/kyc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	registryAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	alice        = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob          = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(rpc RPCClient) *Client {
	c := NewClient(rpc, "test", nil, nil, testLogger())
	c.backoff = time.Millisecond
	return c
}

func TestTokenReads(t *testing.T) {
	mock := NewMockRPC()
	mock.SetResultFor(tokenAddr, PropertyTokenABI, "balanceOf", []interface{}{alice}, big.NewInt(100))
	mock.SetResultFor(tokenAddr, PropertyTokenABI, "balanceOf", []interface{}{bob}, big.NewInt(7))
	mock.SetResult(tokenAddr, PropertyTokenABI, "property",
		"Sudirman Tower", "Jakarta", big.NewInt(5_000_000_000), big.NewInt(1_000_000), "QmDoc", true)
	mock.SetResult(tokenAddr, PropertyTokenABI, "decimals", uint8(18))
	mock.SetResult(tokenAddr, PropertyTokenABI, "admin", alice)
	mock.SetResult(tokenAddr, PropertyTokenABI, "frozen", true)
	mock.SetResult(tokenAddr, PropertyTokenABI, "canTransfer", false, "Recipient not verified")

	token := NewTokenContract(newTestClient(mock), tokenAddr)
	ctx := context.Background()

	bal, err := token.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Int64())

	bal, err = token.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal.Int64())

	p, err := token.Property(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sudirman Tower", p.Name)
	assert.Equal(t, "Jakarta", p.Location)
	assert.Equal(t, int64(5_000_000_000), p.TotalValue.Int64())
	assert.Equal(t, "QmDoc", p.LegalDocument)
	assert.True(t, p.IsActive)

	dec, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), dec)

	admin, err := token.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, admin)

	frozen, err := token.Frozen(ctx, bob)
	require.NoError(t, err)
	assert.True(t, frozen)

	check, err := token.CanTransfer(ctx, alice, bob, big.NewInt(1))
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "Recipient not verified", check.Reason)

	assert.Equal(t, 2, mock.Calls(tokenAddr, "balanceOf"))
}

func TestRegistryReads(t *testing.T) {
	mock := NewMockRPC()
	mock.SetResult(registryAddr, KYCRegistryABI, "getInvestor", InvestorOutput(kyc.Investor{
		Level:       kyc.LevelVerified,
		ExpiryDate:  1_800_000_000,
		CountryCode: 360,
		IsActive:    true,
	}))
	mock.SetResult(registryAddr, KYCRegistryABI, "isVerified", true)
	mock.SetResult(registryAddr, KYCRegistryABI, "totalInvestors", big.NewInt(42))
	mock.SetResult(registryAddr, KYCRegistryABI, "meetsLevel", false)

	registry := NewRegistryContract(newTestClient(mock), registryAddr)
	ctx := context.Background()

	inv, err := registry.GetInvestor(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, kyc.LevelVerified, inv.Level)
	assert.Equal(t, int64(1_800_000_000), inv.ExpiryDate)
	assert.Equal(t, uint16(360), inv.CountryCode)
	assert.True(t, inv.IsActive)

	verified, err := registry.IsVerified(ctx, alice)
	require.NoError(t, err)
	assert.True(t, verified)

	total, err := registry.TotalInvestors(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total.Int64())

	meets, err := registry.MeetsLevel(ctx, alice, kyc.LevelAccredited)
	require.NoError(t, err)
	assert.False(t, meets)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	mock := NewMockRPC()
	mock.SetResult(tokenAddr, PropertyTokenABI, "totalSupply", big.NewInt(10))
	mock.FailNext(errors.New("429 Too Many Requests"), errors.New("429 Too Many Requests"))

	token := NewTokenContract(newTestClient(mock), tokenAddr)
	supply, err := token.TotalSupply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), supply.Int64())
	assert.Equal(t, 3, mock.Calls(tokenAddr, "totalSupply"))
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := NewMockRPC()
	mock.SetResult(tokenAddr, PropertyTokenABI, "totalSupply", big.NewInt(10))
	mock.FailNext(errors.New("429"), errors.New("429"), errors.New("429"))

	token := NewTokenContract(newTestClient(mock), tokenAddr)
	_, err := token.TotalSupply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token.totalSupply")
	assert.Equal(t, maxCallAttempts, mock.Calls(tokenAddr, "totalSupply"))
}

func TestClient_OtherErrorsNotRetried(t *testing.T) {
	mock := NewMockRPC()
	mock.SetError(tokenAddr, PropertyTokenABI, "totalSupply", errors.New("connection refused"))

	token := NewTokenContract(newTestClient(mock), tokenAddr)
	_, err := token.TotalSupply(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls(tokenAddr, "totalSupply"))
}

func decodeCall(t *testing.T, contractABI abi.ABI, data []byte) (string, []interface{}) {
	t.Helper()
	method, err := contractABI.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return method.Name, args
}

func TestTokenWrites(t *testing.T) {
	wallet := NewMockWallet(alice)
	token := NewTokenContract(newTestClient(NewMockRPC()), tokenAddr)
	ctx := context.Background()

	hash, err := token.Transfer(ctx, wallet, bob, big.NewInt(5))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	_, err = token.ForceTransfer(ctx, wallet, alice, bob, big.NewInt(9), "court order")
	require.NoError(t, err)

	_, err = token.SetInvestmentLimits(ctx, wallet, big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)

	sent := wallet.Sent()
	require.Len(t, sent, 3)
	for _, tx := range sent {
		assert.Equal(t, tokenAddr, tx.To)
	}
	assert.Equal(t, hash, sent[0].Hash)

	name, args := decodeCall(t, PropertyTokenABI, sent[0].Calldata)
	assert.Equal(t, "transfer", name)
	assert.Equal(t, bob, args[0])
	assert.Equal(t, int64(5), args[1].(*big.Int).Int64())

	name, args = decodeCall(t, PropertyTokenABI, sent[1].Calldata)
	assert.Equal(t, "forceTransfer", name)
	assert.Equal(t, "court order", args[3])

	name, _ = decodeCall(t, PropertyTokenABI, sent[2].Calldata)
	assert.Equal(t, "setInvestmentLimits", name)
}

func TestRegistryWrites(t *testing.T) {
	wallet := NewMockWallet(alice)
	registry := NewRegistryContract(newTestClient(NewMockRPC()), registryAddr)

	_, err := registry.RegisterInvestor(context.Background(), wallet, bob, kyc.LevelBasic, 360, big.NewInt(365))
	require.NoError(t, err)

	sent := wallet.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, registryAddr, sent[0].To)

	name, args := decodeCall(t, KYCRegistryABI, sent[0].Calldata)
	assert.Equal(t, "registerInvestor", name)
	assert.Equal(t, bob, args[0])
	assert.Equal(t, uint8(1), args[1])
	assert.Equal(t, uint16(360), args[2])
	assert.Equal(t, int64(365), args[3].(*big.Int).Int64())
}

func TestWalletErrorPropagates(t *testing.T) {
	wallet := NewMockWallet(alice)
	wallet.FailWith(ErrUserRejected)
	token := NewTokenContract(newTestClient(NewMockRPC()), tokenAddr)

	_, err := token.UnfreezeAccount(context.Background(), wallet, bob)
	assert.ErrorIs(t, err, ErrUserRejected)
}

func TestReceiptPoller(t *testing.T) {
	mock := NewMockRPC()
	client := newTestClient(mock)
	poller := NewReceiptPoller(client, 5*time.Millisecond, 200*time.Millisecond, testLogger())

	mined := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	missing := common.HexToHash("0x03")
	mock.SetReceipt(mined, 1)
	mock.SetReceipt(reverted, 0)

	r, err := poller.WaitMined(context.Background(), mined)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.Equal(t, uint64(1), r.BlockNumber)

	r, err = poller.WaitMined(context.Background(), reverted)
	require.ErrorIs(t, err, ErrReverted)
	assert.False(t, r.Succeeded())

	_, err = poller.WaitMined(context.Background(), missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiptPoller_MinedLater(t *testing.T) {
	mock := NewMockRPC()
	poller := NewReceiptPoller(newTestClient(mock), 5*time.Millisecond, time.Second, testLogger())
	hash := common.HexToHash("0x04")

	go func() {
		time.Sleep(20 * time.Millisecond)
		mock.SetReceipt(hash, 1)
	}()

	r, err := poller.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, r.TxHash)
}

type jsonRPCError struct {
	code int
	msg  string
	data interface{}
}

func (e *jsonRPCError) Error() string          { return e.msg }
func (e *jsonRPCError) ErrorCode() int         { return e.code }
func (e *jsonRPCError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return hexutil.Encode(append(selector, packed...))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "wallet sentinel", err: fmt.Errorf("send: %w", ErrUserRejected), want: KindUserRejected},
		{name: "provider code", err: &jsonRPCError{code: 4001, msg: "denied"}, want: KindUserRejected},
		{name: "message text", err: errors.New("User rejected the request."), want: KindUserRejected},
		{name: "insufficient funds", err: errors.New("insufficient funds for gas * price + value"), want: KindInsufficientFunds},
		{name: "revert data", err: &jsonRPCError{code: 3, msg: "execution reverted", data: revertData(t, "KYCRegistry: Already registered")}, want: KindAlreadyRegistered},
		{name: "not registered text", err: errors.New("execution reverted: Not registered"), want: KindNotRegistered},
		{name: "admin only", err: errors.New("execution reverted: Only admin"), want: KindAdminOnly},
		{name: "other", err: errors.New("nonce too low"), want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMessages(t *testing.T) {
	long := errors.New(strings.Repeat("x", 200))

	assert.Equal(t, "Transaction failed", AdminMessage(nil))
	assert.Equal(t, "Transaction rejected by user", AdminMessage(ErrUserRejected))
	assert.Equal(t, "Insufficient funds for gas", AdminMessage(errors.New("insufficient funds")))
	assert.Equal(t, "Investor is already registered", AdminMessage(errors.New("Already registered")))
	assert.Equal(t, "Investor is not registered", AdminMessage(errors.New("Not registered")))
	assert.Equal(t, "Only admin can perform this action", AdminMessage(errors.New("Only admin")))
	assert.Len(t, AdminMessage(long), 100)
	assert.Equal(t, "Transaction failed", AdminMessage(errors.New("")))

	reverted := &jsonRPCError{code: 3, msg: "execution reverted", data: revertData(t, "Account frozen")}
	assert.Equal(t, "Account frozen", AdminMessage(reverted))

	assert.Equal(t, "Transfer failed", TransferToastMessage(nil))
	assert.Equal(t, "Transaction rejected by user", TransferToastMessage(ErrUserRejected))
	assert.Equal(t, "insufficient funds for gas * price + value", TransferToastMessage(errors.New("insufficient funds for gas * price + value")))
	assert.Equal(t, "Only admin", TransferToastMessage(errors.New("Only admin")))
	assert.Equal(t, "Account frozen", TransferToastMessage(reverted))
	assert.Len(t, TransferToastMessage(long), 100)
	assert.Equal(t, "Transfer failed", TransferToastMessage(errors.New("")))

	assert.Equal(t, "Transaction was rejected in your wallet", TransferPreviewMessage(ErrUserRejected))
	assert.Len(t, TransferPreviewMessage(long), 150)
	assert.Equal(t, "", TransferPreviewMessage(nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
	assert.Equal(t, "ñö", Truncate("ñöü", 2))
}
