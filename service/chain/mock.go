package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/brojonat/idproperty/service/kyc"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// MockRPC is an in-memory RPCClient for tests. Results are registered per
// contract and method, optionally narrowed to exact arguments.
type MockRPC struct {
	mu       sync.Mutex
	abis     map[common.Address]abi.ABI
	results  map[string][]byte
	errs     map[string]error
	calls    map[string]int
	receipts map[common.Hash]*types.Receipt
	failures []error
}

// NewMockRPC creates an empty mock.
func NewMockRPC() *MockRPC {
	return &MockRPC{
		abis:     make(map[common.Address]abi.ABI),
		results:  make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func methodKey(to common.Address, method string) string {
	return to.Hex() + "/" + method
}

func argsKey(to common.Address, data []byte) string {
	return to.Hex() + "#" + common.Bytes2Hex(data)
}

// SetResult registers the outputs returned for any call of method on to.
func (m *MockRPC) SetResult(to common.Address, contractABI abi.ABI, method string, outputs ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abis[to] = contractABI
	m.results[methodKey(to, method)] = mustPackOutputs(contractABI, method, outputs)
	delete(m.errs, methodKey(to, method))
}

// SetResultFor registers outputs for method called with exactly args.
func (m *MockRPC) SetResultFor(to common.Address, contractABI abi.ABI, method string, args []interface{}, outputs ...interface{}) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("mock: pack %s: %v", method, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abis[to] = contractABI
	m.results[argsKey(to, data)] = mustPackOutputs(contractABI, method, outputs)
}

// SetError makes every call of method on to fail with err.
func (m *MockRPC) SetError(to common.Address, contractABI abi.ABI, method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abis[to] = contractABI
	m.errs[methodKey(to, method)] = err
}

// FailNext queues errors returned by the next calls regardless of method.
func (m *MockRPC) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// SetReceipt registers a mined receipt with the given status.
func (m *MockRPC) SetReceipt(hash common.Hash, status uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: big.NewInt(1),
		GasUsed:     21000,
	}
}

// Calls returns how many times method was called on to.
func (m *MockRPC) Calls(to common.Address, method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[methodKey(to, method)]
}

// CallContract implements RPCClient.
func (m *MockRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("mock: malformed call")
	}
	to := *msg.To
	contractABI, ok := m.abis[to]
	if !ok {
		return nil, fmt.Errorf("mock: no contract at %s", to.Hex())
	}
	method, err := contractABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("mock: %w", err)
	}
	m.calls[methodKey(to, method.Name)]++

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	if err, ok := m.errs[methodKey(to, method.Name)]; ok {
		return nil, err
	}
	if out, ok := m.results[argsKey(to, msg.Data)]; ok {
		return out, nil
	}
	if out, ok := m.results[methodKey(to, method.Name)]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("mock: no result for %s.%s", to.Hex(), method.Name)
}

// TransactionReceipt implements RPCClient.
func (m *MockRPC) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func mustPackOutputs(contractABI abi.ABI, method string, outputs []interface{}) []byte {
	m, ok := contractABI.Methods[method]
	if !ok {
		panic("mock: unknown method " + method)
	}
	out, err := m.Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("mock: pack outputs of %s: %v", method, err))
	}
	return out
}

// SentTx records one MockWallet.Send call.
type SentTx struct {
	To       common.Address
	Calldata []byte
	Hash     common.Hash
}

// MockWallet records sends instead of signing them.
type MockWallet struct {
	mu    sync.Mutex
	addr  common.Address
	sent  []SentTx
	err   error
	block chan struct{}
}

// NewMockWallet creates a wallet for addr.
func NewMockWallet(addr common.Address) *MockWallet {
	return &MockWallet{addr: addr}
}

// Address implements Wallet.
func (w *MockWallet) Address() common.Address {
	return w.addr
}

// FailWith makes subsequent sends return err.
func (w *MockWallet) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

// Hold makes sends block until the returned release func is called.
func (w *MockWallet) Hold() (release func()) {
	ch := make(chan struct{})
	w.mu.Lock()
	w.block = ch
	w.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Send implements Wallet.
func (w *MockWallet) Send(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	w.mu.Lock()
	block := w.block
	w.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return common.Hash{}, w.err
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(len(w.sent)))
	hash := crypto.Keccak256Hash(to.Bytes(), calldata, nonce[:])
	w.sent = append(w.sent, SentTx{To: to, Calldata: calldata, Hash: hash})
	return hash, nil
}

// Sent returns a copy of the recorded sends.
func (w *MockWallet) Sent() []SentTx {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]SentTx, len(w.sent))
	copy(out, w.sent)
	return out
}

// InvestorOutput converts a record into the getInvestor tuple for SetResult.
func InvestorOutput(inv kyc.Investor) interface{} {
	return investorTuple{
		Level:       uint8(inv.Level),
		ExpiryDate:  big.NewInt(inv.ExpiryDate),
		CountryCode: inv.CountryCode,
		IsActive:    inv.IsActive,
	}
}
