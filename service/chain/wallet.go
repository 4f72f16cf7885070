package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet signs and broadcasts transactions for the connected account.
type Wallet interface {
	Address() common.Address
	// Send signs a call to `to` carrying calldata and broadcasts it,
	// returning the transaction hash. It does not wait for mining.
	Send(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error)
}

// KeyWallet signs with a private key held in process memory.
type KeyWallet struct {
	backend bind.ContractBackend
	opts    *bind.TransactOpts
	logger  *slog.Logger

	// mu serialises nonce assignment across concurrent sends.
	mu sync.Mutex
}

// NewKeyWallet builds a wallet from a hex private key (no 0x prefix).
// backend is usually an *ethclient.Client.
func NewKeyWallet(backend bind.ContractBackend, hexKey string, chainID *big.Int, logger *slog.Logger) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return &KeyWallet{backend: backend, opts: opts, logger: logger}, nil
}

// Address returns the signer address.
func (w *KeyWallet) Address() common.Address {
	return w.opts.From
}

// Send estimates gas, signs and broadcasts a transaction.
func (w *KeyWallet) Send(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	opts := *w.opts
	opts.Context = ctx

	contract := bind.NewBoundContract(to, abi.ABI{}, w.backend, w.backend, w.backend)
	tx, err := contract.RawTransact(&opts, calldata)
	if err != nil {
		return common.Hash{}, err
	}

	w.logger.InfoContext(ctx, "transaction broadcast",
		"from", w.opts.From.Hex(),
		"to", to.Hex(),
		"tx_hash", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
	)
	return tx.Hash(), nil
}
