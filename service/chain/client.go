package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/brojonat/idproperty/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// RPCClient is an interface for the JSON-RPC operations we need.
// *ethclient.Client satisfies it; tests use a hand-written mock so no
// node is required.
type RPCClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client performs contract calls against an RPC endpoint. Calls are
// throttled by a token bucket and retried when the node answers 429.
type Client struct {
	rpc      RPCClient
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., rpc host)
	backoff  time.Duration
}

// NewClient creates a new contract client.
// If limiter is nil calls are not throttled. If metrics is nil, no metrics
// will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, limiter *rate.Limiter, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		limiter:  limiter,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		backoff:  time.Second,
	}
}

const maxCallAttempts = 3

// call packs method(args...), executes it as an eth_call against to and
// unpacks the outputs.
func (c *Client) call(ctx context.Context, contract string, contractABI *abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", contract, method, err)
	}

	var out []byte
	for attempt := range maxCallAttempts {
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		out, err = c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordContractCall(contract, method, status, duration)
		}

		if err == nil {
			break
		}

		// Handle rate limiting (429 Too Many Requests) with backoff
		if isRateLimited(err) && attempt < maxCallAttempts-1 {
			backoff := c.backoff << uint(attempt)
			c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
				"contract", contract,
				"method", method,
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
			)
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
				c.metrics.RecordRPCRetry(method, "rate_limit")
			}
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		c.logger.DebugContext(ctx, "contract call failed",
			"contract", contract,
			"method", method,
			"error", err,
		)
		return nil, fmt.Errorf("%s.%s: %w", contract, method, err)
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", contract, method, err)
	}
	return values, nil
}

// Receipt fetches the receipt for a transaction. It returns
// ErrReceiptNotFound while the transaction is still pending.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	r, err := c.rpc.TransactionReceipt(ctx, hash)
	status := "success"
	switch {
	case errors.Is(err, ethereum.NotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordContractCall("rpc", "eth_getTransactionReceipt", status, time.Since(start).Seconds())
	}

	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", hash.Hex(), err)
	}

	out := &Receipt{
		TxHash:  r.TxHash,
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpc throttle: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordThrottleWait(c.endpoint, time.Since(start).Seconds())
	}
	return nil
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// unpackOne asserts the single output of a call to T.
func unpackOne[T any](values []interface{}, method string) (T, error) {
	var zero T
	if len(values) != 1 {
		return zero, fmt.Errorf("%s: expected 1 output, got %d", method, len(values))
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected output type %T", method, values[0])
	}
	return v, nil
}
