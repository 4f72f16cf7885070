package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types. Pending receipts are retried by the activity
// retry policy; malformed hashes are not.
const (
	ErrTypeReceiptPending = "ReceiptPending"
	ErrTypeInvalidHash    = "InvalidTransactionHash"
)

// AwaitReceiptInput contains the input parameters for waiting on a receipt.
type AwaitReceiptInput struct {
	TxHash       string        `json:"tx_hash"`
	Kind         string        `json:"kind,omitempty"`
	PollInterval time.Duration `json:"poll_interval"`
	Timeout      time.Duration `json:"timeout"`
}

// FetchReceiptInput contains parameters for the FetchReceipt activity.
type FetchReceiptInput struct {
	TxHash string `json:"tx_hash"`
}

// ReceiptResult is a mined receipt as it crosses the workflow boundary.
type ReceiptResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Status      uint64 `json:"status"`
	GasUsed     uint64 `json:"gas_used"`
}

// Receipt converts the result back to a chain receipt.
func (r *ReceiptResult) Receipt() *chain.Receipt {
	return &chain.Receipt{
		TxHash:      common.HexToHash(r.TxHash),
		BlockNumber: r.BlockNumber,
		Status:      r.Status,
		GasUsed:     r.GasUsed,
	}
}

// PruneHistoryInput contains parameters for pruning the action history.
type PruneHistoryInput struct {
	Retention time.Duration `json:"retention"`
}

// PruneHistoryResult contains the result of pruning the action history.
type PruneHistoryResult struct {
	Deleted int64     `json:"deleted"`
	Before  time.Time `json:"before"`
}

// ReceiptFetcher defines the chain operations needed by activities.
type ReceiptFetcher interface {
	Receipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
}

// HistoryInterface defines the history operations needed by activities.
type HistoryInterface interface {
	DeleteActionsOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	receipts ReceiptFetcher
	history  HistoryInterface
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. history may be nil when
// no database is configured; PruneHistory then fails.
func NewActivities(receipts ReceiptFetcher, history HistoryInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		receipts: receipts,
		history:  history,
		metrics:  m,
		logger:   logger,
	}
}

// FetchReceipt fetches a transaction receipt once. A pending transaction
// returns a retryable ReceiptPending error so the workflow's retry policy
// does the polling.
func (a *Activities) FetchReceipt(ctx context.Context, input FetchReceiptInput) (*ReceiptResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("FetchReceipt", status, time.Since(start).Seconds())
		}
	}()

	raw, err := hexutil.Decode(input.TxHash)
	if err != nil || len(raw) != common.HashLength {
		status = "invalid"
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid transaction hash %q", input.TxHash), ErrTypeInvalidHash, err)
	}
	hash := common.BytesToHash(raw)

	receipt, err := a.receipts.Receipt(ctx, hash)
	if errors.Is(err, chain.ErrReceiptNotFound) {
		status = "pending"
		a.logger.DebugContext(ctx, "receipt not yet available", "tx_hash", input.TxHash)
		return nil, temporalsdk.NewApplicationError("receipt not yet available", ErrTypeReceiptPending)
	}
	if err != nil {
		status = "error"
		a.logger.WarnContext(ctx, "failed to fetch receipt", "tx_hash", input.TxHash, "error", err)
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	a.logger.InfoContext(ctx, "receipt fetched",
		"tx_hash", input.TxHash,
		"block", receipt.BlockNumber,
		"status", receipt.Status,
	)

	return &ReceiptResult{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		Status:      receipt.Status,
		GasUsed:     receipt.GasUsed,
	}, nil
}

// PruneHistory deletes finished actions older than the retention.
func (a *Activities) PruneHistory(ctx context.Context, input PruneHistoryInput) (*PruneHistoryResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("PruneHistory", status, time.Since(start).Seconds())
		}
	}()

	if a.history == nil {
		status = "error"
		return nil, temporalsdk.NewNonRetryableApplicationError("action history is not configured", "HistoryUnavailable", nil)
	}
	if input.Retention <= 0 {
		status = "invalid"
		return nil, temporalsdk.NewNonRetryableApplicationError("retention must be positive", "InvalidRetention", nil)
	}

	before := time.Now().Add(-input.Retention)
	deleted, err := a.history.DeleteActionsOlderThan(ctx, before)
	if err != nil {
		status = "error"
		a.logger.ErrorContext(ctx, "failed to prune action history", "error", err)
		return nil, fmt.Errorf("failed to prune action history: %w", err)
	}

	a.logger.InfoContext(ctx, "pruned action history", "deleted", deleted, "before", before)
	return &PruneHistoryResult{Deleted: deleted, Before: before}, nil
}
