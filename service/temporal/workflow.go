package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	defaultPollInterval   = 2 * time.Second
	defaultReceiptTimeout = 5 * time.Minute
)

// AwaitReceiptWorkflow waits until a submitted transaction is mined and
// returns its receipt. Reverted transactions are returned as results with
// a failure status, not as workflow errors.
//
// Polling is the FetchReceipt activity's retry loop: a fixed interval with
// no attempt limit, bounded by the schedule-to-close timeout.
func AwaitReceiptWorkflow(ctx workflow.Context, input AwaitReceiptInput) (*ReceiptResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("AwaitReceiptWorkflow started", "tx_hash", input.TxHash, "kind", input.Kind)

	interval := input.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: timeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        interval,
			BackoffCoefficient:     1.0,
			MaximumInterval:        interval,
			NonRetryableErrorTypes: []string{ErrTypeInvalidHash},
		},
	})

	var result *ReceiptResult
	err := workflow.ExecuteActivity(ctx, a.FetchReceipt, FetchReceiptInput{TxHash: input.TxHash}).Get(ctx, &result)
	if err != nil {
		logger.Error("failed to await receipt", "tx_hash", input.TxHash, "error", err)
		return nil, fmt.Errorf("failed to await receipt: %w", err)
	}

	logger.Info("AwaitReceiptWorkflow completed",
		"tx_hash", input.TxHash,
		"block", result.BlockNumber,
		"status", result.Status,
	)
	return result, nil
}

// PruneHistoryWorkflow removes finished actions older than the retention.
// It is started by the history prune schedule.
func PruneHistoryWorkflow(ctx workflow.Context, input PruneHistoryInput) (*PruneHistoryResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var result *PruneHistoryResult
	if err := workflow.ExecuteActivity(ctx, a.PruneHistory, input).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to prune action history: %w", err)
	}
	workflow.GetLogger(ctx).Info("PruneHistoryWorkflow completed", "deleted", result.Deleted)
	return result, nil
}
