package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/ethereum/go-ethereum/common"
	"go.temporal.io/sdk/client"
)

// ReceiptPolicy controls how AwaitReceiptWorkflow polls.
type ReceiptPolicy struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client starts receipt workflows and manages the history prune schedule.
// It satisfies txn.ReceiptWaiter, so the dashboard can wait for receipts
// durably through the worker instead of polling in process.
type Client struct {
	client    client.Client
	taskQueue string
	policy    ReceiptPolicy
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, policy ReceiptPolicy, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = defaultPollInterval
	}
	if policy.Timeout <= 0 {
		policy.Timeout = defaultReceiptTimeout
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		policy:    policy,
		logger:    logger,
	}, nil
}

// receiptWorkflowID is stable per hash, so concurrent waiters share one run.
func receiptWorkflowID(hash common.Hash) string {
	return "await-receipt-" + hash.Hex()
}

// WaitMined starts (or joins) the receipt workflow for hash and blocks
// until it completes. A reverted transaction returns its receipt together
// with chain.ErrReverted.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	opts := client.StartWorkflowOptions{
		ID:                       receiptWorkflowID(hash),
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: c.policy.Timeout + time.Minute,
	}
	input := AwaitReceiptInput{
		TxHash:       hash.Hex(),
		PollInterval: c.policy.PollInterval,
		Timeout:      c.policy.Timeout,
	}

	run, err := c.client.ExecuteWorkflow(ctx, opts, AwaitReceiptWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start receipt workflow", "tx_hash", hash.Hex(), "error", err)
		return nil, fmt.Errorf("failed to start receipt workflow: %w", err)
	}

	c.logger.DebugContext(ctx, "waiting for receipt workflow",
		"tx_hash", hash.Hex(),
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	var result ReceiptResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("waiting for receipt %s: %w", hash.Hex(), err)
	}

	receipt := result.Receipt()
	if !receipt.Succeeded() {
		return receipt, fmt.Errorf("%w: %s", chain.ErrReverted, hash.Hex())
	}
	return receipt, nil
}

// PruneScheduleID is the schedule that prunes the action history.
const PruneScheduleID = "prune-action-history"

// UpsertPruneSchedule creates or updates the schedule that runs
// PruneHistoryWorkflow every interval.
func (c *Client) UpsertPruneSchedule(ctx context.Context, every, retention time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, PruneScheduleID)
	if _, err := handle.Describe(ctx); err == nil {
		err = handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
					{Every: every},
				}
				if action, ok := input.Description.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
					action.Args = []interface{}{PruneHistoryInput{Retention: retention}}
				}
				return &client.ScheduleUpdate{
					Schedule: &input.Description.Schedule,
				}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update schedule %q: %w", PruneScheduleID, err)
		}
		c.logger.Info("history prune schedule updated", "every", every, "retention", retention)
		return nil
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: PruneScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: every}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        PruneScheduleID,
			Workflow:  PruneHistoryWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{PruneHistoryInput{Retention: retention}},
		},
		Memo: map[string]interface{}{
			"created_by": "idproperty",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create schedule %q: %w", PruneScheduleID, err)
	}

	c.logger.Info("history prune schedule created", "every", every, "retention", retention)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
