package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrActionNotFound is returned by Runner.Get for unknown or evicted ids.
var ErrActionNotFound = errors.New("action not found")

// ReceiptWaiter blocks until a transaction is mined.
// chain.ReceiptPoller and the temporal client implement it.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
}

// Publisher receives a snapshot after every transition.
type Publisher interface {
	PublishAction(ctx context.Context, rec Record) error
}

// HistoryStore persists snapshots.
type HistoryStore interface {
	SaveAction(ctx context.Context, rec Record) error
}

// Request describes one write.
type Request struct {
	Kind    Kind
	Account common.Address
	Params  map[string]string
	// Submit signs and broadcasts the transaction.
	Submit func(ctx context.Context) (common.Hash, error)
	// OnSuccess runs after the receipt confirmed success, typically to
	// invalidate dependent reads.
	OnSuccess func(*chain.Receipt)
}

// RunnerConfig holds the runner's collaborators. Publisher, History and
// Metrics are optional.
type RunnerConfig struct {
	Waiter    ReceiptWaiter
	Publisher Publisher
	History   HistoryStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Retain bounds how many actions stay addressable by id.
	Retain int
	// SubmitTimeout bounds the wallet step.
	SubmitTimeout time.Duration
}

// Runner drives actions through their lifecycle on background goroutines.
type Runner struct {
	waiter        ReceiptWaiter
	publisher     Publisher
	history       HistoryStore
	metrics       *metrics.Metrics
	logger        *slog.Logger
	submitTimeout time.Duration
	now           func() time.Time

	actions *lru.Cache[uuid.UUID, *Action]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Waiter == nil {
		return nil, fmt.Errorf("receipt waiter is required")
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 1024
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 2 * time.Minute
	}
	actions, err := lru.New[uuid.UUID, *Action](cfg.Retain)
	if err != nil {
		return nil, fmt.Errorf("failed to create action cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		waiter:        cfg.Waiter,
		publisher:     cfg.Publisher,
		history:       cfg.History,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		submitTimeout: cfg.SubmitTimeout,
		now:           time.Now,
		actions:       actions,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start moves a new action to Pending and continues it in the background.
// The returned action is already Pending.
func (r *Runner) Start(ctx context.Context, req Request) (*Action, error) {
	if req.Submit == nil {
		return nil, fmt.Errorf("submit function is required")
	}
	if err := r.ctx.Err(); err != nil {
		return nil, fmt.Errorf("runner stopped: %w", err)
	}

	a := newAction(req.Kind, req.Account, req.Params, r.now())
	if _, err := r.transition(ctx, a, Submit{}); err != nil {
		return nil, err
	}
	r.actions.Add(a.ID, a)
	if r.metrics != nil {
		r.metrics.RecordInFlightChange(string(a.Kind), 1)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(a, req)
	}()
	return a, nil
}

func (r *Runner) run(a *Action, req Request) {
	ctx := r.ctx
	log := r.logger.With("action_id", a.ID.String(), "kind", string(a.Kind))
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordInFlightChange(string(a.Kind), -1)
		}
	}()

	submitCtx, cancel := context.WithTimeout(ctx, r.submitTimeout)
	hash, err := req.Submit(submitCtx)
	cancel()
	if err != nil {
		log.WarnContext(ctx, "wallet submission failed", "error", err)
		r.transition(ctx, a, Errored{Err: err})
		return
	}
	log.InfoContext(ctx, "transaction submitted", "tx_hash", hash.Hex())
	r.transition(ctx, a, WalletConfirmed{Hash: hash})

	start := time.Now()
	receipt, err := r.waiter.WaitMined(ctx, hash)
	status := "success"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordReceiptWait(string(a.Kind), status, time.Since(start).Seconds())
	}
	if err != nil {
		log.WarnContext(ctx, "transaction failed", "tx_hash", hash.Hex(), "error", err)
		r.transition(ctx, a, Errored{Err: err})
		return
	}

	if req.OnSuccess != nil {
		req.OnSuccess(receipt)
	}
	log.InfoContext(ctx, "transaction confirmed", "tx_hash", hash.Hex(), "block", receipt.BlockNumber)
	r.transition(ctx, a, ChainConfirmed{Receipt: receipt})
}

// transition applies e and fans the snapshot out to history and publisher.
// Side-channel failures are logged; they never affect the lifecycle.
func (r *Runner) transition(ctx context.Context, a *Action, e Event) (State, error) {
	next, err := a.apply(e, r.now())
	if err != nil {
		r.logger.ErrorContext(ctx, "rejected lifecycle event", "action_id", a.ID.String(), "error", err)
		return next, err
	}
	if r.metrics != nil {
		r.metrics.RecordActionTransition(string(a.Kind), string(next.Phase()))
	}

	rec := a.Snapshot()
	// Persist with a context detached from request cancellation.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if r.history != nil {
		if err := r.history.SaveAction(sideCtx, rec); err != nil {
			r.logger.WarnContext(ctx, "failed to record action", "action_id", a.ID.String(), "error", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishAction(sideCtx, rec); err != nil {
			r.logger.WarnContext(ctx, "failed to publish action event", "action_id", a.ID.String(), "error", err)
		}
	}
	return next, nil
}

// Get returns a retained action.
func (r *Runner) Get(id uuid.UUID) (*Action, error) {
	a, ok := r.actions.Get(id)
	if !ok {
		return nil, ErrActionNotFound
	}
	return a, nil
}

// Close cancels in-flight actions and waits for their goroutines.
func (r *Runner) Close(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
