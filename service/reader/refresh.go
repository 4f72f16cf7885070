package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/idproperty/service/metrics"
	"github.com/brojonat/idproperty/service/query"
	"github.com/robfig/cron/v3"
)

// Refresh refetches the account-independent reads every page shows so
// pages rarely wait on the node. Values are replaced only when the new read
// succeeds; a failing node leaves the previous values (including both
// admin() reads) cached.
func (r *Reader) Refresh(ctx context.Context) error {
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	keep(query.Reload(ctx, r.cache, r.tokenKey("property"), r.token.Property).Err)
	keep(query.Reload(ctx, r.cache, r.tokenKey("totalSupply"), r.token.TotalSupply).Err)
	keep(query.Reload(ctx, r.cache, r.tokenKey("getTokenValueIDR"), r.token.TokenValueIDR).Err)
	keep(query.Reload(ctx, r.cache, r.tokenKey("minInvestment"), r.token.MinInvestment).Err)
	keep(query.Reload(ctx, r.cache, r.tokenKey("maxInvestment"), r.token.MaxInvestment).Err)
	keep(query.Reload(ctx, r.cache, r.tokenKey("admin"), r.token.Admin).Err)
	keep(query.Reload(ctx, r.cache, r.registryKey("admin"), r.registry.Admin).Err)
	keep(query.Reload(ctx, r.cache, r.registryKey("totalInvestors"), r.registry.TotalInvestors).Err)
	return errors.Join(errs...)
}

// Refresher runs Refresh on a cron schedule.
type Refresher struct {
	cron    *cron.Cron
	reader  *Reader
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewRefresher schedules refreshes, e.g. "@every 30s".
func NewRefresher(r *Reader, schedule string, m *metrics.Metrics, logger *slog.Logger) (*Refresher, error) {
	rf := &Refresher{
		cron:    cron.New(),
		reader:  r,
		logger:  logger,
		metrics: m,
		timeout: 30 * time.Second,
	}
	if _, err := rf.cron.AddFunc(schedule, rf.run); err != nil {
		return nil, fmt.Errorf("invalid refetch schedule %q: %w", schedule, err)
	}
	return rf, nil
}

func (rf *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), rf.timeout)
	defer cancel()

	start := time.Now()
	err := rf.reader.Refresh(ctx)
	status := "success"
	if err != nil {
		status = "error"
		rf.logger.WarnContext(ctx, "scheduled refetch failed", "error", err)
	} else {
		rf.logger.DebugContext(ctx, "scheduled refetch complete", "duration", time.Since(start))
	}
	if rf.metrics != nil {
		rf.metrics.RecordRefetch(status, time.Since(start).Seconds())
	}
}

// Start begins the schedule in its own goroutine.
func (rf *Refresher) Start() {
	rf.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish.
func (rf *Refresher) Stop() {
	<-rf.cron.Stop().Done()
}
