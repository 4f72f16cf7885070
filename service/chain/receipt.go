package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReceiptPoller waits for receipts by polling the node.
type ReceiptPoller struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewReceiptPoller creates a poller. timeout bounds a single WaitMined call.
func NewReceiptPoller(client *Client, interval, timeout time.Duration, logger *slog.Logger) *ReceiptPoller {
	return &ReceiptPoller{client: client, interval: interval, timeout: timeout, logger: logger}
}

// WaitMined blocks until the transaction is mined. A reverted transaction
// returns its receipt together with ErrReverted.
func (p *ReceiptPoller) WaitMined(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		receipt, err := p.client.Receipt(ctx, hash)
		switch {
		case err == nil:
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			return receipt, nil
		case errors.Is(err, ErrReceiptNotFound):
			p.logger.DebugContext(ctx, "receipt not yet available", "tx_hash", hash.Hex())
		default:
			// Transient node errors keep polling until the timeout.
			p.logger.WarnContext(ctx, "failed to fetch receipt", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
