package chain

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/brojonat/idproperty/service/metrics"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// Dial connects to an RPC endpoint and returns the throttled contract
// client together with the raw ethclient, which also backs KeyWallet.
// A non-positive rateLimit disables throttling.
func Dial(ctx context.Context, rpcURL string, rateLimit float64, burst int, m *metrics.Metrics, logger *slog.Logger) (*Client, *ethclient.Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	var limiter *rate.Limiter
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}

	endpoint := rpcURL
	if u, err := url.Parse(rpcURL); err == nil && u.Host != "" {
		// Keep API keys in the path out of metric labels.
		endpoint = u.Host
	}
	logger.Info("connected to RPC", "endpoint", endpoint, "rate_limit", rateLimit, "burst", burst)

	return NewClient(eth, endpoint, limiter, m, logger), eth, nil
}
