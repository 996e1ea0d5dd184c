package quote

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sandbox-trader/internal/models"
)

// ThrottleConfig holds rate limiting parameters for external quote calls.
type ThrottleConfig struct {
	// CallsPerSecond is the hard ceiling on external calls, shared by every
	// loop that fetches through this gateway.
	CallsPerSecond float64
	// BatchSize is the maximum instruments per external call.
	BatchSize int
	// BatchDelay is the fixed delay inserted between sub-batches.
	BatchDelay time.Duration
	// Timeout bounds each individual external fetch.
	Timeout time.Duration
}

// ThrottledGateway decorates a Gateway with a process-wide rate limit.
// All engine loops share one instance so the aggregate external call rate
// never exceeds the configured ceiling.
type ThrottledGateway struct {
	inner   Gateway
	limiter *rate.Limiter
	cfg     ThrottleConfig
	logger  zerolog.Logger
}

var _ Gateway = (*ThrottledGateway)(nil)

// NewThrottledGateway wraps inner with rate limiting and batch chunking.
func NewThrottledGateway(inner Gateway, cfg ThrottleConfig, logger zerolog.Logger) *ThrottledGateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	burst := int(cfg.CallsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &ThrottledGateway{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst),
		cfg:     cfg,
		logger:  logger,
	}
}

// GetLastPrice fetches a single price, waiting for rate limit headroom.
func (g *ThrottledGateway) GetLastPrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.inner.GetLastPrice(fetchCtx, symbol, exchange)
}

// GetLastPrices fetches prices in rate-limited sub-batches. A failed
// sub-batch is logged and skipped; its instruments are simply absent from
// the result so callers retry on their next cycle.
func (g *ThrottledGateway) GetLastPrices(ctx context.Context, keys []Key) (map[Key]float64, error) {
	out := make(map[Key]float64, len(keys))

	for start := 0; start < len(keys); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(keys) {
			end = len(keys)
		}

		if start > 0 && g.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(g.cfg.BatchDelay):
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return out, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		prices, err := g.inner.GetLastPrices(fetchCtx, keys[start:end])
		cancel()
		if err != nil {
			g.logger.Warn().Err(err).
				Int("batch_start", start).
				Int("batch_size", end-start).
				Msg("Quote sub-batch failed, instruments will retry next cycle")
			continue
		}
		for k, p := range prices {
			out[k] = p
		}
	}

	return out, nil
}
