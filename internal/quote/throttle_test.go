package quote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandbox-trader/internal/models"
)

// countingGateway records how the throttled wrapper batches calls.
type countingGateway struct {
	mu         sync.Mutex
	inner      *StaticGateway
	calls      int
	batchSizes []int
}

func (g *countingGateway) GetLastPrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.inner.GetLastPrice(ctx, symbol, exchange)
}

func (g *countingGateway) GetLastPrices(ctx context.Context, keys []Key) (map[Key]float64, error) {
	g.mu.Lock()
	g.calls++
	g.batchSizes = append(g.batchSizes, len(keys))
	g.mu.Unlock()
	return g.inner.GetLastPrices(ctx, keys)
}

func TestThrottledGatewayChunksBatches(t *testing.T) {
	inner := NewStaticGateway()
	var keys []Key
	for _, sym := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		inner.SetPrice(sym, models.NSE, 100)
		keys = append(keys, Key{Symbol: sym, Exchange: models.NSE})
	}
	counting := &countingGateway{inner: inner}

	g := NewThrottledGateway(counting, ThrottleConfig{
		CallsPerSecond: 1000,
		BatchSize:      3,
	}, zerolog.Nop())

	prices, err := g.GetLastPrices(context.Background(), keys)
	require.NoError(t, err)

	assert.Len(t, prices, 7)
	assert.Equal(t, []int{3, 3, 1}, counting.batchSizes)
}

func TestThrottledGatewayOmitsMissingInstruments(t *testing.T) {
	inner := NewStaticGateway()
	inner.SetPrice("A", models.NSE, 100)
	counting := &countingGateway{inner: inner}

	g := NewThrottledGateway(counting, ThrottleConfig{CallsPerSecond: 1000, BatchSize: 10}, zerolog.Nop())

	prices, err := g.GetLastPrices(context.Background(), []Key{
		{Symbol: "A", Exchange: models.NSE},
		{Symbol: "MISSING", Exchange: models.NSE},
	})
	require.NoError(t, err)

	assert.Len(t, prices, 1)
	_, ok := prices[Key{Symbol: "MISSING", Exchange: models.NSE}]
	assert.False(t, ok)
}

func TestThrottledGatewayEnforcesRate(t *testing.T) {
	inner := NewStaticGateway()
	inner.SetPrice("A", models.NSE, 100)
	counting := &countingGateway{inner: inner}

	// 10 calls/s means calls beyond the burst must wait ~100ms each.
	g := NewThrottledGateway(counting, ThrottleConfig{CallsPerSecond: 10, BatchSize: 1}, zerolog.Nop())

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 12; i++ {
		_, err := g.GetLastPrice(ctx, "A", models.NSE)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// Burst of 10, then 2 throttled calls.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestThrottledGatewayRespectsContext(t *testing.T) {
	inner := NewStaticGateway()
	counting := &countingGateway{inner: inner}
	g := NewThrottledGateway(counting, ThrottleConfig{CallsPerSecond: 0.001, BatchSize: 1}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Burst 1 passes, the second waits on the limiter and must give up.
	_, _ = g.GetLastPrice(ctx, "A", models.NSE)
	_, err := g.GetLastPrice(ctx, "A", models.NSE)
	assert.Error(t, err)
}
