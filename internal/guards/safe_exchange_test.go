package guards

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/retry"
	"github.com/chidi150c/tradeguard/internal/util"
)

// flaky rate-limits the first n ticker calls.
type flaky struct {
	exchange.Exchange
	limitFirst int
	calls      int
}

func (f *flaky) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	f.calls++
	if f.calls <= f.limitFirst {
		return exchange.Ticker{}, &exchange.APIError{Venue: "test", Status: 429, Message: "slow down"}
	}
	return f.Exchange.FetchTicker(ctx, symbol)
}

func newSafe(t *testing.T, limitFirst int) (*SafeExchange, *flaky, *util.ManualClock) {
	paper, err := exchange.NewPaper("BTC/USDT", decimal.NewFromInt(1000), decimal.NewFromInt(100), decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	f := &flaky{Exchange: paper, limitFirst: limitFirst}
	clock := util.NewManualClock(time.Unix(0, 0))
	ex := retry.New(retry.Policy{MaxRetries: 3, InitialDelay: time.Second}, retry.Classifier{RateLimitCodes: []int{429}}, clock)
	return NewSafeExchange(f, ex), f, clock
}

func TestSafeExchangeRetriesRateLimitedCalls(t *testing.T) {
	safe, f, clock := newSafe(t, 2)

	tk, err := safe.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, tk.Last.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestSafeExchangeSurfacesExhaustion(t *testing.T) {
	safe, f, _ := newSafe(t, 10)

	_, err := safe.FetchTicker(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, retry.ErrRetryExhausted)
	assert.Equal(t, 3, f.calls)
}

func TestSafeExchangeDoesNotRetryFunds(t *testing.T) {
	safe, _, clock := newSafe(t, 0)

	_, err := safe.CreateMarketBuyOrder(context.Background(), "BTC/USDT", decimal.NewFromInt(50))
	assert.True(t, errors.Is(err, exchange.ErrInsufficientFunds))
	assert.Empty(t, clock.Sleeps())

	ord, err := safe.CreateMarketBuyOrder(context.Background(), "BTC/USDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	polled, err := safe.FetchOrder(context.Background(), ord.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusClosed, polled.Status)
}
