package guards

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/retry"
)

var (
	metricOrdersAttempted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bot_orders_attempted_total", Help: "Orders the bot tried to place"}, []string{"side"})
	metricOrdersPlaced    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bot_orders_placed_total", Help: "Orders successfully handed to exchange"}, []string{"side"})
	metricOrdersFailed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bot_orders_failed_total", Help: "Orders that failed after retries"}, []string{"side"})
)

func init() {
	prometheus.MustRegister(metricOrdersAttempted, metricOrdersPlaced, metricOrdersFailed)
}

// SafeExchange routes every exchange call through the retry executor, so
// rate limiting never surfaces to callers unless retries ran out.
type SafeExchange struct {
	inner exchange.Exchange
	retry *retry.Executor
}

var _ exchange.Exchange = (*SafeExchange)(nil)

func NewSafeExchange(inner exchange.Exchange, ex *retry.Executor) *SafeExchange {
	return &SafeExchange{inner: inner, retry: ex}
}

func (s *SafeExchange) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	return retry.Call(ctx, s.retry, "fetch_balance", s.inner.FetchBalance)
}

func (s *SafeExchange) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return retry.Call(ctx, s.retry, "fetch_ticker", func(ctx context.Context) (exchange.Ticker, error) {
		return s.inner.FetchTicker(ctx, symbol)
	})
}

func (s *SafeExchange) CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal) (exchange.Order, error) {
	return s.place(ctx, exchange.Buy, func(ctx context.Context) (exchange.Order, error) {
		return s.inner.CreateMarketBuyOrder(ctx, symbol, amount)
	})
}

func (s *SafeExchange) CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal) (exchange.Order, error) {
	return s.place(ctx, exchange.Sell, func(ctx context.Context) (exchange.Order, error) {
		return s.inner.CreateMarketSellOrder(ctx, symbol, amount)
	})
}

func (s *SafeExchange) place(ctx context.Context, side exchange.Side, fn func(context.Context) (exchange.Order, error)) (exchange.Order, error) {
	metricOrdersAttempted.WithLabelValues(string(side)).Inc()
	ord, err := retry.Call(ctx, s.retry, "create_"+string(side)+"_order", fn)
	if err != nil {
		metricOrdersFailed.WithLabelValues(string(side)).Inc()
		return ord, err
	}
	metricOrdersPlaced.WithLabelValues(string(side)).Inc()
	return ord, nil
}

func (s *SafeExchange) FetchOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	return retry.Call(ctx, s.retry, "fetch_order", func(ctx context.Context) (exchange.Order, error) {
		return s.inner.FetchOrder(ctx, id, symbol)
	})
}

func (s *SafeExchange) MinOrderSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return retry.Call(ctx, s.retry, "min_order_size", func(ctx context.Context) (decimal.Decimal, error) {
		return s.inner.MinOrderSize(ctx, symbol)
	})
}

func (s *SafeExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return retry.Call(ctx, s.retry, "fetch_candles", func(ctx context.Context) ([]exchange.Candle, error) {
		return s.inner.FetchCandles(ctx, symbol, interval, limit)
	})
}
