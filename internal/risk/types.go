package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/trade"
)

// Parameters is the per-cycle risk budget handed to the sizer.
type Parameters struct {
	RiskPercent     decimal.Decimal // percent of portfolio risked per trade, in (0, ceiling]
	MaxPositionSize decimal.Decimal // hard cap on order quantity, in base units
}

// DrawdownState is the durable high-water mark.
type DrawdownState struct {
	PeakPortfolio decimal.Decimal
	LastPortfolio decimal.Decimal
}

// Input is what the risk model sees each cycle.
type Input struct {
	History   []trade.Record
	Candles   []exchange.Candle
	Sentiment float64
}

// Model predicts a risk percent. Implementations are opaque to the bot.
type Model interface {
	PredictRiskPercent(ctx context.Context, in Input) (float64, error)
}

// Notifier receives critical alerts.
type Notifier interface {
	Send(ctx context.Context, message string)
}
