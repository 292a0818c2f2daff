package model

import (
	"context"
	"strings"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/risk"
	"github.com/chidi150c/tradeguard/internal/trade"
)

// DecisionInput is everything the decision step sees in one cycle.
type DecisionInput struct {
	History   []trade.Record
	Candles   []exchange.Candle
	Sentiment float64
	Risk      risk.Parameters
}

// Decider picks BUY, SELL or HOLD.
type Decider interface {
	Decide(ctx context.Context, in DecisionInput) (trade.Action, error)
}

// SentimentScorer maps free text to a score in [-1, 1].
type SentimentScorer interface {
	Score(texts []string) float64
}

// HealthMonitor observes each cycle. Its result does not gate trading.
type HealthMonitor interface {
	Observe(ctx context.Context, candles []exchange.Candle, history []trade.Record) error
}

// Resetter is invoked when the models are older than the configured age.
type Resetter interface {
	Reset(ctx context.Context) error
}

// KeywordScorer adds Step for every text containing "buy" and subtracts it
// for every text containing "sell", over the first MaxTexts texts.
type KeywordScorer struct {
	MaxTexts int
	Step     float64
}

func NewKeywordScorer() KeywordScorer {
	return KeywordScorer{MaxTexts: 10, Step: 0.2}
}

func (k KeywordScorer) Score(texts []string) float64 {
	if len(texts) > k.MaxTexts {
		texts = texts[:k.MaxTexts]
	}
	score := 0.0
	for _, t := range texts {
		lower := strings.ToLower(t)
		if strings.Contains(lower, "buy") {
			score += k.Step
		}
		if strings.Contains(lower, "sell") {
			score -= k.Step
		}
	}
	return clamp(score, -1, 1)
}

// ThresholdDecider buys above BuyAbove and sells below SellBelow.
type ThresholdDecider struct {
	BuyAbove  float64
	SellBelow float64
}

func NewThresholdDecider() ThresholdDecider {
	return ThresholdDecider{BuyAbove: 0.1, SellBelow: -0.1}
}

func (d ThresholdDecider) Decide(_ context.Context, in DecisionInput) (trade.Action, error) {
	switch {
	case in.Sentiment > d.BuyAbove:
		return trade.Buy, nil
	case in.Sentiment < d.SellBelow:
		return trade.Sell, nil
	default:
		return trade.Hold, nil
	}
}

// StaticRisk always predicts the same risk percent.
type StaticRisk float64

func (s StaticRisk) PredictRiskPercent(context.Context, risk.Input) (float64, error) {
	return float64(s), nil
}

// Noop satisfies HealthMonitor and Resetter.
type Noop struct{}

func (Noop) Observe(context.Context, []exchange.Candle, []trade.Record) error { return nil }
func (Noop) Reset(context.Context) error                                     { return nil }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
