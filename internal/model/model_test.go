package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/tradeguard/internal/risk"
	"github.com/chidi150c/tradeguard/internal/trade"
)

func TestKeywordScorer(t *testing.T) {
	s := NewKeywordScorer()

	assert.Equal(t, 0.0, s.Score(nil))
	assert.InDelta(t, 0.2, s.Score([]string{"Time to BUY bitcoin"}), 1e-9)
	assert.InDelta(t, 0.0, s.Score([]string{"buy or sell?"}), 1e-9)
	assert.InDelta(t, -0.4, s.Score([]string{"sell", "sell now", "nothing"}), 1e-9)

	many := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		many = append(many, "buy")
	}
	assert.InDelta(t, 1.0, s.Score(many), 1e-9, "only the first ten count and the score is clamped")
}

func TestThresholdDecider(t *testing.T) {
	d := NewThresholdDecider()
	cases := map[float64]trade.Action{
		0.2:  trade.Buy,
		0.1:  trade.Hold,
		0:    trade.Hold,
		-0.1: trade.Hold,
		-0.6: trade.Sell,
	}
	for score, want := range cases {
		got, err := d.Decide(context.Background(), DecisionInput{Sentiment: score})
		require.NoError(t, err)
		assert.Equal(t, want, got, "sentiment %v", score)
	}
}

func TestStaticRiskIsARiskModel(t *testing.T) {
	var m risk.Model = StaticRisk(2)
	v, err := m.PredictRiskPercent(context.Background(), risk.Input{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}
