package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/logger"
)

// ParamsConfig holds the configured defaults and bounds.
type ParamsConfig struct {
	RiskPercent     float64
	MaxPositionSize float64
	MinRiskPercent  float64
	RiskCeiling     float64
}

// Manager derives the per-cycle Parameters. The risk model is auxiliary:
// when it fails the configured default is used and trading carries on.
type Manager struct {
	cfg   ParamsConfig
	model Model
	log   *logrus.Entry
}

// NewManager accepts a nil model, in which case defaults are always used.
func NewManager(cfg ParamsConfig, model Model) *Manager {
	if cfg.RiskCeiling <= 0 || cfg.RiskCeiling > 100 {
		cfg.RiskCeiling = 100
	}
	if cfg.MinRiskPercent <= 0 || cfg.MinRiskPercent > cfg.RiskCeiling {
		cfg.MinRiskPercent = math.Min(0.01, cfg.RiskCeiling)
	}
	return &Manager{cfg: cfg, model: model, log: logger.Component("risk")}
}

func (m *Manager) Parameters(ctx context.Context, in Input) Parameters {
	pct := m.clamp(m.cfg.RiskPercent)
	if m.model != nil {
		predicted, err := m.predict(ctx, in)
		switch {
		case err != nil:
			m.log.Warnf("risk model failed, using default %.4g%%: %v", pct, err)
		case math.IsNaN(predicted) || math.IsInf(predicted, 0):
			m.log.Warnf("risk model returned %v, using default %.4g%%", predicted, pct)
		default:
			clamped := m.clamp(predicted)
			if clamped != predicted {
				m.log.Warnf("risk model predicted %.4g%%, clamped to %.4g%%", predicted, clamped)
			}
			pct = clamped
		}
	}
	return Parameters{
		RiskPercent:     decimal.NewFromFloat(pct),
		MaxPositionSize: decimal.NewFromFloat(m.cfg.MaxPositionSize),
	}
}

func (m *Manager) predict(ctx context.Context, in Input) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("risk model panic: %v", r)
		}
	}()
	return m.model.PredictRiskPercent(ctx, in)
}

func (m *Manager) clamp(v float64) float64 {
	return math.Max(m.cfg.MinRiskPercent, math.Min(v, m.cfg.RiskCeiling))
}
