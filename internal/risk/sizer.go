package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/logger"
	"github.com/chidi150c/tradeguard/internal/trade"
)

var hundred = decimal.NewFromInt(100)

// PortfolioValuer supplies the portfolio value the sizer budgets against.
type PortfolioValuer interface {
	PortfolioValue() decimal.Decimal
}

// FixedPortfolio always reports the same assumed value.
type FixedPortfolio decimal.Decimal

func (f FixedPortfolio) PortfolioValue() decimal.Decimal { return decimal.Decimal(f) }

// LivePortfolio reports the last value fed to it by the control loop.
type LivePortfolio struct {
	mu sync.Mutex
	v  decimal.Decimal
}

func (l *LivePortfolio) Update(v decimal.Decimal) {
	l.mu.Lock()
	l.v = v
	l.mu.Unlock()
}

func (l *LivePortfolio) PortfolioValue() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v
}

// Sizer turns a decision into an order quantity:
//
//	notional = portfolio * risk_percent / 100
//	quantity = min(notional / price, max_position_size)
type Sizer struct {
	valuer     PortfolioValuer
	divergence decimal.Decimal // fraction, e.g. 0.25
	log        *logrus.Entry
}

func NewSizer(valuer PortfolioValuer, divergencePct float64) *Sizer {
	return &Sizer{
		valuer:     valuer,
		divergence: decimal.NewFromFloat(divergencePct).Div(hundred),
		log:        logger.Component("sizer"),
	}
}

// Size never returns a negative quantity. HOLD, a non-positive price, risk
// percent, cap or portfolio all yield zero; risk percent above 100 is capped.
func (s *Sizer) Size(action trade.Action, price decimal.Decimal, p Parameters) decimal.Decimal {
	if action != trade.Buy && action != trade.Sell {
		return decimal.Zero
	}
	if !price.IsPositive() || !p.RiskPercent.IsPositive() || !p.MaxPositionSize.IsPositive() {
		return decimal.Zero
	}
	portfolio := s.valuer.PortfolioValue()
	if !portfolio.IsPositive() {
		return decimal.Zero
	}
	pct := decimal.Min(p.RiskPercent, hundred)

	notional := portfolio.Mul(pct).Div(hundred)
	qty := notional.Div(price)
	return decimal.Min(qty, p.MaxPositionSize)
}

// CheckDivergence warns when the budgeted portfolio is materially different
// from the live one. It reports whether a warning was emitted.
func (s *Sizer) CheckDivergence(live decimal.Decimal) bool {
	if !live.IsPositive() || !s.divergence.IsPositive() {
		return false
	}
	assumed := s.valuer.PortfolioValue()
	gap := assumed.Sub(live).Abs().Div(live)
	if gap.GreaterThan(s.divergence) {
		s.log.Warnf("sizing portfolio %s diverges from live %s by %s%%",
			assumed.StringFixed(2), live.StringFixed(2), gap.Mul(hundred).StringFixed(1))
		return true
	}
	return false
}
