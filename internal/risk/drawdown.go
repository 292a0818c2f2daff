package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/logger"
	"github.com/chidi150c/tradeguard/internal/util"
)

var (
	// ErrHalted is returned by Check once the guard has tripped.
	ErrHalted = errors.New("drawdown guard halted")
	// ErrInvalidPortfolio marks a non-positive portfolio sample.
	ErrInvalidPortfolio = errors.New("invalid portfolio value")
)

var (
	metricPeak     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_portfolio_peak", Help: "High-water mark of portfolio value"})
	metricCurrent  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_portfolio_current", Help: "Last sampled portfolio value"})
	metricDrawdown = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_drawdown_ratio", Help: "(peak - current) / peak"})
	metricHalted   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_drawdown_halted", Help: "1 once the drawdown guard tripped"})
)

func init() {
	prometheus.MustRegister(metricPeak, metricCurrent, metricDrawdown, metricHalted)
}

// StateStore persists DrawdownState.
type StateStore interface {
	Load() (DrawdownState, error)
	Save(DrawdownState) error
}

// FileStore keeps the state as {"peak_portfolio": n, "last_portfolio": n},
// replaced atomically on every save.
type FileStore struct {
	Path string
}

type fileState struct {
	PeakPortfolio json.Number `json:"peak_portfolio"`
	LastPortfolio json.Number `json:"last_portfolio"`
}

// Load returns util.ErrNoSnapshot when the file does not exist.
func (f FileStore) Load() (DrawdownState, error) {
	var fs fileState
	if err := util.LoadJSON(f.Path, &fs); err != nil {
		return DrawdownState{}, err
	}
	peak, err := decimal.NewFromString(fs.PeakPortfolio.String())
	if err != nil {
		return DrawdownState{}, errors.Wrap(err, "peak_portfolio")
	}
	last, err := decimal.NewFromString(fs.LastPortfolio.String())
	if err != nil {
		return DrawdownState{}, errors.Wrap(err, "last_portfolio")
	}
	return DrawdownState{PeakPortfolio: peak, LastPortfolio: last}, nil
}

func (f FileStore) Save(s DrawdownState) error {
	return util.SaveJSON(f.Path, fileState{
		PeakPortfolio: json.Number(s.PeakPortfolio.String()),
		LastPortfolio: json.Number(s.LastPortfolio.String()),
	})
}

type GuardStatus int

const (
	Running GuardStatus = iota
	Halted
)

// DrawdownConfig configures the guard.
type DrawdownConfig struct {
	MaxDrawdownPercent float64
	CheckpointCron     string  // minutes on which state is persisted without a breach
	DefaultPortfolio   float64 // peak and last when no state was persisted
}

// Verdict is the outcome of one Check.
type Verdict struct {
	Peak         decimal.Decimal
	Current      decimal.Decimal
	Drawdown     decimal.Decimal
	Halted       bool
	Checkpointed bool
}

// DrawdownGuard is a one-way circuit breaker on the fall from peak portfolio
// value. Once Halted it stays halted for the life of the process.
type DrawdownGuard struct {
	cfg      DrawdownConfig
	limit    decimal.Decimal
	store    StateStore
	notifier Notifier
	clock    util.Clock
	isDue    func(expr string, ref ...time.Time) (bool, error)

	state  DrawdownState
	status GuardStatus
	log    *logrus.Entry
}

func NewDrawdownGuard(cfg DrawdownConfig, store StateStore, notifier Notifier, clock util.Clock) *DrawdownGuard {
	if cfg.DefaultPortfolio <= 0 {
		cfg.DefaultPortfolio = 10000
	}
	if cfg.CheckpointCron == "" {
		cfg.CheckpointCron = "*/10 * * * *"
	}
	def := decimal.NewFromFloat(cfg.DefaultPortfolio)
	gron := gronx.New()
	return &DrawdownGuard{
		cfg:      cfg,
		limit:    decimal.NewFromFloat(cfg.MaxDrawdownPercent).Div(decimal.NewFromInt(100)),
		store:    store,
		notifier: notifier,
		clock:    clock,
		isDue:    gron.IsDue,
		state:    DrawdownState{PeakPortfolio: def, LastPortfolio: def},
		log:      logger.Component("drawdown"),
	}
}

// Load restores the persisted state. A missing file keeps the defaults; a
// non-positive peak is treated as corrupt and replaced by the default.
func (g *DrawdownGuard) Load() (DrawdownState, error) {
	st, err := g.store.Load()
	switch {
	case errors.Is(err, util.ErrNoSnapshot):
		g.log.Infof("no drawdown state, starting at peak=%s", g.state.PeakPortfolio)
		return g.state, nil
	case err != nil:
		return g.state, errors.Wrap(err, "load drawdown state")
	}
	if !st.PeakPortfolio.IsPositive() {
		g.log.Warnf("persisted peak %s is not positive, using default", st.PeakPortfolio)
		return g.state, nil
	}
	g.state = st
	g.publish(decimal.Zero)
	g.log.Infof("loaded drawdown state peak=%s last=%s", st.PeakPortfolio, st.LastPortfolio)
	return g.state, nil
}

func (g *DrawdownGuard) State() DrawdownState { return g.state }

func (g *DrawdownGuard) Status() GuardStatus { return g.status }

// Check folds in a new portfolio sample. Non-positive samples are rejected
// with ErrInvalidPortfolio and leave the state untouched.
func (g *DrawdownGuard) Check(ctx context.Context, current decimal.Decimal) (Verdict, error) {
	if g.status == Halted {
		return Verdict{Halted: true, Peak: g.state.PeakPortfolio, Current: g.state.LastPortfolio}, ErrHalted
	}
	if !current.IsPositive() {
		return Verdict{}, errors.Wrapf(ErrInvalidPortfolio, "portfolio %s", current)
	}

	if current.GreaterThan(g.state.PeakPortfolio) {
		g.state.PeakPortfolio = current
	}
	g.state.LastPortfolio = current
	peak := g.state.PeakPortfolio
	dd := peak.Sub(current).Div(peak)
	g.publish(dd)

	v := Verdict{Peak: peak, Current: current, Drawdown: dd}
	g.log.Infof("portfolio=%s peak=%s drawdown=%s%%", current.StringFixed(2), peak.StringFixed(2), dd.Mul(decimal.NewFromInt(100)).StringFixed(2))

	if dd.GreaterThan(g.limit) {
		msg := fmt.Sprintf("DRAWDOWN EXCEEDED! %s%% > %s%% (peak=%s current=%s)",
			dd.Mul(decimal.NewFromInt(100)).StringFixed(2),
			decimal.NewFromFloat(g.cfg.MaxDrawdownPercent).String(),
			peak.StringFixed(2), current.StringFixed(2))
		logger.Criticalf("%s", msg)
		g.notifier.Send(ctx, msg)
		if err := g.store.Save(g.state); err != nil {
			g.log.Errorf("persist drawdown state on halt: %v", err)
		} else {
			v.Checkpointed = true
		}
		g.status = Halted
		metricHalted.Set(1)
		v.Halted = true
		return v, nil
	}

	due, err := g.isDue(g.cfg.CheckpointCron, g.clock.Now())
	if err != nil {
		g.log.Warnf("checkpoint schedule %q: %v", g.cfg.CheckpointCron, err)
	}
	if due {
		if err := g.store.Save(g.state); err != nil {
			g.log.Errorf("drawdown checkpoint: %v", err)
		} else {
			v.Checkpointed = true
		}
	}
	return v, nil
}

func (g *DrawdownGuard) publish(dd decimal.Decimal) {
	metricPeak.Set(g.state.PeakPortfolio.InexactFloat64())
	metricCurrent.Set(g.state.LastPortfolio.InexactFloat64())
	metricDrawdown.Set(dd.InexactFloat64())
}
