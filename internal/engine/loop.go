package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/execution"
	"github.com/chidi150c/tradeguard/internal/logger"
	"github.com/chidi150c/tradeguard/internal/model"
	"github.com/chidi150c/tradeguard/internal/risk"
	"github.com/chidi150c/tradeguard/internal/trade"
	"github.com/chidi150c/tradeguard/internal/util"
)

// ErrDrawdownHalt is returned by Run after the drawdown guard tripped and the
// halt cooldown elapsed.
var ErrDrawdownHalt = errors.New("trading halted by drawdown guard")

var (
	metricCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_cycles_total", Help: "Control loop iterations by result",
	}, []string{"result"})
	metricDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_decisions_total", Help: "Decisions taken by action",
	}, []string{"action"})
	metricSentiment = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_sentiment_score", Help: "Last aggregated sentiment score",
	})
)

func init() {
	prometheus.MustRegister(metricCycles, metricDecisions, metricSentiment)
}

// Collector gathers sentiment texts. It never fails.
type Collector interface {
	Collect(ctx context.Context) []string
}

type Config struct {
	Symbol         string
	SleepInterval  time.Duration
	ErrorCooldown  time.Duration
	HaltCooldown   time.Duration
	ModelResetDays int
	MinCandles     int
	CandleInterval string
	CandleLimit    int
}

// Deps are the collaborators of the loop. Live may be nil when sizing uses
// an assumed portfolio.
type Deps struct {
	Exchange  exchange.Exchange
	Guard     *risk.DrawdownGuard
	Risk      *risk.Manager
	Sizer     *risk.Sizer
	Live      *risk.LivePortfolio
	Executor  *execution.Executor
	Sentiment Collector
	Scorer    model.SentimentScorer
	Decider   model.Decider
	Monitor   model.HealthMonitor
	Resetter  model.Resetter
	Notifier  risk.Notifier
	Clock     util.Clock
	History   *trade.History
}

// Status is a snapshot for the ops server.
type Status struct {
	Cycles       int64           `json:"cycles"`
	LastCycleID  string          `json:"last_cycle_id"`
	LastCycleAt  time.Time       `json:"last_cycle_at"`
	Portfolio    decimal.Decimal `json:"portfolio"`
	Peak         decimal.Decimal `json:"peak"`
	Drawdown     decimal.Decimal `json:"drawdown"`
	Sentiment    float64         `json:"sentiment"`
	LastDecision trade.Action    `json:"last_decision"`
	LastExec     string          `json:"last_execution,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Halted       bool            `json:"halted"`
	Trades       int             `json:"trades"`
}

// Loop is the single sequential control loop. It owns the trade history.
type Loop struct {
	cfg       Config
	d         Deps
	lastReset time.Time
	log       *logrus.Entry

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, d Deps) *Loop {
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = 60 * time.Second
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = 50
	}
	if cfg.CandleLimit < cfg.MinCandles {
		cfg.CandleLimit = cfg.MinCandles
	}
	if d.History == nil {
		d.History = trade.NewHistory()
	}
	if d.Monitor == nil {
		d.Monitor = model.Noop{}
	}
	if d.Resetter == nil {
		d.Resetter = model.Noop{}
	}
	if d.Scorer == nil {
		d.Scorer = model.NewKeywordScorer()
	}
	return &Loop{
		cfg:       cfg,
		d:         d,
		lastReset: d.Clock.Now(),
		log:       logger.Component("engine"),
	}
}

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Loop) History() *trade.History { return l.d.History }

// Run iterates until ctx is cancelled (nil) or the drawdown guard halts
// (ErrDrawdownHalt, after HaltCooldown).
func (l *Loop) Run(ctx context.Context) error {
	l.log.Infof("starting control loop on %s every %s", l.cfg.Symbol, l.cfg.SleepInterval)
	for {
		if ctx.Err() != nil {
			l.log.Info("shutdown requested, leaving control loop")
			return nil
		}

		err := l.safeRunOnce(ctx)
		switch {
		case errors.Is(err, ErrDrawdownHalt):
			metricCycles.WithLabelValues("halted").Inc()
			l.log.Warnf("drawdown halt, cooling down %s before exit", l.cfg.HaltCooldown)
			if serr := l.d.Clock.Sleep(ctx, l.cfg.HaltCooldown); serr != nil {
				l.log.Warnf("halt cooldown interrupted: %v", serr)
			}
			return ErrDrawdownHalt
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			metricCycles.WithLabelValues("error").Inc()
			msg := fmt.Sprintf("CRITICAL ERROR: %v", err)
			logger.Criticalf("%s", msg)
			l.d.Notifier.Send(ctx, msg)
			if serr := l.d.Clock.Sleep(ctx, l.cfg.ErrorCooldown); serr != nil {
				return nil
			}
			continue
		}

		metricCycles.WithLabelValues("ok").Inc()
		l.log.Debugf("sleeping %s before next decision", l.cfg.SleepInterval)
		if serr := l.d.Clock.Sleep(ctx, l.cfg.SleepInterval); serr != nil {
			return nil
		}
	}
}

func (l *Loop) safeRunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("panic in cycle: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = l.RunOnce(ctx)
	l.mu.Lock()
	if err != nil {
		l.status.LastError = err.Error()
	} else {
		l.status.LastError = ""
	}
	l.mu.Unlock()
	return err
}

// RunOnce performs one iteration. Data shortages skip the rest of the cycle
// and return nil; ErrDrawdownHalt means the guard tripped this cycle or earlier.
func (l *Loop) RunOnce(ctx context.Context) error {
	cycle := uuid.NewString()[:8]
	log := l.log.WithField("cycle", cycle)
	now := l.d.Clock.Now()
	l.mu.Lock()
	l.status.Cycles++
	l.status.LastCycleID = cycle
	l.status.LastCycleAt = now
	l.mu.Unlock()

	portfolio, err := l.portfolioValue(ctx, log)
	if err != nil {
		return err
	}

	verdict, err := l.d.Guard.Check(ctx, portfolio)
	switch {
	case errors.Is(err, risk.ErrHalted):
		l.setHalted(verdict)
		return ErrDrawdownHalt
	case errors.Is(err, risk.ErrInvalidPortfolio):
		log.Warnf("skipping cycle: %v", err)
		return nil
	case err != nil:
		return errors.Wrap(err, "drawdown check")
	}
	l.mu.Lock()
	l.status.Portfolio, l.status.Peak, l.status.Drawdown = verdict.Current, verdict.Peak, verdict.Drawdown
	l.mu.Unlock()
	if verdict.Halted {
		l.setHalted(verdict)
		return ErrDrawdownHalt
	}

	if l.d.Live != nil {
		l.d.Live.Update(portfolio)
	} else {
		l.d.Sizer.CheckDivergence(portfolio)
	}

	l.maybeResetModels(ctx, log, now)

	candles, err := l.d.Exchange.FetchCandles(ctx, l.cfg.Symbol, l.cfg.CandleInterval, l.cfg.CandleLimit)
	if err != nil {
		log.Errorf("market data unavailable: %v", err)
		return nil
	}
	if len(candles) < l.cfg.MinCandles {
		log.Errorf("not enough market data: %d candles, need %d", len(candles), l.cfg.MinCandles)
		return nil
	}

	var texts []string
	if l.d.Sentiment != nil {
		texts = l.d.Sentiment.Collect(ctx)
	}
	sentiment := l.d.Scorer.Score(texts)
	metricSentiment.Set(sentiment)
	log.Infof("sentiment %.2f from %d texts", sentiment, len(texts))

	records := l.d.History.Records()
	params := l.d.Risk.Parameters(ctx, risk.Input{History: records, Candles: candles, Sentiment: sentiment})

	if err := l.d.Monitor.Observe(ctx, candles, records); err != nil {
		log.Warnf("health monitor: %v", err)
	}

	action, err := l.d.Decider.Decide(ctx, model.DecisionInput{
		History: records, Candles: candles, Sentiment: sentiment, Risk: params,
	})
	if err != nil {
		return errors.Wrap(err, "decision")
	}
	metricDecisions.WithLabelValues(string(action)).Inc()
	log.Infof("decision: %s (risk %s%%, cap %s)", action, params.RiskPercent, params.MaxPositionSize)
	l.mu.Lock()
	l.status.Sentiment, l.status.LastDecision = sentiment, action
	l.mu.Unlock()

	if action == trade.Hold {
		return nil
	}

	ticker, err := l.d.Exchange.FetchTicker(ctx, l.cfg.Symbol)
	if err != nil {
		return errors.Wrap(err, "fetch ticker")
	}
	qty := l.d.Sizer.Size(action, ticker.Last, params)
	if !qty.IsPositive() {
		log.Warnf("no trade: position size is zero at price %s", ticker.Last)
		return nil
	}

	rep := l.d.Executor.Execute(ctx, action, qty, ticker.Last, l.d.History)
	log.Infof("execution %s %s: %s ok=%t", action, qty, rep.State, rep.OK())
	l.mu.Lock()
	l.status.LastExec = rep.State.String()
	l.status.Trades = l.d.History.Len()
	l.mu.Unlock()
	return nil
}

func (l *Loop) portfolioValue(ctx context.Context, log *logrus.Entry) (decimal.Decimal, error) {
	bal, err := l.d.Exchange.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch balance")
	}
	ticker, err := l.d.Exchange.FetchTicker(ctx, l.cfg.Symbol)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch ticker")
	}
	value, err := exchange.PortfolioValue(bal, l.cfg.Symbol, ticker.Last)
	if err != nil {
		return decimal.Zero, err
	}
	base, quote, _ := exchange.SplitSymbol(l.cfg.Symbol)
	log.Infof("wallet: %s %s | %s %s, value %s", bal.Free(base), base, bal.Free(quote), quote, value.StringFixed(2))
	return value, nil
}

// maybeResetModels resets once the models are more than ModelResetDays whole
// days old.
func (l *Loop) maybeResetModels(ctx context.Context, log *logrus.Entry, now time.Time) {
	if l.cfg.ModelResetDays <= 0 {
		return
	}
	days := int(now.Sub(l.lastReset).Hours() / 24)
	if days <= l.cfg.ModelResetDays {
		return
	}
	log.Infof("resetting models, last reset %d days ago", days)
	if err := l.d.Resetter.Reset(ctx); err != nil {
		log.Warnf("model reset failed: %v", err)
	}
	l.lastReset = now
}

func (l *Loop) setHalted(v risk.Verdict) {
	l.mu.Lock()
	l.status.Halted = true
	l.status.Peak, l.status.Portfolio = v.Peak, v.Current
	l.mu.Unlock()
}
