package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/logger"
	"github.com/chidi150c/tradeguard/internal/retry"
	"github.com/chidi150c/tradeguard/internal/risk"
	"github.com/chidi150c/tradeguard/internal/trade"
	"github.com/chidi150c/tradeguard/internal/util"
)

// State is where an Execute call ended up.
type State int

const (
	Rejected State = iota // precondition failed, nothing submitted
	Hold                  // nothing to do
	Closed                // submitted and confirmed filled
	Open                  // submitted, venue still reports it open
	Canceled              // submitted, venue canceled/expired/rejected it
	Unknown               // submitted, status poll failed
	Failed                // submission failed
)

func (s State) String() string {
	switch s {
	case Rejected:
		return "rejected"
	case Hold:
		return "hold"
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Canceled:
		return "canceled"
	case Unknown:
		return "unknown"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Failure classifies a remote error.
type Failure int

const (
	FailureNone Failure = iota
	FailureInsufficientFunds
	FailureRateLimited
	FailureOther
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureInsufficientFunds:
		return "insufficient_funds"
	case FailureRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// Classify maps an error to a Failure class.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, exchange.ErrInsufficientFunds),
		strings.Contains(strings.ToLower(err.Error()), "insufficient"):
		return FailureInsufficientFunds
	case errors.Is(err, retry.ErrRetryExhausted), retry.IsRateLimit(err):
		return FailureRateLimited
	default:
		return FailureOther
	}
}

// Report describes one Execute call.
type Report struct {
	Action  trade.Action
	Amount  decimal.Decimal
	State   State
	Order   exchange.Order
	Failure Failure
	Err     error
	// Unmatched is set when a SELL found no unsold BUY to close.
	Unmatched bool
	// Profit is the profit attributed to the BUY a SELL closed.
	Profit *decimal.Decimal
}

// OK is true for HOLD and for orders confirmed closed.
func (r Report) OK() bool { return r.State == Hold || r.State == Closed }

// Journal receives every recorded trade. Writes are best-effort.
type Journal interface {
	Append(ctx context.Context, r trade.Record, unmatched bool) error
	SetProfit(ctx context.Context, orderID string, profit decimal.Decimal) error
}

var (
	metricExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_executions_total", Help: "Execute calls by action and final state",
	}, []string{"action", "state"})
	metricUnmatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_unmatched_sells_total", Help: "SELL executions with no unsold BUY to close",
	})
	metricProfit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_realized_profit_quote_total", Help: "Sum of positive realized profit in quote currency",
	})
)

func init() {
	prometheus.MustRegister(metricExecutions, metricUnmatched, metricProfit)
}

type Config struct {
	Symbol            string
	RateLimitCooldown time.Duration
}

// Executor submits market orders and reconciles them into the trade history.
type Executor struct {
	ex       exchange.Exchange
	cfg      Config
	notifier risk.Notifier
	clock    util.Clock
	journal  Journal
	log      *logrus.Entry
}

// New builds an Executor. journal may be nil.
func New(ex exchange.Exchange, cfg Config, notifier risk.Notifier, clock util.Clock, journal Journal) *Executor {
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = 60 * time.Second
	}
	return &Executor{
		ex:       ex,
		cfg:      cfg,
		notifier: notifier,
		clock:    clock,
		journal:  journal,
		log:      logger.Component("execution"),
	}
}

// Execute never returns an error: the outcome is entirely in the Report.
// The order itself is submitted under a context detached from ctx so a
// shutdown signal cannot abandon it half-way.
func (e *Executor) Execute(ctx context.Context, action trade.Action, amount, price decimal.Decimal, history *trade.History) Report {
	rep := e.execute(ctx, action, amount, price, history)
	metricExecutions.WithLabelValues(string(action), rep.State.String()).Inc()
	return rep
}

func (e *Executor) execute(ctx context.Context, action trade.Action, amount, price decimal.Decimal, history *trade.History) Report {
	rep := Report{Action: action, Amount: amount}

	switch action {
	case trade.Hold:
		e.log.Info("holding position")
		rep.State = Hold
		return rep
	case trade.Buy, trade.Sell:
	default:
		e.log.Warnf("unknown action %q", action)
		rep.State = Rejected
		return rep
	}

	if !amount.IsPositive() {
		e.log.Warnf("not trading: amount %s", amount)
		rep.State = Rejected
		return rep
	}

	octx := context.WithoutCancel(ctx)

	minSize, err := e.ex.MinOrderSize(octx, e.cfg.Symbol)
	if err != nil {
		return e.fail(ctx, rep, err, "min order size")
	}
	if amount.LessThan(minSize) {
		e.log.Warnf("amount %s below minimum order size %s", amount, minSize)
		rep.State = Rejected
		return rep
	}

	var ord exchange.Order
	if action == trade.Buy {
		ord, err = e.ex.CreateMarketBuyOrder(octx, e.cfg.Symbol, amount)
	} else {
		ord, err = e.ex.CreateMarketSellOrder(octx, e.cfg.Symbol, amount)
	}
	if err != nil {
		return e.fail(ctx, rep, err, "submit "+string(action))
	}
	rep.Order = ord

	// the venue may round the quantity to its lot step
	filled := amount
	if ord.Amount.IsPositive() {
		filled = ord.Amount
	}
	cost := ord.Cost
	if cost.IsZero() {
		// some venues omit the quote amount on the ack
		cost = filled.Mul(price)
	}
	e.log.Infof("%s %s at %s, cost %s (order %s)", action, filled, price, cost, ord.ID)
	e.record(octx, &rep, history, trade.Record{
		Action:     action,
		EntryPrice: price,
		Amount:     filled,
		Cost:       cost,
		Timestamp:  e.clock.Now(),
		OrderID:    ord.ID,
	})

	polled, err := e.ex.FetchOrder(octx, ord.ID, e.cfg.Symbol)
	if err != nil {
		f := e.fail(ctx, rep, err, "fetch order "+ord.ID)
		f.State = Unknown
		return f
	}
	rep.Order.Status = polled.Status

	switch polled.Status {
	case exchange.StatusClosed:
		rep.State = Closed
	case exchange.StatusOpen:
		e.log.Warnf("order %s not closed: %s", ord.ID, polled.Status)
		rep.State = Open
	case exchange.StatusCanceled, exchange.StatusExpired, exchange.StatusRejected:
		e.log.Warnf("order %s not closed: %s", ord.ID, polled.Status)
		rep.State = Canceled
	default:
		e.log.Warnf("order %s in unexpected status %q", ord.ID, polled.Status)
		rep.State = Unknown
	}
	return rep
}

// record appends the leg to history and, for a SELL, closes the oldest unsold
// BUY. A SELL with nothing to close is still recorded and flagged.
func (e *Executor) record(ctx context.Context, rep *Report, history *trade.History, r trade.Record) {
	if r.Action == trade.Sell {
		if i := history.OldestOpenBuy(); i >= 0 {
			profit := history.CloseBuy(i, r.Cost)
			rep.Profit = &profit
			if profit.IsPositive() {
				metricProfit.Add(profit.InexactFloat64())
			}
			e.log.Infof("closed BUY %s, profit %s", history.At(i).OrderID, profit)
			if e.journal != nil {
				if err := e.journal.SetProfit(ctx, history.At(i).OrderID, profit); err != nil {
					e.log.Warnf("journal profit: %v", err)
				}
			}
		} else {
			rep.Unmatched = true
			metricUnmatched.Inc()
			e.log.Warnf("SELL %s has no unsold BUY to close; profit not attributed", r.OrderID)
		}
	}
	history.Append(r)

	if e.journal != nil {
		if err := e.journal.Append(ctx, r, rep.Unmatched); err != nil {
			e.log.Warnf("journal append: %v", err)
		}
	}
}

func (e *Executor) fail(ctx context.Context, rep Report, err error, what string) Report {
	rep.State = Failed
	rep.Err = err
	rep.Failure = Classify(err)

	switch rep.Failure {
	case FailureInsufficientFunds:
		e.log.Errorf("insufficient funds (%s): %v", what, err)
		e.notifier.Send(ctx, fmt.Sprintf("Insufficient funds for %s %s: %v", rep.Action, rep.Amount, err))
	case FailureRateLimited:
		e.log.Errorf("rate limited (%s), cooling down %s: %v", what, e.cfg.RateLimitCooldown, err)
		if serr := e.clock.Sleep(ctx, e.cfg.RateLimitCooldown); serr != nil {
			e.log.Warnf("rate limit cooldown interrupted: %v", serr)
		}
	default:
		e.log.Errorf("trade failed (%s): %v", what, err)
	}
	return rep
}
