package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/tradeguard/internal/alert"
	"github.com/chidi150c/tradeguard/internal/config"
	"github.com/chidi150c/tradeguard/internal/engine"
	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/execution"
	"github.com/chidi150c/tradeguard/internal/guards"
	"github.com/chidi150c/tradeguard/internal/journal"
	"github.com/chidi150c/tradeguard/internal/logger"
	"github.com/chidi150c/tradeguard/internal/model"
	"github.com/chidi150c/tradeguard/internal/ops"
	"github.com/chidi150c/tradeguard/internal/retry"
	"github.com/chidi150c/tradeguard/internal/risk"
	"github.com/chidi150c/tradeguard/internal/sentiment"
	"github.com/chidi150c/tradeguard/internal/trade"
	"github.com/chidi150c/tradeguard/internal/util"
)

const (
	exitOK        = 0
	exitHalted    = 1
	exitBootstrap = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "path to YAML config (optional; env overrides it)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitBootstrap
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitBootstrap
	}

	lock, err := util.AcquirePidLock(cfg.LockFile)
	if err != nil {
		logger.Errorf("another instance is running? %v", err)
		return exitBootstrap
	}
	defer util.ReleasePidLock(lock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop, cleanup, srv, err := build(cfg)
	if err != nil {
		logger.Errorf("bootstrap: %v", err)
		return exitBootstrap
	}
	defer cleanup()

	if cfg.OpsListen != "" {
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Errorf("%v", err)
			}
		}()
	}

	logger.Infof("trading %s in %s mode", cfg.Symbol, cfg.Mode)
	if err := loop.Run(ctx); errors.Is(err, engine.ErrDrawdownHalt) {
		logger.Criticalf("exiting after drawdown halt")
		return exitHalted
	}
	logger.Infof("bye")
	return exitOK
}

func build(cfg *config.Config) (*engine.Loop, func(), *ops.Server, error) {
	clock := util.SystemClock{}

	venue, err := buildExchange(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	retrier := retry.New(
		retry.Policy{MaxRetries: cfg.Retry.MaxRetries, InitialDelay: cfg.Retry.InitialDelay},
		retry.Classifier{RateLimitCodes: cfg.Retry.RateLimitCodes},
		clock,
	)
	safe := guards.NewSafeExchange(venue, retrier)

	var hub *alert.Hub
	if cfg.Alerts.Hub {
		hub = alert.NewHub()
	}
	alerts := alert.Build(cfg.Alerts, hub)
	logger.Infof("alert channels: %v", alerts.Channels())

	cleanup := func() {}
	var (
		execJournal execution.Journal
		opsTrades   ops.TradeLister
	)
	if j, err := journal.Open(cfg.JournalPath); err != nil {
		logger.Warnf("trade journal disabled: %v", err)
	} else {
		execJournal, opsTrades = j, j
		cleanup = func() { j.Close() }
	}

	guard := risk.NewDrawdownGuard(risk.DrawdownConfig{
		MaxDrawdownPercent: cfg.Drawdown.MaxDrawdownPercent,
		CheckpointCron:     cfg.Drawdown.CheckpointCron,
		DefaultPortfolio:   cfg.Drawdown.DefaultPortfolio,
	}, risk.FileStore{Path: cfg.Drawdown.SaveFile}, alerts, clock)
	if _, err := guard.Load(); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	manager := risk.NewManager(risk.ParamsConfig{
		RiskPercent:     cfg.Risk.RiskPercent,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MinRiskPercent:  cfg.Risk.MinRiskPercent,
		RiskCeiling:     cfg.Risk.RiskCeiling,
	}, model.StaticRisk(cfg.Risk.RiskPercent))

	var (
		live   *risk.LivePortfolio
		valuer risk.PortfolioValuer = risk.FixedPortfolio(decimal.NewFromFloat(cfg.Risk.AssumedPortfolio))
	)
	if cfg.Risk.UseLivePortfolio {
		live = &risk.LivePortfolio{}
		valuer = live
	}

	agg := sentiment.Build(cfg.Sentiment)
	logger.Infof("sentiment sources: %v", agg.Sources())

	loop := engine.New(engine.Config{
		Symbol:         cfg.Symbol,
		SleepInterval:  cfg.SleepInterval(),
		ErrorCooldown:  cfg.ErrorCooldown,
		HaltCooldown:   cfg.Drawdown.HaltCooldown,
		ModelResetDays: cfg.ModelResetDays,
		MinCandles:     cfg.MinCandles,
		CandleInterval: cfg.CandleInterval,
		CandleLimit:    cfg.CandleLimit,
	}, engine.Deps{
		Exchange: safe,
		Guard:    guard,
		Risk:     manager,
		Sizer:    risk.NewSizer(valuer, cfg.Risk.DivergencePct),
		Live:     live,
		Executor: execution.New(safe, execution.Config{
			Symbol:            cfg.Symbol,
			RateLimitCooldown: cfg.Execution.RateLimitCooldown,
		}, alerts, clock, execJournal),
		Sentiment: agg,
		Scorer:    model.NewKeywordScorer(),
		Decider:   model.NewThresholdDecider(),
		Monitor:   model.Noop{},
		Resetter:  model.Noop{},
		Notifier:  alerts,
		Clock:     clock,
		History:   trade.NewHistory(),
	})

	// a nil *Hub must not reach ops as a non-nil http.Handler
	var alertsWS http.Handler
	if hub != nil {
		alertsWS = hub
	}
	return loop, cleanup, ops.New(cfg.OpsListen, loop, opsTrades, alertsWS), nil
}

func buildExchange(cfg *config.Config) (exchange.Exchange, error) {
	switch cfg.Mode {
	case "paper":
		p, err := exchange.NewPaper(cfg.Symbol,
			decimal.NewFromFloat(cfg.Exchange.PaperQuoteBalance),
			decimal.NewFromFloat(cfg.Exchange.PaperPrice),
			decimal.NewFromFloat(cfg.Exchange.PaperMinOrder))
		if err != nil {
			return nil, err
		}
		return p, nil
	case "binance":
		return exchange.NewBinance(cfg.Exchange.APIKey, cfg.Exchange.Secret, cfg.Exchange.Testnet), nil
	default:
		return nil, errors.Errorf("unknown mode %q", cfg.Mode)
	}
}
