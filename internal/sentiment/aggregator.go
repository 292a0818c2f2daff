package sentiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/config"
	"github.com/chidi150c/tradeguard/internal/logger"
)

var metricFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "bot_sentiment_fetch_total", Help: "Sentiment source fetches by source and result",
}, []string{"source", "result"})

func init() {
	prometheus.MustRegister(metricFetches)
}

// Aggregator fetches every source concurrently. A source that fails, panics
// or times out contributes nothing; Collect itself never fails.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	log     *logrus.Entry
}

func NewAggregator(timeout time.Duration, sources ...Source) *Aggregator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Aggregator{sources: sources, timeout: timeout, log: logger.Component("sentiment")}
}

// Build creates a source for every configured credential set.
func Build(cfg config.SentimentConfig) *Aggregator {
	var sources []Source
	if cfg.NewsAPIKey != "" {
		sources = append(sources, NewNewsAPI(cfg.NewsAPIKey, cfg.Query))
	}
	if cfg.TwitterBearerToken != "" {
		sources = append(sources, NewTwitter(cfg.TwitterBearerToken, cfg.Query))
	}
	if cfg.RedditClientID != "" && cfg.RedditClientSecret != "" && cfg.RedditUserAgent != "" {
		sources = append(sources, NewReddit(cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUserAgent, cfg.Query))
	}
	return NewAggregator(cfg.Timeout, sources...)
}

func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// Collect returns the texts of all sources, in source order.
func (a *Aggregator) Collect(ctx context.Context) []string {
	results := make([][]string, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			texts, err := safeFetch(sctx, src)
			if err != nil {
				metricFetches.WithLabelValues(src.Name(), "error").Inc()
				a.log.WithField("source", src.Name()).Warnf("sentiment fetch failed: %v", err)
				return
			}
			metricFetches.WithLabelValues(src.Name(), "ok").Inc()
			results[i] = texts
		}(i, src)
	}
	wg.Wait()

	var out []string
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func safeFetch(ctx context.Context, src Source) (texts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return src.Fetch(ctx)
}
