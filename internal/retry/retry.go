package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chidi150c/tradeguard/internal/logger"
)

// Outcome is the classification of a single attempt.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Policy is immutable for the lifetime of the process.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// Delay is the backoff slept after the failed attempt with 0-based index attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.InitialDelay * time.Duration(int64(1)<<uint(attempt))
}

// ErrRetryExhausted matches every *ExhaustedError via errors.Is.
var ErrRetryExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt was rate limited.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts rate limited: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }
func (e *ExhaustedError) Unwrap() error        { return e.Last }

// Coder is implemented by remote errors carrying a numeric status or API code.
type Coder interface {
	Code() int
}

// Classifier decides whether a failed attempt may be retried. Only rate
// limiting is retryable; everything else is fatal for this layer.
type Classifier struct {
	RateLimitCodes []int
}

func (c Classifier) Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if IsRateLimit(err) {
		return Retryable
	}
	var coder Coder
	if errors.As(err, &coder) {
		for _, code := range c.RateLimitCodes {
			if coder.Code() == code {
				return Retryable
			}
		}
	}
	return Fatal
}

// IsRateLimit reports whether the error text mentions a rate limit.
func IsRateLimit(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// Sleeper blocks between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

var (
	metricAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_remote_attempts_total", Help: "Remote call attempts by operation and outcome",
	}, []string{"op", "outcome"})
	metricExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_remote_retries_exhausted_total", Help: "Remote calls that stayed rate limited for every attempt",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(metricAttempts, metricExhausted)
}

// Executor runs remote operations under a Policy.
type Executor struct {
	policy     Policy
	classifier Classifier
	sleeper    Sleeper
}

func New(policy Policy, classifier Classifier, sleeper Sleeper) *Executor {
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}
	return &Executor{policy: policy, classifier: classifier, sleeper: sleeper}
}

func (e *Executor) Policy() Policy { return e.policy }

// Do runs fn until it succeeds, fails fatally, or MaxRetries attempts were
// rate limited. The backoff after attempt k (0-based) is InitialDelay*2^k;
// nothing is slept after the final attempt.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		outcome := e.classifier.Classify(err)
		metricAttempts.WithLabelValues(op, outcome.String()).Inc()

		switch outcome {
		case Success:
			return nil
		case Fatal:
			return err
		}

		if attempt+1 >= e.policy.MaxRetries {
			metricExhausted.WithLabelValues(op).Inc()
			return &ExhaustedError{Op: op, Attempts: attempt + 1, Last: err}
		}
		delay := e.policy.Delay(attempt)
		logger.Component("retry").Warnf("%s rate limited (attempt %d/%d), backing off %s: %v",
			op, attempt+1, e.policy.MaxRetries, delay, err)
		if serr := e.sleeper.Sleep(ctx, delay); serr != nil {
			return errors.Wrapf(serr, "%s: backoff interrupted", op)
		}
		attempt++
	}
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
