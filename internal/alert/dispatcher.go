package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/logger"
)

// Channel delivers a plain-text alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// Notifier is what the rest of the bot depends on.
type Notifier interface {
	Send(ctx context.Context, message string)
}

var metricAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "bot_alerts_total", Help: "Alert deliveries by channel and result",
}, []string{"channel", "result"})

func init() {
	prometheus.MustRegister(metricAlerts)
}

// Dispatcher fans a message out to every configured channel. Delivery is
// best-effort: one channel failing, hanging or panicking never affects the
// others or the caller.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	log      *logrus.Entry
}

func NewDispatcher(timeout time.Duration, channels ...Channel) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		log:      logger.Component("alert"),
	}
}

// Channels lists the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Send blocks until every channel has finished or timed out. Cancellation of
// ctx does not abort delivery; each channel still gets its own timeout. A
// channel that ignores its context is abandoned after twice the timeout.
func (d *Dispatcher) Send(ctx context.Context, message string) {
	if len(d.channels) == 0 {
		d.log.Warnf("no alert channels configured, dropping: %s", message)
		return
	}
	base := context.WithoutCancel(ctx)

	var (
		wg      sync.WaitGroup
		pending atomic.Int32
	)
	pending.Store(int32(len(d.channels)))
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			defer pending.Add(-1)
			cctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := safeSend(cctx, ch, message); err != nil {
				metricAlerts.WithLabelValues(ch.Name(), "error").Inc()
				d.log.WithField("channel", ch.Name()).Errorf("alert delivery failed: %v", err)
				return
			}
			metricAlerts.WithLabelValues(ch.Name(), "ok").Inc()
		}(ch)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(2 * d.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		metricAlerts.WithLabelValues("dispatcher", "abandoned").Inc()
		d.log.Errorf("abandoned %d alert channel(s) still running after %s", pending.Load(), 2*d.timeout)
		return
	}
	d.log.Infof("alert sent: %s", message)
}

func safeSend(ctx context.Context, ch Channel, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.Send(ctx, message)
}

// banner wraps the message the way chat channels display it.
func banner(message string) string {
	return "🚨 *Crypto Trading Alert*\n```" + message + "```"
}
