package ops

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/chidi150c/tradeguard/internal/engine"
	"github.com/chidi150c/tradeguard/internal/journal"
	"github.com/chidi150c/tradeguard/internal/logger"
)

// StatusSource is the control loop as seen by the ops server.
type StatusSource interface {
	Status() engine.Status
}

// TradeLister reads the journal.
type TradeLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server exposes read-only operator endpoints: health, status, recent trades,
// prometheus metrics and the alert websocket.
type Server struct {
	addr    string
	status  StatusSource
	trades  TradeLister
	alerts  http.Handler
	started time.Time
	log     *logrus.Entry
}

// New builds the server. trades and alerts may be nil.
func New(addr string, status StatusSource, trades TradeLister, alerts http.Handler) *Server {
	return &Server{
		addr:    addr,
		status:  status,
		trades:  trades,
		alerts:  alerts,
		started: time.Now(),
		log:     logger.Component("ops"),
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, s.status.Status()) })
	r.GET("/trades", s.handleTrades)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.alerts != nil {
		r.GET("/ws", gin.WrapH(s.alerts))
	}
	return r
}

// handleHealth answers 503 once trading is halted so external supervisors
// notice without parsing /status.
func (s *Server) handleHealth(c *gin.Context) {
	st := s.status.Status()
	code := http.StatusOK
	state := "ok"
	if st.Halted {
		code, state = http.StatusServiceUnavailable, "halted"
	}
	c.JSON(code, gin.H{
		"status":     state,
		"uptime_sec": int(time.Since(s.started).Seconds()),
		"cycles":     st.Cycles,
		"last_cycle": st.LastCycleAt,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusOK, []journal.Entry{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	entries, err := s.trades.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("ops server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "ops server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "ops server shutdown")
	}
}
