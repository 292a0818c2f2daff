package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/tradeguard/internal/alert"
	"github.com/chidi150c/tradeguard/internal/engine"
	"github.com/chidi150c/tradeguard/internal/journal"
	"github.com/chidi150c/tradeguard/internal/trade"
)

type fixedStatus engine.Status

func (f fixedStatus) Status() engine.Status { return engine.Status(f) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthReflectsHalt(t *testing.T) {
	ok := New("", fixedStatus{Cycles: 3}, nil, nil).Router()
	rec := get(t, ok, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	halted := New("", fixedStatus{Halted: true}, nil, nil).Router()
	rec = get(t, halted, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "halted")
}

func TestStatusAndMetrics(t *testing.T) {
	h := New("", fixedStatus{Cycles: 7, LastDecision: trade.Buy, Portfolio: decimal.RequireFromString("123.45")}, nil, nil).Router()

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 7, st["cycles"])
	assert.Equal(t, "BUY", st["last_decision"])
	assert.Equal(t, "123.45", st["portfolio"])

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestTradesFromJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Append(context.Background(), trade.Record{
		Action: trade.Buy, OrderID: "o1", Amount: decimal.RequireFromString("0.002"), Timestamp: time.Now(),
	}, false))

	h := New("", fixedStatus{}, j, nil).Router()
	rec := get(t, h, "/trades?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "o1", entries[0].OrderID)

	empty := get(t, New("", fixedStatus{}, nil, nil).Router(), "/trades")
	assert.Equal(t, "[]", strings.TrimSpace(empty.Body.String()))
}

func TestAlertWebsocketRoute(t *testing.T) {
	hub := alert.NewHub()
	srv := httptest.NewServer(New("", fixedStatus{}, nil, hub).Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Send(context.Background(), "drawdown!"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "drawdown!")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New("127.0.0.1:0", fixedStatus{}, nil, nil).Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
