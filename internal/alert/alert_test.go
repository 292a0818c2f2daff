package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mymmrac/telego"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/tradeguard/internal/config"
)

type recordingChannel struct {
	name string
	err  error
	mu   sync.Mutex
	got  []string
	fn   func()
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(ctx context.Context, message string) error {
	if r.fn != nil {
		r.fn()
	}
	r.mu.Lock()
	r.got = append(r.got, message)
	r.mu.Unlock()
	return r.err
}

func (r *recordingChannel) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestDispatcherIsolatesFailingChannels(t *testing.T) {
	failing := &recordingChannel{name: "email", err: errors.New("smtp down")}
	panicking := &recordingChannel{name: "slack", fn: func() { panic("nil webhook") }}
	healthy := &recordingChannel{name: "telegram"}

	d := NewDispatcher(time.Second, failing, panicking, healthy)
	assert.Equal(t, []string{"email", "slack", "telegram"}, d.Channels())

	d.Send(context.Background(), "drawdown breached")

	assert.Equal(t, []string{"drawdown breached"}, failing.messages())
	assert.Equal(t, []string{"drawdown breached"}, healthy.messages())
}

func TestDispatcherTimesOutSlowChannel(t *testing.T) {
	slow := &blockingChannel{}
	fast := &recordingChannel{name: "fast"}
	d := NewDispatcher(50*time.Millisecond, slow, fast)

	start := time.Now()
	d.Send(context.Background(), "hello")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, fast.messages(), 1)
}

// deafChannel ignores its context and only returns once released.
type deafChannel struct{ release chan struct{} }

func (deafChannel) Name() string { return "deaf" }
func (c deafChannel) Send(context.Context, string) error {
	<-c.release
	return nil
}

func TestDispatcherAbandonsChannelIgnoringContext(t *testing.T) {
	deaf := deafChannel{release: make(chan struct{})}
	defer close(deaf.release)
	fast := &recordingChannel{name: "fast"}
	d := NewDispatcher(50*time.Millisecond, deaf, fast)

	returned := make(chan struct{})
	go func() {
		d.Send(context.Background(), "drawdown breached")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Send waited on a channel that ignores its context")
	}
	assert.Len(t, fast.messages(), 1)
}

func TestHubRejectsCrossOriginUpgrade(t *testing.T) {
	srv := httptest.NewServer(NewHub())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()
}

type blockingChannel struct{}

func (blockingChannel) Name() string { return "slow" }
func (blockingChannel) Send(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcherWithNoChannels(t *testing.T) {
	NewDispatcher(0).Send(context.Background(), "nobody listens")
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	ch := &recordingChannel{name: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewDispatcher(time.Second, ch).Send(ctx, "still delivered")
	assert.Len(t, ch.messages(), 1)
}

func TestSendGridPayload(t *testing.T) {
	var body map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendGridWithBaseURL(srv.URL, "sg-key", "ops@example.com", "bot@example.com")
	require.NoError(t, sg.Send(context.Background(), "halted"))

	assert.Equal(t, "Bearer sg-key", auth)
	assert.Equal(t, EmailSubject, body["subject"])
	content := body["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "halted", content["value"])
}

func TestSendGridErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	err := NewSendGridWithBaseURL(srv.URL, "bad", "a@b", "c@d").Send(context.Background(), "x")
	assert.Error(t, err)
}

func TestSlackWebhook(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&m)
		text, _ = m["text"].(string)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	require.NoError(t, NewSlack(srv.URL).Send(context.Background(), "rate limited"))
	assert.Contains(t, text, "rate limited")
	assert.True(t, strings.HasPrefix(text, "🚨"))
}

func TestDiscordWebhookStatus(t *testing.T) {
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	require.NoError(t, d.Send(context.Background(), "ok"))
	status = http.StatusBadRequest
	assert.Error(t, d.Send(context.Background(), "bad"))
}

func TestTelegramSendMessage(t *testing.T) {
	token := "123456:" + strings.Repeat("a", 35)
	var chatID float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"), r.URL.Path)
		var m map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&m)
		chatID, _ = m["chat_id"].(float64)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(token, 42, telego.WithAPIServer(srv.URL))
	require.NoError(t, err)
	require.NoError(t, tg.Send(context.Background(), "halted"))
	assert.Equal(t, float64(42), chatID)
}

func TestTelegramRejectsMalformedToken(t *testing.T) {
	_, err := NewTelegram("not-a-token", 1)
	assert.Error(t, err)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Send(context.Background(), "cycle failed"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "cycle failed", string(msg))
}

func TestBuildSkipsUnconfiguredChannels(t *testing.T) {
	d := Build(config.AlertConfig{Timeout: time.Second}, nil)
	assert.Empty(t, d.Channels())

	d = Build(config.AlertConfig{
		SlackWebhookURL:   "https://hooks.example/x",
		DiscordWebhookURL: "https://discord.example/x",
		SendGridAPIKey:    "k",
		Email:             "ops@example.com",
		TelegramBotToken:  "broken",
		TelegramChatID:    7,
	}, NewHub())
	assert.Equal(t, []string{"email", "slack", "discord", "websocket"}, d.Channels())
}
