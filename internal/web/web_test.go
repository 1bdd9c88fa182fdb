package web

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/identity"
	"github.com/Ant-Pavel/systech-aidd/internal/llm"
	"github.com/Ant-Pavel/systech-aidd/internal/logger"
	"github.com/Ant-Pavel/systech-aidd/internal/metrics"
	"github.com/Ant-Pavel/systech-aidd/internal/relay"
	"github.com/Ant-Pavel/systech-aidd/internal/stats"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLLM struct {
	chunks []string
	err    error
}

func (f *fakeLLM) Stream(_ context.Context, _ []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

type testEnv struct {
	server *Server
	store  database.Store
}

func newTestEnv(t *testing.T, client llm.Client, mutate func(*config.WebConfig)) *testEnv {
	t.Helper()
	log := logger.Discard()

	pool := database.NewPool(config.DatabaseConfig{
		URL:                filepath.Join(t.TempDir(), "web.db"),
		MinConns:           1,
		MaxConns:           1,
		CommandTimeout:     5 * time.Second,
		ConnectAttempts:    1,
		MaxHistoryMessages: 10,
	}, log)
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	store := database.NewStore(pool, log)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	webCfg := config.WebConfig{
		Enabled:         true,
		Addr:            ":0",
		AllowedOrigins:  []string{"http://localhost:3000"},
		ShutdownTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&webCfg)
	}

	srv := NewServer(Deps{
		Logger:       log,
		Config:       webCfg,
		HistoryLimit: 10,
		Mapper:       identity.NewMapper(identity.NewMemoryBackend(), log),
		Relay:        relay.New(store, client, relay.Options{HistoryLimit: 10, Metrics: m, Logger: log}),
		Store:        store,
		Stats:        stats.NewCollector(database.NewStatsStore(pool, log), log),
		Metrics:      m,
		Gatherer:     reg,
		Version:      "test",
	})
	return &testEnv{server: srv, store: store}
}

func (e *testEnv) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		data, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("frame without data prefix: %q", frame)
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("invalid event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatMessageStreamsAndCommits(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{chunks: []string{"Hel", "lo"}}, nil)

	w := env.do(http.MethodPost, "/api/chat/message", `{"session_id":"fresh","message":"hi"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := w.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}

	want := []sseEvent{
		{Type: eventToken, Content: "Hel"},
		{Type: eventToken, Content: "lo"},
		{Type: eventDone, Content: ""},
	}
	got := parseEvents(t, w.Body.String())
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// The first web session maps to -1/-1.
	window, err := env.store.ReadWindow(context.Background(), -1, -1, 10)
	if err != nil {
		t.Fatalf("ReadWindow() error = %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("stored messages = %d, want 2", len(window))
	}
	if window[0].Role != database.RoleUser || window[0].Content != "hi" || window[0].Source != database.SourceWeb {
		t.Errorf("user message = %+v", window[0])
	}
	if window[1].Role != database.RoleAssistant || window[1].Content != "Hello" || window[1].Source != database.SourceWeb {
		t.Errorf("assistant message = %+v", window[1])
	}

	w = env.do(http.MethodGet, "/api/chat/history?session_id=fresh", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var history []historyMessage
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("invalid history body: %v", err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Content != "Hello" {
		t.Errorf("history = %+v", history)
	}
	if _, err := time.Parse(time.RFC3339Nano, history[0].CreatedAt); err != nil {
		t.Errorf("created_at %q is not RFC 3339: %v", history[0].CreatedAt, err)
	}
}

func TestChatMessageUpstreamError(t *testing.T) {
	t.Parallel()

	upstreamErr := apperrors.NewUpstreamError(apperrors.KindRateLimit, "429", nil)
	env := newTestEnv(t, &fakeLLM{chunks: []string{"Hel"}, err: upstreamErr}, nil)

	w := env.do(http.MethodPost, "/api/chat/message", `{"session_id":"s","message":"hi"}`, nil)
	got := parseEvents(t, w.Body.String())
	if len(got) != 2 {
		t.Fatalf("events = %+v, want token then error", got)
	}
	if got[0] != (sseEvent{Type: eventToken, Content: "Hel"}) {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != eventError || got[1].Content != apperrors.UserMessage(upstreamErr) {
		t.Errorf("terminal event = %+v", got[1])
	}
	if strings.Contains(got[1].Content, "429") {
		t.Errorf("raw upstream detail leaked: %q", got[1].Content)
	}

	window, err := env.store.ReadWindow(context.Background(), -1, -1, 10)
	if err != nil {
		t.Fatalf("ReadWindow() error = %v", err)
	}
	if len(window) != 1 || window[0].Role != database.RoleUser {
		t.Errorf("stored messages = %+v, want only the user message", window)
	}
}

func TestChatMessageRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{chunks: []string{"x"}}, nil)
	for _, body := range []string{`{}`, `{"session_id":"s"}`, `{"message":"hi"}`, `not json`} {
		if w := env.do(http.MethodPost, "/api/chat/message", body, nil); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestChatMessageBlankTextEndsWithError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{chunks: []string{"x"}}, nil)
	w := env.do(http.MethodPost, "/api/chat/message", `{"session_id":"s","message":"   "}`, nil)
	got := parseEvents(t, w.Body.String())
	if len(got) != 1 || got[0].Type != eventError {
		t.Errorf("events = %+v, want a single error event", got)
	}
}

func TestChatMessageRateLimited(t *testing.T) {
	t.Parallel()

	// httptest requests come from 192.0.2.1.
	env := newTestEnv(t, &fakeLLM{chunks: []string{"x"}}, func(c *config.WebConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
		c.TrustedProxies = []string{"192.0.2.1"}
	})

	body := `{"session_id":"busy","message":"hi"}`
	if w := env.do(http.MethodPost, "/api/chat/message", body, nil); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/chat/message", body, nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", w.Code)
	}

	// A fresh session id from the same client shares its bucket.
	rotated := `{"session_id":"rotated","message":"hi"}`
	if w := env.do(http.MethodPost, "/api/chat/message", rotated, nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("rotated session status = %d, want 429", w.Code)
	}

	forwarded := map[string]string{"X-Forwarded-For": "198.51.100.7"}
	if w := env.do(http.MethodPost, "/api/chat/message", rotated, forwarded); w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
	if got := env.server.limiters.Len(); got != 2 {
		t.Errorf("buckets = %d, want one per client", got)
	}
}

func TestChatMessageIgnoresUntrustedForwarding(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{chunks: []string{"x"}}, func(c *config.WebConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})

	body := `{"session_id":"s","message":"hi"}`
	if w := env.do(http.MethodPost, "/api/chat/message", body, nil); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	spoofed := map[string]string{"X-Forwarded-For": "203.0.113.9"}
	if w := env.do(http.MethodPost, "/api/chat/message", body, spoofed); w.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed request status = %d, want 429", w.Code)
	}
}

func TestChatHistoryRequiresSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{}, nil)
	if w := env.do(http.MethodGet, "/api/chat/history", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	w := env.do(http.MethodGet, "/api/chat/history?session_id=new", "", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty history = %d %s", w.Code, w.Body.String())
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{chunks: []string{"ok"}}, nil)
	env.do(http.MethodPost, "/api/chat/message", `{"session_id":"s","message":"hi"}`, nil)

	w := env.do(http.MethodGet, "/api/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var dashboard stats.Dashboard
	if err := json.Unmarshal(w.Body.Bytes(), &dashboard); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if dashboard.Metrics.TotalMessages.Value != 2 {
		t.Errorf("total messages = %v, want 2", dashboard.Metrics.TotalMessages.Value)
	}
	if dashboard.Metrics.ActiveConversations.Value != 1 {
		t.Errorf("active conversations = %v, want 1", dashboard.Metrics.ActiveConversations.Value)
	}
	if len(dashboard.TimeSeries) != 8 {
		t.Errorf("time series points = %d, want 8", len(dashboard.TimeSeries))
	}

	if w := env.do(http.MethodGet, "/api/stats?period=1y", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid period status = %d, want 400", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{}, nil)

	w := env.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(logger.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	w = env.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "aidd_http_requests_total") {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{}, nil)

	w := env.do(http.MethodOptions, "/api/chat/message", "", map[string]string{"Origin": "http://localhost:3000"})
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	w = env.do(http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q", got)
	}
}

func TestLimiterPoolDisabled(t *testing.T) {
	t.Parallel()

	p := newLimiterPool(0, 0)
	for range 100 {
		if !p.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestLimiterPoolEvictsIdleBuckets(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newLimiterPool(1, 5)
	p.now = func() time.Time { return now }

	for i := range 100 {
		p.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	if got := p.Len(); got != 100 {
		t.Fatalf("Len() = %d, want 100", got)
	}

	now = now.Add(p.idle / 2)
	p.Allow("10.0.0.1")

	now = now.Add(p.idle/2 + time.Second)
	if !p.Allow("10.0.0.200") {
		t.Error("new client rejected")
	}
	if got := p.Len(); got != 2 {
		t.Errorf("Len() after idle sweep = %d, want 2 (recent and new)", got)
	}
}

func TestLimiterPoolBurst(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newLimiterPool(1, 3)
	p.now = func() time.Time { return now }

	for i := range 3 {
		if !p.Allow("ip") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if p.Allow("ip") {
		t.Error("request beyond burst allowed")
	}
	now = now.Add(time.Second)
	if !p.Allow("ip") {
		t.Error("request after refill rejected")
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeLLM{}, func(c *config.WebConfig) { c.Addr = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
