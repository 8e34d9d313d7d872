package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logpkg "github.com/eduwass/transmit-1/pkg/log"
	"github.com/eduwass/transmit-1/pkg/transmit"
)

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel), logpkg.WithOutput(logpkg.NullOutput{}))
}

func newTestServer(t *testing.T) (*Server, *Engine) {
	t.Helper()
	eng, err := transmit.New[StreamContext](transmit.WithLogger[StreamContext](quietLogger()))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown() })
	return New(eng, quietLogger()), eng
}

type captureSink struct {
	mu   sync.Mutex
	msgs []transmit.Message
}

func (s *captureSink) Write(m transmit.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *captureSink) messages() []transmit.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transmit.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field: %v", body["status"])
	}
}

func TestEventsRequiresUID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestSSEFlow(t *testing.T) {
	s, eng := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?autouid=1&id=42", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	uid := resp.Header.Get("X-Transmit-UID")
	if uid == "" {
		t.Fatalf("missing assigned uid")
	}

	sub, err := http.Post(ts.URL+"/v1/subscribe", "application/json",
		strings.NewReader(`{"uid":"`+uid+`","channel":"chats/42"}`))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = sub.Body.Close()
	if sub.StatusCode != http.StatusNoContent {
		t.Fatalf("subscribe status: %d", sub.StatusCode)
	}

	eng.Broadcast("chats/42", map[string]any{"text": "hello"})

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var msg transmit.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if msg.Channel != "chats/42" {
			t.Fatalf("channel: %q", msg.Channel)
		}
		break
	}
}

func TestEventsStreamContextFromQuery(t *testing.T) {
	s, eng := newTestServer(t)
	eng.Authorize("chats/:id", func(_ context.Context, sctx StreamContext, params map[string]string) (bool, error) {
		return sctx["id"] == params["id"], nil
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?uid=u1&id=42", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Subscribe with the stream's own context, as a browser client would.
	for channel, want := range map[string]int{"chats/42": http.StatusNoContent, "chats/7": http.StatusBadRequest} {
		sub, err := http.Post(ts.URL+"/v1/subscribe", "application/json",
			strings.NewReader(`{"uid":"u1","channel":"`+channel+`","context":{"id":"42"}}`))
		if err != nil {
			t.Fatalf("subscribe %s: %v", channel, err)
		}
		_ = sub.Body.Close()
		if sub.StatusCode != want {
			t.Fatalf("subscribe %s: status %d, want %d", channel, sub.StatusCode, want)
		}
	}
}

func TestEventsDuplicateUID(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?uid=dup", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	second, err := http.Get(ts.URL + "/v1/events?uid=dup")
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	defer func() { _ = second.Body.Close() }()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("status: %d", second.StatusCode)
	}
}

func TestBroadcastHandler(t *testing.T) {
	s, eng := newTestServer(t)
	sink := &captureSink{}
	if _, err := eng.CreateStream(transmit.CreateStreamParams[StreamContext]{UID: "u1", Sink: sink}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !eng.Subscribe(context.Background(), transmit.SubscribeParams[StreamContext]{UID: "u1", Channel: "news"}) {
		t.Fatalf("subscribe failed")
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/broadcast",
		strings.NewReader(`{"channel":"news","payload":{"headline":"hi"}}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d", w.Code)
	}
	if msgs := sink.messages(); len(msgs) != 1 || msgs[0].Channel != "news" {
		t.Fatalf("msgs: %v", msgs)
	}
}

func TestBroadcastHandlerRequiresChannel(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/broadcast", strings.NewReader(`{"payload":"x"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestSubscribeHandlerUnknownStream(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/subscribe",
		strings.NewReader(`{"uid":"ghost","channel":"news"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestUnsubscribeHandlerIdempotent(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/unsubscribe",
		strings.NewReader(`{"uid":"ghost","channel":"news"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestHandlersRejectBadJSON(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/v1/subscribe", "/v1/unsubscribe", "/v1/broadcast"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{nope"))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", path, w.Code)
		}
	}
}
