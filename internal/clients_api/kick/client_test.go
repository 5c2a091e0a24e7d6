package kick

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kick-miner/internal/infra/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, auth string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:       srv.URL,
		Authorization: auth,
		Timeout:       2 * time.Second,
		RateLimit:     1000,
		RateBurst:     1000,
		MaxRetries:    2,
	})
}

func TestGetChannelLive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/channels/foo" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("channel fetch must not carry the credential")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"slug":"foo","chatroom":{"id":42},"livestream":{"id":99,"session_title":"hi","is_live":true}}`))
	}, "token")

	ch, err := c.GetChannel(context.Background(), "foo")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if !ch.IsLive() {
		t.Fatal("expected channel to be live")
	}
	id, ok := ch.ChatroomID()
	if !ok || id != 42 {
		t.Fatalf("ChatroomID = %d, %v; want 42, true", id, ok)
	}
}

func TestGetChannelOffline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"slug":"foo","chatroom":{"id":42},"livestream":null}`))
	}, "")

	ch, err := c.GetChannel(context.Background(), "foo")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.IsLive() {
		t.Fatal("expected channel to be offline")
	}
}

func TestChatroomIDMissing(t *testing.T) {
	cases := []*Channel{
		nil,
		{},
		{Chatroom: &Chatroom{ID: 0}},
	}
	for i, ch := range cases {
		if _, ok := ch.ChatroomID(); ok {
			t.Errorf("case %d: expected no chatroom id", i)
		}
	}
}

func TestGetChannelMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":`))
	}, "")

	if _, err := c.GetChannel(context.Background(), "foo"); err == nil {
		t.Fatal("expected an unmarshal error")
	}
}

func TestGetChannelRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream"}`))
			return
		}
		_, _ = w.Write([]byte(`{"slug":"foo","livestream":null}`))
	}, "")

	if _, err := c.GetChannel(context.Background(), "foo"); err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestGetChannelNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not found"}`))
	}, "")

	_, err := c.GetChannel(context.Background(), "nobody")
	if retry.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestCloudflareBlockIsReported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html>Just a moment...</html>`))
	}, "")

	_, err := c.GetChannel(context.Background(), "foo")
	if err == nil || !strings.Contains(err.Error(), "Cloudflare") {
		t.Fatalf("expected Cloudflare error, got %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	var got SendMessageRequest
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages/send/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":{"error":false}}`))
	}, "secret")

	if err := c.SendMessage(context.Background(), 42, "gm"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("Authorization = %q", auth)
	}
	if got.Content != "gm" || got.Type != "message" {
		t.Fatalf("unexpected body %+v", got)
	}
	if len(got.MessageRef) != 13 {
		t.Fatalf("message_ref %q is not 13 digits", got.MessageRef)
	}
}

func TestSendMessageIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{}`))
	}, "Bearer secret")

	if err := c.SendMessage(context.Background(), 42, "gm"); err == nil {
		t.Fatal("expected send error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestSendMessageValidation(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:0"})
	if err := c.SendMessage(context.Background(), 0, "gm"); err == nil {
		t.Fatal("expected error for chatroom 0")
	}
	if err := c.SendMessage(context.Background(), 42, "gm"); err == nil {
		t.Fatal("expected error without authorization")
	}
}

func TestNewMessageRef(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := NewMessageRef()
		if len(ref) != 13 || ref[0] == '0' {
			t.Fatalf("bad message_ref %q", ref)
		}
		seen[ref] = struct{}{}
	}
	if len(seen) < 990 {
		t.Fatalf("message refs repeat too often: %d unique of 1000", len(seen))
	}
}

func TestNormalizeAuthorization(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"abc":            "Bearer abc",
		"Bearer abc":     "Bearer abc",
		"bearer abc":     "bearer abc",
		"  Bearer abc  ": "Bearer abc",
	}
	for in, want := range cases {
		if got := normalizeAuthorization(in); got != want {
			t.Errorf("normalizeAuthorization(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	if !isBreakerSuccess(&retry.HTTPError{StatusCode: http.StatusNotFound}) {
		t.Error("404 must not count as a breaker failure")
	}
	if isBreakerSuccess(&retry.HTTPError{StatusCode: http.StatusTooManyRequests}) {
		t.Error("429 must count as a breaker failure")
	}
	if isBreakerSuccess(&retry.HTTPError{StatusCode: http.StatusInternalServerError}) {
		t.Error("500 must count as a breaker failure")
	}
}
