package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/shardline/internal/testutil/testlog"
)

func TestHTTPBootstrapperGateway(t *testing.T) {
	testlog.Start(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/gateway/bot" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bot secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"wss://gateway.test","shards":4,"session_start_limit":{"total":1000,"remaining":998,"reset_after":1000,"max_concurrency":1}}`))
	}))
	defer srv.Close()

	info, err := NewHTTPBootstrapper(srv.URL+"/api/", "secret").Gateway(context.Background())
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	if info.URL != "wss://gateway.test" || info.Shards != 4 || info.SessionStartLimit.Remaining != 998 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestHTTPBootstrapperErrors(t *testing.T) {
	testlog.Start(t)

	if _, err := NewHTTPBootstrapper("http://unused", " ").Gateway(context.Background()); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}

	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"401: Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer unauthorized.Close()
	if _, err := NewHTTPBootstrapper(unauthorized.URL, "bad").Gateway(context.Background()); !errors.Is(err, ErrBootstrap) {
		t.Fatalf("expected ErrBootstrap, got %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"","shards":0}`))
	}))
	defer empty.Close()
	if _, err := NewHTTPBootstrapper(empty.URL, "tok").Gateway(context.Background()); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer garbage.Close()
	if _, err := NewHTTPBootstrapper(garbage.URL, "tok").Gateway(context.Background()); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	testlog.Start(t)
	s := Static{URL: "wss://static.test", Shards: 2}
	info, err := s.Gateway(context.Background())
	if err != nil || info.URL != "wss://static.test" || info.Shards != 2 {
		t.Fatalf("unexpected static answer %+v %v", info, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Gateway(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
