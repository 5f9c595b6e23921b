package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/engine"
	"github.com/danmuck/shardline/internal/gateway"
	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/shard"
	"github.com/danmuck/shardline/internal/testutil/gatewaytest"
	"github.com/danmuck/shardline/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHealthAndReadiness(t *testing.T) {
	testlog.Start(t)
	e, _ := newEngine(t)
	srv := New(e, Options{Name: "test"})

	rr := do(t, srv, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["component"])

	rr = do(t, srv, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, false, decode(t, rr)["ready"])

	rr = do(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGuildQueries(t *testing.T) {
	testlog.Start(t)
	e, _ := newEngine(t)
	for _, id := range []string{"g1", "g2", "g3"} {
		_, err := e.Cache().Guilds.Create(cache.Guild{ID: id, Name: "guild " + id})
		require.NoError(t, err)
	}
	e.Cache().Unavailable.Mark("g9")
	srv := New(e, Options{})

	rr := do(t, srv, http.MethodGet, "/guilds/g2", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var g cache.Guild
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &g))
	require.Equal(t, "guild g2", g.Name)

	rr = do(t, srv, http.MethodGet, "/guilds/nope", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	seen := map[string]bool{}
	cursor := ""
	for i := 0; i < 10; i++ {
		rr = do(t, srv, http.MethodGet, "/guilds?limit=1&cursor="+cursor, "", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var page struct {
			Guilds []cache.Guild `json:"guilds"`
			Next   string        `json:"next"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		for _, g := range page.Guilds {
			require.False(t, seen[g.ID], "guild %s repeated", g.ID)
			seen[g.ID] = true
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	require.Len(t, seen, 3)

	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/guilds?limit=0", "", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/guilds?cursor=bad", "", "").Code)

	rr = do(t, srv, http.MethodGet, "/unavailable", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []any{"g9"}, decode(t, rr)["guilds"])
}

func TestCommandsBeforeStartAreUnavailable(t *testing.T) {
	testlog.Start(t)
	e, _ := newEngine(t)
	srv := New(e, Options{})

	rr := do(t, srv, http.MethodPost, "/status", `{"status":"idle"}`, "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRoutingErrorsAreConflicts(t *testing.T) {
	testlog.Start(t)
	e, _ := newEngine(t)
	require.NoError(t, e.Start(context.Background()))
	srv := New(e, Options{})

	rr := do(t, srv, http.MethodPost, "/guilds/unknown/voice", `{"channel_id":"v1"}`, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	e.Routes().Set("g1", 3)
	rr = do(t, srv, http.MethodPost, "/guilds/g1/voice", `{"channel_id":null}`, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodPost, "/status", `{"status":"idle"}`, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodPost, "/shards/1/disconnect", "", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	rr = do(t, srv, http.MethodPost, "/shards/zero/disconnect", "", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodPost, "/shards/reconnect", `{"gateway_url":"wss://gateway.test","shard_id":4,"total_shards":2}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, srv, http.MethodPost, "/guilds/g1/voice", `not json`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenGuardsCommands(t *testing.T) {
	testlog.Start(t)
	e, _ := newEngine(t)
	require.NoError(t, e.Start(context.Background()))
	srv := New(e, Options{Token: "s3cret"})

	require.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodPost, "/status", `{}`, "").Code)
	require.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodPost, "/status", `{}`, "Bearer nope").Code)
	require.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/status", `{}`, "Bearer s3cret").Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/shards", "", "").Code)
}

func TestShardLifecycleThroughAdmin(t *testing.T) {
	testlog.Start(t)
	e, gw := newEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Connect("", 1, 1))
	srv := New(e, Options{})

	c := gw.Accept(t)
	c.Hello(t, time.Hour)
	c.Expect(t, protocol.OpIdentify)
	c.SendReady(t, 3, "sess-3", "wss://resume.test")
	waitFor(t, "ready", func() bool {
		return do(t, srv, http.MethodGet, "/ready", "", "").Code == http.StatusOK
	})

	rr := do(t, srv, http.MethodGet, "/shards", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listing struct {
		Shards []shard.ShardStatus `json:"shards"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Shards, 1)
	require.Equal(t, "ready", listing.Shards[0].State)
	require.Equal(t, "sess-3", listing.Shards[0].SessionID)

	rr = do(t, srv, http.MethodPost, "/status", `{"status":"dnd","activity":"ops","type":3}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var su protocol.StatusUpdate
	gatewaytest.DecodeBody(t, c.Expect(t, protocol.OpPresenceUpdate), &su)
	require.Equal(t, "dnd", su.Status)
	require.Equal(t, 3, su.Activities[0].Type)

	rr = do(t, srv, http.MethodPost, "/shards/1/disconnect", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Resume session.ResumeState `json:"resume"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "sess-3", out.Resume.SessionID)
	require.Equal(t, int64(3), out.Resume.LastSequence)

	raw, err := json.Marshal(out.Resume)
	require.NoError(t, err)
	rr = do(t, srv, http.MethodPost, "/shards/reconnect", string(raw), "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	c2 := gw.Accept(t)
	c2.Hello(t, time.Hour)
	var resume protocol.Resume
	gatewaytest.DecodeBody(t, c2.Expect(t, protocol.OpResume), &resume)
	require.Equal(t, int64(3), resume.Seq)
}

func TestServeStopsWithContext(t *testing.T) {
	testlog.Start(t)
	e, _ := newEngine(t)
	srv := New(e, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func newEngine(t *testing.T) (*engine.Engine, *gatewaytest.Gateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gw := gatewaytest.New()
	scfg := session.DefaultConfig()
	scfg.Token = "tok"

	cfg := shard.DefaultConfig()
	cfg.Spec = shard.Manual()
	cfg.Bootstrapper = gateway.Static{URL: "wss://gateway.test", Shards: 1}
	cfg.Dialer = gw.Dialer()
	cfg.Session = scfg
	cfg.SpawnInterval = 0

	e := engine.New(engine.Config{Shard: cfg, Stripes: 4})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return e, gw
}

func do(t *testing.T, srv *Server, method, path, body, authz string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
