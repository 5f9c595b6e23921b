// Package gatewaytest is an in-memory gateway for session tests. Each dial
// yields a Conn whose server side is driven by the test.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/transport"
	"github.com/gorilla/websocket"
)

const waitTimeout = 3 * time.Second

var ErrDialRefused = errors.New("gatewaytest: dial refused")

type Gateway struct {
	conns chan *Conn

	mu      sync.Mutex
	dialed  []string
	refuse  int
	counter int
}

func New() *Gateway {
	return &Gateway{conns: make(chan *Conn, 16)}
}

// Refuse makes the next n dials fail.
func (g *Gateway) Refuse(n int) {
	g.mu.Lock()
	g.refuse = n
	g.mu.Unlock()
}

func (g *Gateway) Dialer() transport.Dialer {
	return transport.DialerFunc(g.dial)
}

func (g *Gateway) dial(ctx context.Context, url string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.dialed = append(g.dialed, url)
	if g.refuse > 0 {
		g.refuse--
		g.mu.Unlock()
		return nil, ErrDialRefused
	}
	g.counter++
	c := newConn(fmt.Sprintf("fake-%d", g.counter), url)
	g.mu.Unlock()
	g.conns <- c
	return c, nil
}

// Dialed lists every dial URL in order, refused ones included.
func (g *Gateway) Dialed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dialed...)
}

// Accept waits for the next successful dial.
func (g *Gateway) Accept(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("gatewaytest: no connection dialed")
		return nil
	}
}

// Conn is both the client transport.Conn and its server-side controls.
type Conn struct {
	id  string
	URL string

	frames chan []byte
	credit chan struct{}
	writes chan protocol.Frame
	closed chan struct{}

	sendMu  sync.Mutex
	dropped bool

	mu        sync.Mutex
	err       error
	closeCode int
	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(id, url string) *Conn {
	c := &Conn{
		id:     id,
		URL:    url,
		frames: make(chan []byte),
		credit: make(chan struct{}, 1),
		writes: make(chan protocol.Frame, 256),
		closed: make(chan struct{}),
	}
	c.credit <- struct{}{}
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Frames() <-chan []byte { return c.frames }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Ready() {
	select {
	case c.credit <- struct{}{}:
	default:
	}
}

func (c *Conn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		return err
	}
	select {
	case c.writes <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return transport.ErrClosed
	}
}

func (c *Conn) Close(code int) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Closed is closed once the client closes the connection.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Send delivers one frame to the client, waiting for the client's read
// credit first.
func (c *Conn) Send(t testing.TB, op protocol.Opcode, d any, seq int64, event string) {
	t.Helper()
	frame := map[string]any{"op": op, "d": d}
	if op == protocol.OpDispatch {
		frame["s"] = seq
		frame["t"] = event
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("gatewaytest: marshal frame: %v", err)
	}
	c.SendRaw(t, raw)
}

func (c *Conn) SendRaw(t testing.TB, raw []byte) {
	t.Helper()
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.dropped {
		t.Fatalf("gatewaytest: send on dropped connection")
	}
	timeout := time.After(waitTimeout)
	select {
	case <-c.credit:
	case <-c.closed:
		t.Fatalf("gatewaytest: client closed before frame was read")
	case <-timeout:
		t.Fatalf("gatewaytest: client never granted read credit")
	}
	select {
	case c.frames <- raw:
	case <-c.closed:
		t.Fatalf("gatewaytest: client closed before frame was read")
	case <-timeout:
		t.Fatalf("gatewaytest: client never read frame")
	}
}

func (c *Conn) Hello(t testing.TB, interval time.Duration) {
	t.Helper()
	c.Send(t, protocol.OpHello, protocol.Hello{HeartbeatInterval: interval.Milliseconds()}, 0, "")
}

func (c *Conn) Dispatch(t testing.TB, seq int64, event string, d any) {
	t.Helper()
	c.Send(t, protocol.OpDispatch, d, seq, event)
}

func (c *Conn) SendReady(t testing.TB, seq int64, sessionID, resumeURL string, guildIDs ...string) {
	t.Helper()
	guilds := make([]protocol.ReadyGuild, 0, len(guildIDs))
	for _, id := range guildIDs {
		guilds = append(guilds, protocol.ReadyGuild{ID: id, Unavailable: true})
	}
	c.Dispatch(t, seq, protocol.EventReady, protocol.Ready{
		Version:          transport.GatewayVersion,
		User:             protocol.ReadyUser{ID: "bot", Username: "bot"},
		Guilds:           guilds,
		SessionID:        sessionID,
		ResumeGatewayURL: resumeURL,
	})
}

// Drop ends the connection from the server side with a close code.
func (c *Conn) Drop(code int) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.dropped {
		return
	}
	c.dropped = true
	c.mu.Lock()
	c.err = &websocket.CloseError{Code: code}
	c.mu.Unlock()
	close(c.frames)
}

// Expect waits for the next client frame with op, skipping heartbeats
// unless op is OpHeartbeat.
func (c *Conn) Expect(t testing.TB, op protocol.Opcode) protocol.Frame {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case f := <-c.writes:
			if f.Op == op {
				return f
			}
			if f.Op == protocol.OpHeartbeat {
				continue
			}
			t.Fatalf("gatewaytest: expected %s, got %s", op, f.Op)
		case <-timeout:
			t.Fatalf("gatewaytest: timed out waiting for %s", op)
		}
	}
}

// DecodeBody unmarshals a client frame body.
func DecodeBody(t testing.TB, f protocol.Frame, out any) {
	t.Helper()
	if err := json.Unmarshal(f.D, out); err != nil {
		t.Fatalf("gatewaytest: decode %s body: %v", f.Op, err)
	}
}
