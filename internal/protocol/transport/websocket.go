package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebsocketDialer dials gateway connections with gorilla/websocket.
type WebsocketDialer struct {
	cfg Config
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(cfg Config) *WebsocketDialer {
	return &WebsocketDialer{cfg: cfg.WithDefaults()}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	target, err := GatewayURL(rawURL)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := d.cfg.TLS.clientTLS()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
	}
	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(d.cfg.MaxFrameBytes)

	c := newWSConn(ws, d.cfg.WriteTimeout)
	log.Debug().Str("conn", c.id).Str("url", target).Msg("transport.WebsocketDialer.Dial connected")
	return c, nil
}

type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	frames chan []byte
	credit chan struct{}
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
		frames:       make(chan []byte),
		credit:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	c.credit <- struct{}{}
	go c.readLoop()
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Frames() <-chan []byte { return c.frames }

func (c *wsConn) Ready() {
	select {
	case c.credit <- struct{}{}:
	default:
	}
}

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *wsConn) readLoop() {
	defer close(c.frames)
	for {
		select {
		case <-c.credit:
		case <-c.done:
			c.setErr(ErrClosed)
			return
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				c.setErr(ErrClosed)
			default:
				c.setErr(err)
			}
			log.Debug().Str("conn", c.id).Err(err).Msg("transport.wsConn.readLoop ended")
			return
		}
		select {
		case c.frames <- data:
		case <-c.done:
			c.setErr(ErrClosed)
			return
		}
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and tears the socket down. Only the
// first call has any effect.
func (c *wsConn) Close(code int) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, "")
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			log.Debug().Str("conn", c.id).Err(werr).Msg("transport.wsConn.Close close frame not sent")
		}
		err = c.ws.Close()
	})
	return err
}
