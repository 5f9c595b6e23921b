// Package transport carries raw gateway frames.
//
// A Conn delivers inbound frames one at a time: after a frame is taken from
// Frames, no further frame is read from the socket until Ready is called.
// Consumers call Ready once they have fully handled the frame, which bounds
// what can queue in front of a slow consumer to a single frame.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed     = errors.New("transport: connection closed")
	ErrInvalidURL = errors.New("transport: invalid gateway url")
)

// Close codes a client sends. Any code other than CloseNormal keeps the
// remote session resumable.
const (
	CloseNormal  = 1000
	CloseRestart = 4000
)

// GatewayVersion is the gateway protocol version requested on connect.
const GatewayVersion = 10

// Conn is one live gateway connection.
type Conn interface {
	ID() string
	// Frames yields inbound frames. It is closed when the connection ends;
	// Err then reports why.
	Frames() <-chan []byte
	Err() error
	// Ready grants the reader credit for the next frame.
	Ready()
	Write(ctx context.Context, data []byte) error
	Close(code int) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// GatewayURL adds the version and encoding query to a gateway base URL.
func GatewayURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(GatewayVersion))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CloseCode extracts the close code the remote side sent, if err carries
// one.
func CloseCode(err error) (int, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
