package session

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/shardline/internal/protocol"
)

var ErrTokenRequired = errors.New("session: token required")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines gateway session behavior.
type Config struct {
	Token          string
	Intents        int
	LargeThreshold int
	Properties     protocol.IdentifyProperties

	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	MaxMissedAcks      int
	MaxConnectAttempts int

	// Outbound command budget per connection. Heartbeats are exempt.
	CommandBurst  int
	CommandWindow time.Duration

	InvalidSessionMinDelay time.Duration
	InvalidSessionMaxDelay time.Duration

	Backoff BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Intents:        513,
		LargeThreshold: 250,
		Properties: protocol.IdentifyProperties{
			OS:      "linux",
			Browser: "shardline",
			Device:  "shardline",
		},
		ConnectTimeout:         10 * time.Second,
		HandshakeTimeout:       20 * time.Second,
		MaxMissedAcks:          2,
		MaxConnectAttempts:     0,
		CommandBurst:           120,
		CommandWindow:          60 * time.Second,
		InvalidSessionMinDelay: time.Second,
		InvalidSessionMaxDelay: 5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig. Token and Intents are
// left as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.LargeThreshold <= 0 {
		c.LargeThreshold = def.LargeThreshold
	}
	if strings.TrimSpace(c.Properties.OS) == "" {
		c.Properties = def.Properties
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxMissedAcks <= 0 {
		c.MaxMissedAcks = def.MaxMissedAcks
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = def.CommandBurst
	}
	if c.CommandWindow <= 0 {
		c.CommandWindow = def.CommandWindow
	}
	if c.InvalidSessionMinDelay < 0 {
		c.InvalidSessionMinDelay = 0
	}
	if c.InvalidSessionMaxDelay < c.InvalidSessionMinDelay {
		c.InvalidSessionMaxDelay = c.InvalidSessionMinDelay
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrTokenRequired
	}
	return nil
}
