package config

import (
	"github.com/danmuck/shardline/internal/engine"
	"github.com/danmuck/shardline/internal/gateway"
	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/protocol/transport"
	"github.com/danmuck/shardline/internal/shard"
)

// Bootstrapper asks the platform API unless a gateway URL is pinned.
func (c Config) Bootstrapper() gateway.Bootstrapper {
	if c.GatewayURL != "" {
		return gateway.Static{URL: c.GatewayURL, Shards: c.RecommendedShards}
	}
	return gateway.NewHTTPBootstrapper(c.APIBase, c.Token)
}

func (c Config) ShardSpec() shard.Spec {
	switch c.ShardMode {
	case "count":
		return shard.Count(c.ShardCount)
	case "range":
		return shard.RangeOf(c.ShardLowest, c.ShardHighest, c.ShardTotal)
	case "manual":
		return shard.Manual()
	default:
		return shard.Auto()
	}
}

func (c Config) Session() session.Config {
	cfg := session.DefaultConfig()
	cfg.Token = c.Token
	cfg.Intents = c.Intents
	cfg.LargeThreshold = c.LargeThreshold
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.MaxMissedAcks = c.MaxMissedAcks
	cfg.MaxConnectAttempts = c.MaxConnectAttempts
	cfg.CommandBurst = c.CommandBurst
	cfg.CommandWindow = c.CommandWindow
	cfg.Backoff.InitialDelay = c.BackoffInitial
	cfg.Backoff.MaxDelay = c.BackoffMax
	return cfg
}

func (c Config) StatusUpdate() protocol.StatusUpdate {
	p := c.Presence
	return protocol.NewStatusUpdate(p.Status, p.Activity, p.Stream, p.ActivityType)
}

func (c Config) Transport() transport.Config {
	return transport.Config{
		HandshakeTimeout: c.ConnectTimeout,
		WriteTimeout:     c.WriteTimeout,
		MaxFrameBytes:    c.MaxFrameBytes,
		TLS: transport.TLSConfig{
			CAFile:             c.CAFile,
			ServerName:         c.ServerName,
			InsecureSkipVerify: c.InsecureSkipVerify,
		},
	}
}

// Engine builds the engine configuration. A nil dialer uses the websocket
// transport.
func (c Config) Engine(dialer transport.Dialer) engine.Config {
	if dialer == nil {
		dialer = transport.NewWebsocketDialer(c.Transport())
	}
	presence := c.StatusUpdate()
	sup := shard.DefaultConfig()
	sup.Spec = c.ShardSpec()
	sup.Bootstrapper = c.Bootstrapper()
	sup.Dialer = dialer
	sup.Session = c.Session()
	sup.Presence = &presence
	sup.MaxRestarts = c.MaxRestarts
	sup.RestartWindow = c.RestartWindow
	sup.SpawnInterval = c.SpawnInterval
	return engine.Config{
		Shard:            sup,
		Stripes:          c.CacheStripes,
		SubscriberBuffer: c.SubscriberBuffer,
	}
}
