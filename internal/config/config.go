package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

var (
	ErrInvalid       = errors.New("config: invalid")
	ErrTokenRequired = errors.New("config: token required (set SHARDLINE_TOKEN)")
)

// File is the on-disk TOML layout. Durations are strings parsed with
// time.ParseDuration.
type File struct {
	Token      string         `toml:"token,omitempty"`
	APIBase    string         `toml:"api_base"`
	GatewayURL string         `toml:"gateway_url"`
	Gateway    GatewayFile    `toml:"gateway"`
	Shards     ShardsFile     `toml:"shards"`
	Supervisor SupervisorFile `toml:"supervisor"`
	Cache      CacheFile      `toml:"cache"`
	Presence   PresenceFile   `toml:"presence"`
	Admin      AdminFile      `toml:"admin"`
	Transport  TransportFile  `toml:"transport"`
}

type GatewayFile struct {
	// RecommendedShards stands in for the bootstrap answer when
	// gateway_url is set.
	RecommendedShards  int    `toml:"recommended_shards"`
	Intents            int    `toml:"intents"`
	LargeThreshold     int    `toml:"large_threshold"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	MaxMissedAcks      int    `toml:"max_missed_acks"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	CommandBurst       int    `toml:"command_burst"`
	CommandWindow      string `toml:"command_window"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
}

type ShardsFile struct {
	Mode    string `toml:"mode"`
	Count   int    `toml:"count"`
	Lowest  int    `toml:"lowest"`
	Highest int    `toml:"highest"`
	Total   int    `toml:"total"`
}

type SupervisorFile struct {
	MaxRestarts   int    `toml:"max_restarts"`
	RestartWindow string `toml:"restart_window"`
	SpawnInterval string `toml:"spawn_interval"`
}

type CacheFile struct {
	Stripes          int `toml:"stripes"`
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

type PresenceFile struct {
	Status       string `toml:"status"`
	Activity     string `toml:"activity"`
	Stream       string `toml:"stream"`
	ActivityType int    `toml:"activity_type"`
}

type TransportFile struct {
	WriteTimeout       string `toml:"write_timeout"`
	MaxFrameBytes      int64  `toml:"max_frame_bytes"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type AdminFile struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token,omitempty"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Config is the resolved, typed configuration.
type Config struct {
	Token      string
	APIBase    string
	GatewayURL string

	RecommendedShards  int
	Intents            int
	LargeThreshold     int
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	MaxMissedAcks      int
	MaxConnectAttempts int
	CommandBurst       int
	CommandWindow      time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration

	ShardMode    string
	ShardCount   int
	ShardLowest  int
	ShardHighest int
	ShardTotal   int

	MaxRestarts   int
	RestartWindow time.Duration
	SpawnInterval time.Duration

	CacheStripes     int
	SubscriberBuffer int

	Presence PresenceFile

	AdminAddr   string
	AdminToken  string
	CORSOrigins []string

	WriteTimeout       time.Duration
	MaxFrameBytes      int64
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// envOverrides are read after the file and win when set.
type envOverrides struct {
	Token      string `env:"SHARDLINE_TOKEN"`
	GatewayURL string `env:"SHARDLINE_GATEWAY_URL"`
	AdminAddr  string `env:"SHARDLINE_ADMIN_ADDR"`
	AdminToken string `env:"SHARDLINE_ADMIN_TOKEN"`
}

func DefaultFile() File {
	return File{
		APIBase: "https://discord.com/api/v10",
		Gateway: GatewayFile{
			RecommendedShards:  1,
			Intents:            513,
			LargeThreshold:     250,
			ConnectTimeout:     "10s",
			HandshakeTimeout:   "20s",
			MaxMissedAcks:      2,
			MaxConnectAttempts: 0,
			CommandBurst:       120,
			CommandWindow:      "60s",
			BackoffInitial:     "1s",
			BackoffMax:         "60s",
		},
		Shards: ShardsFile{Mode: "auto"},
		Supervisor: SupervisorFile{
			MaxRestarts:   3,
			RestartWindow: "5s",
			SpawnInterval: "5s",
		},
		Cache: CacheFile{
			Stripes:          64,
			SubscriberBuffer: 64,
		},
		Presence: PresenceFile{Status: "online"},
		Admin: AdminFile{
			Addr:        "127.0.0.1:7070",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Transport: TransportFile{
			WriteTimeout:  "10s",
			MaxFrameBytes: 8 << 20,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. The token is not required here; see RequireToken.
func Load(path string) (Config, error) {
	raw, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Resolve(raw)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes path over DefaultFile. Keys the file does not define
// keep their defaults; unknown keys are rejected.
func LoadFile(path string) (File, error) {
	raw := DefaultFile()
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return File{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	// A layout without an explicit mode is inferred from the keys given.
	if !meta.IsDefined("shards", "mode") {
		switch {
		case meta.IsDefined("shards", "lowest") || meta.IsDefined("shards", "highest") || meta.IsDefined("shards", "total"):
			raw.Shards.Mode = "range"
		case meta.IsDefined("shards", "count"):
			raw.Shards.Mode = "count"
		}
	}
	if meta.IsDefined("admin", "cors_origins") {
		raw.Admin.CORSOrigins = normalizeList(raw.Admin.CORSOrigins)
	}
	return raw, nil
}

// Resolve parses durations and copies f into a Config.
func Resolve(f File) (Config, error) {
	cfg := Config{
		Token:              strings.TrimSpace(f.Token),
		APIBase:            strings.TrimSpace(f.APIBase),
		GatewayURL:         strings.TrimSpace(f.GatewayURL),
		RecommendedShards:  f.Gateway.RecommendedShards,
		Intents:            f.Gateway.Intents,
		LargeThreshold:     f.Gateway.LargeThreshold,
		MaxMissedAcks:      f.Gateway.MaxMissedAcks,
		MaxConnectAttempts: f.Gateway.MaxConnectAttempts,
		CommandBurst:       f.Gateway.CommandBurst,
		ShardMode:          strings.ToLower(strings.TrimSpace(f.Shards.Mode)),
		ShardCount:         f.Shards.Count,
		ShardLowest:        f.Shards.Lowest,
		ShardHighest:       f.Shards.Highest,
		ShardTotal:         f.Shards.Total,
		MaxRestarts:        f.Supervisor.MaxRestarts,
		CacheStripes:       f.Cache.Stripes,
		SubscriberBuffer:   f.Cache.SubscriberBuffer,
		Presence:           f.Presence,
		AdminAddr:          strings.TrimSpace(f.Admin.Addr),
		AdminToken:         strings.TrimSpace(f.Admin.Token),
		CORSOrigins:        f.Admin.CORSOrigins,
		MaxFrameBytes:      f.Transport.MaxFrameBytes,
		CAFile:             strings.TrimSpace(f.Transport.CAFile),
		ServerName:         strings.TrimSpace(f.Transport.ServerName),
		InsecureSkipVerify: f.Transport.InsecureSkipVerify,
	}
	durations := []struct {
		key string
		raw string
		out *time.Duration
	}{
		{"gateway.connect_timeout", f.Gateway.ConnectTimeout, &cfg.ConnectTimeout},
		{"gateway.handshake_timeout", f.Gateway.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"gateway.command_window", f.Gateway.CommandWindow, &cfg.CommandWindow},
		{"gateway.backoff_initial", f.Gateway.BackoffInitial, &cfg.BackoffInitial},
		{"gateway.backoff_max", f.Gateway.BackoffMax, &cfg.BackoffMax},
		{"supervisor.restart_window", f.Supervisor.RestartWindow, &cfg.RestartWindow},
		{"supervisor.spawn_interval", f.Supervisor.SpawnInterval, &cfg.SpawnInterval},
		{"transport.write_timeout", f.Transport.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, d.key, err)
		}
		*d.out = v
	}
	return cfg, nil
}

// ApplyEnv overlays the SHARDLINE_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v := strings.TrimSpace(ov.Token); v != "" {
		c.Token = v
	}
	if v := strings.TrimSpace(ov.GatewayURL); v != "" {
		c.GatewayURL = v
	}
	if v := strings.TrimSpace(ov.AdminAddr); v != "" {
		c.AdminAddr = v
	}
	if v := strings.TrimSpace(ov.AdminToken); v != "" {
		c.AdminToken = v
	}
	return nil
}

var presenceStatuses = map[string]bool{
	"online":    true,
	"idle":      true,
	"dnd":       true,
	"invisible": true,
}

func (c Config) Validate() error {
	if c.GatewayURL == "" && c.APIBase == "" {
		return fmt.Errorf("%w: api_base or gateway_url is required", ErrInvalid)
	}
	if c.GatewayURL != "" && c.RecommendedShards <= 0 {
		return fmt.Errorf("%w: gateway.recommended_shards must be positive with gateway_url", ErrInvalid)
	}
	if c.Intents < 0 {
		return fmt.Errorf("%w: gateway.intents must not be negative", ErrInvalid)
	}
	if c.MaxMissedAcks <= 0 {
		return fmt.Errorf("%w: gateway.max_missed_acks must be positive", ErrInvalid)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: gateway.max_connect_attempts must not be negative", ErrInvalid)
	}
	if c.CommandBurst <= 0 || c.CommandWindow <= 0 {
		return fmt.Errorf("%w: gateway.command_burst and gateway.command_window must be positive", ErrInvalid)
	}
	if c.ConnectTimeout <= 0 || c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: gateway timeouts must be positive", ErrInvalid)
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("%w: gateway.backoff_initial must be positive and not above backoff_max", ErrInvalid)
	}

	switch c.ShardMode {
	case "auto", "manual":
	case "count":
		if c.ShardCount <= 0 {
			return fmt.Errorf("%w: shards.count must be positive", ErrInvalid)
		}
	case "range":
		if c.ShardLowest < 1 || c.ShardLowest > c.ShardHighest || c.ShardHighest > c.ShardTotal {
			return fmt.Errorf("%w: shards range %d..%d of %d is not 1 <= lowest <= highest <= total",
				ErrInvalid, c.ShardLowest, c.ShardHighest, c.ShardTotal)
		}
	default:
		return fmt.Errorf("%w: shards.mode %q (want auto, count, range or manual)", ErrInvalid, c.ShardMode)
	}

	if c.MaxRestarts <= 0 || c.RestartWindow <= 0 {
		return fmt.Errorf("%w: supervisor.max_restarts and supervisor.restart_window must be positive", ErrInvalid)
	}
	if c.SpawnInterval < 0 {
		return fmt.Errorf("%w: supervisor.spawn_interval must not be negative", ErrInvalid)
	}
	if c.CacheStripes <= 0 {
		return fmt.Errorf("%w: cache.stripes must be positive", ErrInvalid)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("%w: cache.subscriber_buffer must be positive", ErrInvalid)
	}
	if !presenceStatuses[c.Presence.Status] {
		return fmt.Errorf("%w: presence.status %q", ErrInvalid, c.Presence.Status)
	}
	if c.Presence.ActivityType < 0 || c.Presence.ActivityType > 5 {
		return fmt.Errorf("%w: presence.activity_type %d out of range", ErrInvalid, c.Presence.ActivityType)
	}
	if c.WriteTimeout <= 0 || c.MaxFrameBytes <= 0 {
		return fmt.Errorf("%w: transport.write_timeout and transport.max_frame_bytes must be positive", ErrInvalid)
	}
	if c.AdminAddr == "" {
		return fmt.Errorf("%w: admin.addr is required", ErrInvalid)
	}
	return nil
}

// RequireToken reports ErrTokenRequired when no token was configured.
func (c Config) RequireToken() error {
	if c.Token == "" {
		return ErrTokenRequired
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
