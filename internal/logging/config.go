package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "SHARDLINE_LOG_LEVEL"
	EnvLogTimestamp = "SHARDLINE_LOG_TIMESTAMP"
	EnvLogNoColor   = "SHARDLINE_LOG_NOCOLOR"
	EnvLogBypass    = "SHARDLINE_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup for one process.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
	Output    io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		logs.Configure(frontEnd(cfg))
		Apply(cfg)
	})
}

// frontEnd is the smplog view of cfg, used by the printf-style logs.*f
// calls. Structured call sites go through the zerolog global set by Apply.
func frontEnd(cfg Config) logs.Config {
	out := logs.DefaultConfig()
	out.Level = frontEndLevel(cfg.Level)
	out.Timestamp = cfg.Timestamp
	out.NoColor = cfg.NoColor
	out.Bypass = cfg.Bypass
	return out
}

func frontEndLevel(lvl zerolog.Level) logs.Level {
	switch lvl {
	case zerolog.TraceLevel:
		return logs.TraceLevel
	case zerolog.DebugLevel:
		return logs.DebugLevel
	case zerolog.WarnLevel:
		return logs.WarnLevel
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return logs.ErrorLevel
	case zerolog.Disabled, zerolog.NoLevel:
		return logs.Disabled
	default:
		return logs.InfoLevel
	}
}

// Apply installs cfg as the global zerolog logger.
func Apply(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Bypass {
		// bypass skips the console formatter and writes raw JSON lines.
		logger := zerolog.New(cfg.Output)
		if cfg.Timestamp {
			logger = logger.With().Timestamp().Logger()
		}
		log.Logger = logger
		zerolog.SetGlobalLevel(cfg.Level)
		return
	}
	writer := zerolog.ConsoleWriter{
		Out:     cfg.Output,
		NoColor: cfg.NoColor,
	}
	if cfg.Timestamp {
		writer.TimeFormat = time.RFC3339
	} else {
		writer.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	logger := zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.SetGlobalLevel(cfg.Level)
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

// ParseLevel maps a user-facing level name onto a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
