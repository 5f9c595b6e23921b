package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
)

// DefaultMaxFrameBytes bounds a single inbound frame.
const DefaultMaxFrameBytes = 8 << 20

// TLSConfig customizes wss trust. The zero value uses the system roots.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

func (c TLSConfig) enabled() bool {
	return strings.TrimSpace(c.CAFile) != "" ||
		strings.TrimSpace(c.CertFile) != "" ||
		strings.TrimSpace(c.KeyFile) != "" ||
		strings.TrimSpace(c.ServerName) != "" ||
		c.InsecureSkipVerify
}

// Config defines websocket transport limits.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int64
	TLS              TLSConfig
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxFrameBytes:    DefaultMaxFrameBytes,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	return c
}

// clientTLS builds the dialer's TLS config, nil when the defaults apply.
func (c TLSConfig) clientTLS() (*tls.Config, error) {
	if !c.enabled() {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(c.ServerName),
	}
	if caPath := strings.TrimSpace(c.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	certPath := strings.TrimSpace(c.CertFile)
	keyPath := strings.TrimSpace(c.KeyFile)
	switch {
	case certPath == "" && keyPath == "":
	case certPath == "":
		return nil, ErrTLSCertFileRequired
	case keyPath == "":
		return nil, ErrTLSKeyFileRequired
	default:
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
