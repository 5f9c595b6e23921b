// Package gateway resolves where sessions connect and how many shards the
// platform recommends.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logs "github.com/danmuck/smplog"
)

const (
	DefaultAPIBase = "https://discord.com/api/v10"
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	ErrTokenRequired  = errors.New("gateway: token required")
	ErrBootstrap      = errors.New("gateway: bootstrap request failed")
	ErrInvalidPayload = errors.New("gateway: invalid bootstrap payload")
)

// SessionStartLimit is the identify budget reported by the platform.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// Info is the bootstrap answer.
type Info struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

type Bootstrapper interface {
	Gateway(ctx context.Context) (Info, error)
}

// Static always answers with the same Info.
type Static Info

func (s Static) Gateway(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	return Info(s), nil
}

// HTTPBootstrapper asks the platform API for the gateway URL and shard
// recommendation.
type HTTPBootstrapper struct {
	APIBase string
	Token   string
	Client  *http.Client
}

func NewHTTPBootstrapper(apiBase, token string) *HTTPBootstrapper {
	return &HTTPBootstrapper{
		APIBase: apiBase,
		Token:   token,
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

func (b *HTTPBootstrapper) Gateway(ctx context.Context) (Info, error) {
	token := strings.TrimSpace(b.Token)
	if token == "" {
		return Info{}, ErrTokenRequired
	}
	base := strings.TrimRight(strings.TrimSpace(b.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	url := base + "/gateway/bot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	req.Header.Set("Authorization", "Bot "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		logs.Errf("gateway.HTTPBootstrapper.Gateway url=%s request failed: %v", url, err)
		return Info{}, fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Info{}, fmt.Errorf("%w: read body: %v", ErrBootstrap, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("%w: status %d: %s", ErrBootstrap, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(info.URL) == "" || info.Shards <= 0 {
		return Info{}, fmt.Errorf("%w: url=%q shards=%d", ErrInvalidPayload, info.URL, info.Shards)
	}
	logs.Infof("gateway.HTTPBootstrapper.Gateway url=%s shards=%d remaining=%d took=%s",
		info.URL, info.Shards, info.SessionStartLimit.Remaining, time.Since(start))
	return info, nil
}
