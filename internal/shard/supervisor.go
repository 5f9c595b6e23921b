// Package shard runs one gateway session per shard and keeps them alive.
//
// The supervisor spawns sessions for a computed shard range, restarts a
// crashed session from its last ResumeState, and routes guild-scoped
// commands to the owning session through the routing table. Restarts are
// bounded by one sliding-window budget shared by every shard; a crash past
// the budget stops the supervisor and is reported on Fatal.
package shard

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/shardline/internal/gateway"
	"github.com/danmuck/shardline/internal/observability"
	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/protocol/transport"
	"github.com/danmuck/shardline/internal/routing"
	logs "github.com/danmuck/smplog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrShardExists            = errors.New("shard: already running")
	ErrShardNotRunning        = errors.New("shard: not running")
	ErrGuildNotRoutable       = errors.New("shard: guild not routable")
	ErrRestartBudgetExhausted = errors.New("shard: restart budget exhausted")
	ErrSessionPanic           = errors.New("shard: session panicked")
	ErrStopped                = errors.New("shard: supervisor stopped")
	ErrBootstrapperRequired   = errors.New("shard: bootstrapper required")
	ErrDialerRequired         = errors.New("shard: dialer required")
)

const (
	DefaultMaxRestarts   = 3
	DefaultRestartWindow = 5 * time.Second
	DefaultSpawnInterval = 5 * time.Second
)

// Config defines supervisor behavior. Sink, Vocabulary and Routes are
// shared by every session.
type Config struct {
	Spec         Spec
	Bootstrapper gateway.Bootstrapper
	Dialer       transport.Dialer
	Session      session.Config
	Sink         session.Sink
	Vocabulary   *protocol.Vocabulary
	Presence     *protocol.StatusUpdate
	Routes       *routing.Table

	MaxRestarts    int
	RestartWindow  time.Duration
	RestartBackoff session.BackoffConfig
	// SpawnInterval staggers the initial identifies. Zero spawns at once.
	SpawnInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Spec:          Auto(),
		Session:       session.DefaultConfig(),
		MaxRestarts:   DefaultMaxRestarts,
		RestartWindow: DefaultRestartWindow,
		RestartBackoff: session.BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
		SpawnInterval: DefaultSpawnInterval,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = def.MaxRestarts
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = def.RestartWindow
	}
	if c.RestartBackoff.InitialDelay <= 0 && c.RestartBackoff.MaxDelay <= 0 {
		c.RestartBackoff = def.RestartBackoff
	}
	if c.SpawnInterval < 0 {
		c.SpawnInterval = 0
	}
	if c.Vocabulary == nil {
		c.Vocabulary = protocol.DefaultVocabulary()
	}
	if c.Routes == nil {
		c.Routes = routing.NewTable()
	}
	return c
}

// ShardStatus is a point-in-time view of one running shard.
type ShardStatus struct {
	Shard        int       `json:"shard"`
	ShardID      int       `json:"shard_id"`
	Total        int       `json:"total"`
	State        string    `json:"state"`
	SessionID    string    `json:"session_id,omitempty"`
	LastSequence int64     `json:"last_sequence"`
	LatencyMS    int64     `json:"latency_ms"`
	Restarts     int       `json:"restarts"`
	StartedAt    time.Time `json:"started_at"`
}

type running struct {
	num      int
	total    int
	s        *session.Session
	started  time.Time
	stopping bool
}

type crash struct {
	num    int
	total  int
	resume session.ResumeState
	err    error
}

// Supervisor owns every session of one process.
type Supervisor struct {
	cfg   Config
	url   string
	info  gateway.Info
	rng   Range
	auto  bool
	rand  *rand.Rand
	fatal chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	crashes chan crash

	mu       sync.Mutex
	sessions map[int]*running
	restarts []time.Time
	perShard map[int]int
	presence *protocol.StatusUpdate
	closed   bool
	fatalErr error
}

// Start bootstraps the gateway, computes the shard range and begins
// spawning sessions. Sessions live until Shutdown, a fatal budget
// exhaustion, or ctx ending.
func Start(ctx context.Context, cfg Config) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	if cfg.Bootstrapper == nil {
		return nil, ErrBootstrapperRequired
	}
	if cfg.Dialer == nil {
		return nil, ErrDialerRequired
	}
	if err := cfg.Session.WithDefaults().Validate(); err != nil {
		return nil, err
	}
	info, err := cfg.Bootstrapper.Gateway(ctx)
	if err != nil {
		return nil, err
	}
	url, err := transport.GatewayURL(info.URL)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Supervisor{
		cfg:      cfg,
		url:      url,
		info:     info,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		fatal:    make(chan error, 1),
		ctx:      sctx,
		cancel:   cancel,
		crashes:  make(chan crash),
		sessions: make(map[int]*running),
		perShard: make(map[int]int),
		presence: cfg.Presence,
	}

	r, mismatch, err := ComputeRange(cfg.Spec, info.Shards)
	switch {
	case err == nil:
		s.rng = r
		s.auto = true
		if mismatch {
			logs.Warnf("shard.Start count=%d differs from recommended=%d", cfg.Spec.Count, info.Shards)
		}
	case errors.Is(err, ErrNoAutoSpawn):
		logs.Infof("shard.Start mode=manual no sessions spawned")
	default:
		logs.Warnf("shard.Start mode=%s unusable layout, no sessions spawned: %v", cfg.Spec.Mode, err)
	}

	s.wg.Add(1)
	go s.watchdog()
	if s.auto {
		logs.Infof("shard.Start spawning shards=%d..%d total=%d url=%q", r.Lowest, r.Highest, r.Total, url)
		s.wg.Add(1)
		go s.spawnRange(r)
	}
	return s, nil
}

func (s *Supervisor) spawnRange(r Range) {
	defer s.wg.Done()
	for i, n := range r.Numbers() {
		if i > 0 && s.cfg.SpawnInterval > 0 {
			t := time.NewTimer(s.cfg.SpawnInterval)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if err := s.spawn(n, r.Total, session.ResumeState{}); err != nil {
			logs.Warnf("shard.Supervisor.spawnRange shard=%d: %v", n, err)
		}
	}
}

// Range is the auto-spawned range; ok is false in manual mode.
func (s *Supervisor) Range() (Range, bool) { return s.rng, s.auto }

func (s *Supervisor) Info() gateway.Info { return s.info }

func (s *Supervisor) Routes() *routing.Table { return s.cfg.Routes }

// Fatal delivers the error that stopped the supervisor, at most once.
func (s *Supervisor) Fatal() <-chan error { return s.fatal }

// Connect spawns a fresh session for shard number num of total. An empty
// url uses the bootstrap URL.
func (s *Supervisor) Connect(url string, num, total int) error {
	if !(Range{Lowest: num, Highest: num, Total: total}).Valid() {
		return fmt.Errorf("%w: shard %d of %d", ErrInvalidRange, num, total)
	}
	rs := session.ResumeState{}
	if url != "" {
		full, err := transport.GatewayURL(url)
		if err != nil {
			return err
		}
		rs.GatewayURL = full
	}
	return s.spawn(num, total, rs)
}

// Reconnect spawns a session seeded with rs so its first handshake is a
// resume.
func (s *Supervisor) Reconnect(rs session.ResumeState) error {
	num := rs.ShardID + 1
	if !(Range{Lowest: num, Highest: num, Total: rs.TotalShards}).Valid() {
		return fmt.Errorf("%w: shard id %d of %d", ErrInvalidRange, rs.ShardID, rs.TotalShards)
	}
	return s.spawn(num, rs.TotalShards, rs)
}

// Disconnect stops shard num and returns its resume state for a later
// Reconnect. The stop is not counted against the restart budget.
func (s *Supervisor) Disconnect(ctx context.Context, num int) (session.ResumeState, error) {
	s.mu.Lock()
	r, ok := s.sessions[num]
	if !ok || r.stopping {
		s.mu.Unlock()
		return session.ResumeState{}, fmt.Errorf("%w: shard %d", ErrShardNotRunning, num)
	}
	r.stopping = true
	s.mu.Unlock()
	rs, err := r.s.Disconnect(ctx)
	logs.Infof("shard.Supervisor.Disconnect shard=%d session=%s seq=%d err=%v", num, rs.SessionID, rs.LastSequence, err)
	return rs, err
}

func (s *Supervisor) spawn(num, total int, rs session.ResumeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return ErrStopped
	}
	if _, ok := s.sessions[num]; ok {
		return fmt.Errorf("%w: shard %d", ErrShardExists, num)
	}
	if rs.GatewayURL == "" {
		rs.GatewayURL = s.url
	}
	rs.ShardID = num - 1
	rs.TotalShards = total

	sess, err := session.New(session.Options{
		Config:     s.cfg.Session,
		Resume:     rs,
		Dialer:     s.cfg.Dialer,
		Sink:       s.cfg.Sink,
		Vocabulary: s.cfg.Vocabulary,
		Presence:   s.presence,
	})
	if err != nil {
		return err
	}
	r := &running{num: num, total: total, s: sess, started: time.Now()}
	s.sessions[num] = r
	s.wg.Add(1)
	go s.run(r)
	logs.Debugf("shard.Supervisor.spawn shard=%d total=%d resume=%t", num, total, rs.CanResume())
	return nil
}

func (s *Supervisor) run(r *running) {
	defer s.wg.Done()
	err := s.runSession(r)

	s.mu.Lock()
	if cur, ok := s.sessions[r.num]; ok && cur == r {
		delete(s.sessions, r.num)
	}
	stopping := r.stopping || s.closed
	s.mu.Unlock()

	if stopping || (err == nil && s.ctx.Err() != nil) {
		return
	}
	if err == nil {
		err = errors.New("session returned without being stopped")
	}
	logs.Warnf("shard.Supervisor.run shard=%d session crashed: %v", r.num, err)
	select {
	case s.crashes <- crash{num: r.num, total: r.total, resume: r.s.Resume(), err: err}:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) runSession(r *running) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSessionPanic, p)
		}
	}()
	return r.s.Run(s.ctx)
}

// watchdog owns the restart budget.
func (s *Supervisor) watchdog() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case c := <-s.crashes:
			s.handleCrash(c)
		}
	}
}

func (s *Supervisor) handleCrash(c crash) {
	now := time.Now()
	cutoff := now.Add(-s.cfg.RestartWindow)

	s.mu.Lock()
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept
	if len(s.restarts) >= s.cfg.MaxRestarts {
		s.mu.Unlock()
		err := fmt.Errorf("%w: %d restarts within %s, shard %d: %v",
			ErrRestartBudgetExhausted, s.cfg.MaxRestarts, s.cfg.RestartWindow, c.num, c.err)
		logs.Errf("shard.Supervisor.watchdog fatal: %v", err)
		s.fail(err)
		return
	}
	s.restarts = append(s.restarts, now)
	s.perShard[c.num]++
	attempt := len(s.restarts)
	s.mu.Unlock()

	observability.RecordSupervisorRestart(c.num)
	delay := session.NextBackoffDelay(s.cfg.RestartBackoff, attempt, s.rand)
	logs.Warnf("shard.Supervisor.watchdog restarting shard=%d attempt=%d delay=%s resume=%t",
		c.num, attempt, delay, c.resume.CanResume())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
		if err := s.spawn(c.num, c.total, c.resume); err != nil {
			logs.Warnf("shard.Supervisor.watchdog restart failed shard=%d: %v", c.num, err)
		}
	}()
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
		s.fatal <- err
	}
	s.mu.Unlock()
	s.cancel()
}

// BroadcastStatus sends su to every live session. A session that is not
// Ready yet picks su up on its next identify.
func (s *Supervisor) BroadcastStatus(ctx context.Context, su protocol.StatusUpdate) error {
	s.mu.Lock()
	s.presence = &su
	live := make([]*running, 0, len(s.sessions))
	for _, r := range s.sessions {
		if !r.stopping {
			live = append(live, r)
		}
	}
	s.mu.Unlock()
	if len(live) == 0 {
		return ErrShardNotRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range live {
		g.Go(func() error {
			err := r.s.UpdateStatus(gctx, su)
			if err != nil && !errors.Is(err, session.ErrNotReady) {
				return fmt.Errorf("shard %d: %w", r.num, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) owner(guildID string) (*running, error) {
	shardID, ok := s.cfg.Routes.Get(guildID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGuildNotRoutable, guildID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[shardID+1]
	if !ok || r.stopping {
		return nil, fmt.Errorf("%w: shard %d owns guild %q", ErrShardNotRunning, shardID+1, guildID)
	}
	return r, nil
}

// UpdateVoiceState forwards vs to the session that owns vs.GuildID.
func (s *Supervisor) UpdateVoiceState(ctx context.Context, vs protocol.VoiceStateUpdate) error {
	r, err := s.owner(vs.GuildID)
	if err != nil {
		return err
	}
	return r.s.UpdateVoiceState(ctx, vs)
}

// RequestGuildMembers forwards req to the session that owns req.GuildID.
func (s *Supervisor) RequestGuildMembers(ctx context.Context, req protocol.RequestGuildMembers) error {
	r, err := s.owner(req.GuildID)
	if err != nil {
		return err
	}
	return r.s.RequestGuildMembers(ctx, req)
}

// Status lists running shards ordered by shard number.
func (s *Supervisor) Status() []ShardStatus {
	s.mu.Lock()
	list := make([]*running, 0, len(s.sessions))
	for _, r := range s.sessions {
		list = append(list, r)
	}
	restarts := make(map[int]int, len(s.perShard))
	for k, v := range s.perShard {
		restarts[k] = v
	}
	s.mu.Unlock()

	out := make([]ShardStatus, 0, len(list))
	for _, r := range list {
		rs := r.s.Resume()
		out = append(out, ShardStatus{
			Shard:        r.num,
			ShardID:      r.num - 1,
			Total:        r.total,
			State:        r.s.State().String(),
			SessionID:    rs.SessionID,
			LastSequence: rs.LastSequence,
			LatencyMS:    r.s.Latency().Milliseconds(),
			Restarts:     restarts[r.num],
			StartedAt:    r.started,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Shard < out[j].Shard })
	return out
}

// Shutdown stops every session and waits for them, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logs.Infof("shard.Supervisor.Shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every session has stopped and returns the fatal error,
// if any.
func (s *Supervisor) Wait() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}
