package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/observability"
	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrNotReady                 = errors.New("session: not ready")
	ErrAlreadyRunning           = errors.New("session: already running")
	ErrConnectAttemptsExhausted = errors.New("session: connect attempts exhausted")
	ErrHandshakeTimeout         = errors.New("session: hello not received in time")
	ErrFatalClose               = errors.New("session: gateway closed the session for good")
	ErrDialerRequired           = errors.New("session: dialer required")
	ErrGatewayURLRequired       = errors.New("session: gateway url required")
)

// Dispatch is one decoded dispatch frame.
type Dispatch struct {
	ShardID  int
	Sequence int64
	Name     string
	// Body is the payload split by top-level key; nil when the payload is
	// not a JSON object.
	Body cache.Patch
	Raw  json.RawMessage
}

// Sink consumes dispatches on the session goroutine. The next frame is not
// read until HandleDispatch returns. An error is logged; it never ends the
// session.
type Sink interface {
	HandleDispatch(ctx context.Context, d Dispatch) error
}

type SinkFunc func(ctx context.Context, d Dispatch) error

func (f SinkFunc) HandleDispatch(ctx context.Context, d Dispatch) error {
	return f(ctx, d)
}

type Options struct {
	Config Config
	// Resume seeds the session. GatewayURL, ShardID and TotalShards are
	// required; a resumable SessionID and LastSequence make the first
	// connection attempt a resume.
	Resume     ResumeState
	Dialer     transport.Dialer
	Sink       Sink
	Vocabulary *protocol.Vocabulary
	Presence   *protocol.StatusUpdate
}

// Session owns one gateway connection at a time for one shard. A Session
// runs once; a replacement is built from its ResumeState.
type Session struct {
	cfg    Config
	dialer transport.Dialer
	sink   Sink
	vocab  *protocol.Vocabulary
	rng    *rand.Rand
	log    zerolog.Logger

	mu            sync.Mutex
	state         State
	resume        ResumeState
	presence      *protocol.StatusUpdate
	conn          transport.Conn
	limiter       *rate.Limiter
	failedResumes int
	latency       time.Duration
	running       bool
	stopCode      int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, ErrDialerRequired
	}
	if opts.Resume.GatewayURL == "" {
		return nil, ErrGatewayURLRequired
	}
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	vocab := opts.Vocabulary
	if vocab == nil {
		vocab = protocol.DefaultVocabulary()
	}
	shard := opts.Resume.ShardID
	return &Session{
		cfg:      cfg,
		dialer:   opts.Dialer,
		sink:     opts.Sink,
		vocab:    vocab,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(shard))),
		log:      log.With().Int("shard", shard).Logger(),
		resume:   opts.Resume,
		presence: opts.Presence,
		stopCode: transport.CloseNormal,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (s *Session) ShardID() int { return s.resume.ShardID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resume returns a copy of the current resume state.
func (s *Session) Resume() ResumeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

// Latency is the last heartbeat round trip.
func (s *Session) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	observability.SetSessionState(s.resume.ShardID, int(st))
	if prev != st {
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("session.Session state")
	}
}

// Run drives the session until ctx is cancelled, Disconnect is called or an
// unrecoverable error occurs. A stop returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.done)
	defer s.setState(StateDisconnected)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	unstable := 0
	for {
		s.setState(StateConnecting)
		resume := s.shouldResume()
		conn, err := s.connect(ctx, resume)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		out, err := s.serve(ctx, conn, resume)
		s.detach()
		if out.reachedReady {
			unstable = 0
		} else {
			unstable++
			if resume {
				s.mu.Lock()
				s.failedResumes++
				s.mu.Unlock()
			}
		}

		switch out.next {
		case nextStop:
			return nil
		case nextFatal:
			s.log.Error().Err(err).Msg("session.Session.Run fatal")
			return err
		}

		s.setState(StateReconnecting)
		kind := "resume"
		if !s.shouldResume() {
			kind = "identify"
		}
		observability.RecordReconnect(s.resume.ShardID, kind)
		delay := out.delay
		if unstable > 0 {
			delay = max(delay, NextBackoffDelay(s.cfg.Backoff, unstable, s.rng))
		}
		s.log.Info().
			Str("reason", out.reason).
			Str("kind", kind).
			Int("unstable", unstable).
			Dur("delay", delay).
			AnErr("err", err).
			Msg("session.Session.Run reconnect")
		if err := sleepContext(ctx, delay); err != nil {
			return nil
		}
	}
}

func (s *Session) shouldResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume.CanResume() && s.failedResumes == 0
}

func (s *Session) connect(ctx context.Context, resume bool) (transport.Conn, error) {
	url := s.Resume().DialURL(resume)
	if full, err := transport.GatewayURL(url); err == nil {
		url = full
	}
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		conn, err := s.dialer.Dial(dialCtx, url)
		cancel()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn().Int("attempt", attempt).Str("url", url).Err(err).Msg("session.Session.connect dial failed")
		if s.cfg.MaxConnectAttempts > 0 && attempt >= s.cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("%w: %d attempts: %v", ErrConnectAttemptsExhausted, attempt, err)
		}
		if err := sleepContext(ctx, NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)); err != nil {
			return nil, err
		}
	}
}

func (s *Session) attach(conn transport.Conn) {
	every := s.cfg.CommandWindow / time.Duration(s.cfg.CommandBurst)
	s.mu.Lock()
	s.conn = conn
	s.limiter = rate.NewLimiter(rate.Every(every), s.cfg.CommandBurst)
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	s.conn = nil
	s.limiter = nil
	s.mu.Unlock()
}

type nextStep int

const (
	nextResume nextStep = iota
	nextIdentify
	nextStop
	nextFatal
)

type outcome struct {
	next         nextStep
	reason       string
	delay        time.Duration
	reachedReady bool
}

func (s *Session) closeCode(out outcome) int {
	switch out.next {
	case nextResume:
		return transport.CloseRestart
	case nextStop:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopCode
	default:
		return transport.CloseNormal
	}
}

// serve runs one connection from HELLO until it ends, and reports what the
// session should do next.
func (s *Session) serve(ctx context.Context, conn transport.Conn, resume bool) (out outcome, err error) {
	s.attach(conn)
	log := s.log.With().Str("conn", conn.ID()).Logger()
	defer func() {
		_ = conn.Close(s.closeCode(out))
	}()

	hello, err := s.awaitHello(ctx, conn)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{next: nextStop, reason: "stopped"}, nil
		}
		return outcome{next: nextResume, reason: "handshake"}, err
	}
	conn.Ready()
	interval := hello.Interval()
	log.Debug().Dur("interval", interval).Bool("resume", resume).Msg("session.Session.serve hello")

	if resume {
		s.setState(StateResuming)
		err = s.sendResume(ctx, conn)
	} else {
		s.setState(StateIdentifying)
		err = s.sendIdentify(ctx, conn)
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcome{next: nextStop, reason: "stopped"}, nil
		}
		return outcome{next: nextResume, reason: "handshake write"}, err
	}

	beat := time.NewTimer(time.Duration(float64(interval) * s.rng.Float64()))
	defer beat.Stop()

	var (
		ready       bool
		awaitingAck bool
		missed      int
		lastBeat    time.Time
	)
	sendBeat := func() error {
		if err := s.heartbeat(ctx, conn); err != nil {
			return err
		}
		awaitingAck = true
		lastBeat = time.Now()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return outcome{next: nextStop, reason: "stopped", reachedReady: ready}, nil

		case <-beat.C:
			if awaitingAck {
				missed++
				log.Warn().Int("missed", missed).Msg("session.Session.serve heartbeat ack missed")
				if missed >= s.cfg.MaxMissedAcks {
					return outcome{next: nextResume, reason: "heartbeat acks missed", reachedReady: ready}, nil
				}
			}
			if err := sendBeat(); err != nil {
				return outcome{next: nextResume, reason: "heartbeat write", reachedReady: ready}, err
			}
			beat.Reset(interval)

		case raw, ok := <-conn.Frames():
			if !ok {
				next, err := s.classifyClose(conn.Err())
				next.reachedReady = ready
				return next, err
			}
			f, err := protocol.DecodeFrame(raw)
			if err != nil {
				log.Warn().Err(err).Int("bytes", len(raw)).Msg("session.Session.serve bad frame")
				conn.Ready()
				continue
			}
			observability.RecordFrame(s.resume.ShardID, "in", f.Op.String())

			switch f.Op {
			case protocol.OpDispatch:
				if s.handleDispatch(ctx, f) {
					ready = true
				}
			case protocol.OpHeartbeat:
				if err := sendBeat(); err != nil {
					return outcome{next: nextResume, reason: "heartbeat write", reachedReady: ready}, err
				}
			case protocol.OpHeartbeatACK:
				if awaitingAck {
					rtt := time.Since(lastBeat)
					s.mu.Lock()
					s.latency = rtt
					s.mu.Unlock()
					observability.ObserveHeartbeatLatency(s.resume.ShardID, rtt)
				}
				// Only an ack clears misses; dispatch traffic does not prove
				// the heartbeat path is alive.
				awaitingAck = false
				missed = 0
			case protocol.OpReconnect:
				return outcome{next: nextResume, reason: "reconnect requested", reachedReady: ready}, nil
			case protocol.OpInvalidSession:
				if protocol.DecodeInvalidSession(f) {
					return outcome{next: nextResume, reason: "invalid session (resumable)", reachedReady: ready}, nil
				}
				s.invalidate()
				delay := jitterBetween(s.cfg.InvalidSessionMinDelay, s.cfg.InvalidSessionMaxDelay, s.rng)
				return outcome{next: nextIdentify, reason: "invalid session", delay: delay, reachedReady: ready}, nil
			case protocol.OpHello:
			default:
				log.Debug().Stringer("op", f.Op).Msg("session.Session.serve ignored frame")
			}
			conn.Ready()
		}
	}
}

func (s *Session) awaitHello(ctx context.Context, conn transport.Conn) (protocol.Hello, error) {
	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return protocol.Hello{}, ctx.Err()
	case <-timer.C:
		return protocol.Hello{}, ErrHandshakeTimeout
	case raw, ok := <-conn.Frames():
		if !ok {
			return protocol.Hello{}, fmt.Errorf("session: closed before hello: %w", conn.Err())
		}
		f, err := protocol.DecodeFrame(raw)
		if err != nil {
			return protocol.Hello{}, err
		}
		observability.RecordFrame(s.resume.ShardID, "in", f.Op.String())
		return protocol.DecodeHello(f)
	}
}

// fatalCloseCodes end the session for good: bad token, bad shard, bad
// version or intents.
var fatalCloseCodes = map[int]struct{}{
	4004: {}, 4010: {}, 4011: {}, 4012: {}, 4013: {}, 4014: {},
}

func (s *Session) classifyClose(err error) (outcome, error) {
	code, ok := transport.CloseCode(err)
	if !ok {
		return outcome{next: nextResume, reason: "connection lost"}, err
	}
	if _, fatal := fatalCloseCodes[code]; fatal {
		return outcome{next: nextFatal, reason: "fatal close"}, fmt.Errorf("%w: code %d", ErrFatalClose, code)
	}
	switch code {
	case 4007, 4009:
		// Invalid sequence or session timeout: the session cannot resume.
		s.invalidate()
		return outcome{next: nextIdentify, reason: fmt.Sprintf("closed %d", code)}, err
	}
	return outcome{next: nextResume, reason: fmt.Sprintf("closed %d", code)}, err
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.resume.invalidate()
	s.mu.Unlock()
}

// handleDispatch feeds one dispatch through the sink and advances the
// sequence. It reports whether the frame completed a handshake.
func (s *Session) handleDispatch(ctx context.Context, f protocol.Frame) bool {
	name := f.Event()
	seq := f.Sequence()
	ready := false

	body, learned, err := s.vocab.Normalize(f.D)
	if err != nil {
		s.log.Debug().Str("event", name).Err(err).Msg("session.Session.handleDispatch non-object body")
		body = nil
	}
	if learned > 0 {
		observability.AddVocabularyGrowth(learned)
		s.log.Debug().Str("event", name).Int("learned", learned).Uint64("grown", s.vocab.Grown()).
			Msg("session.Session.handleDispatch vocabulary grew")
	}

	switch name {
	case protocol.EventReady:
		r, err := protocol.DecodeReady(f.D)
		if err != nil {
			s.log.Warn().Err(err).Msg("session.Session.handleDispatch bad ready")
			break
		}
		s.mu.Lock()
		s.resume.SessionID = r.SessionID
		s.resume.ResumeGatewayURL = r.ResumeGatewayURL
		s.failedResumes = 0
		s.mu.Unlock()
		s.setState(StateReady)
		ready = true
		s.log.Info().Str("session", r.SessionID).Int("guilds", len(r.Guilds)).Msg("session.Session ready")
	case protocol.EventResumed:
		s.mu.Lock()
		s.failedResumes = 0
		s.mu.Unlock()
		s.setState(StateReady)
		ready = true
		s.log.Info().Int64("seq", s.Resume().LastSequence).Msg("session.Session resumed")
	}

	observability.RecordDispatch(name)
	if s.sink != nil {
		d := Dispatch{
			ShardID:  s.resume.ShardID,
			Sequence: seq,
			Name:     name,
			Body:     cache.Patch(body),
			Raw:      f.D,
		}
		if err := s.sink.HandleDispatch(ctx, d); err != nil {
			s.log.Warn().Str("event", name).Int64("seq", seq).Err(err).Msg("session.Session.handleDispatch sink")
		}
	}

	s.mu.Lock()
	s.resume.advance(seq)
	s.mu.Unlock()
	return ready
}

func (s *Session) heartbeat(ctx context.Context, conn transport.Conn) error {
	raw, err := protocol.EncodeHeartbeat(s.Resume().LastSequence)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, raw); err != nil {
		return err
	}
	observability.RecordFrame(s.resume.ShardID, "out", protocol.OpHeartbeat.String())
	return nil
}

func (s *Session) sendIdentify(ctx context.Context, conn transport.Conn) error {
	s.mu.Lock()
	// A fresh identify starts a new sequence space.
	s.resume.invalidate()
	id := protocol.Identify{
		Token:          s.cfg.Token,
		Intents:        s.cfg.Intents,
		Properties:     s.cfg.Properties,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]int{s.resume.ShardID, s.resume.TotalShards},
		Presence:       s.presence,
	}
	limiter := s.limiter
	s.mu.Unlock()

	raw, err := protocol.EncodeIdentify(id)
	if err != nil {
		return err
	}
	return s.write(ctx, conn, limiter, protocol.OpIdentify, raw)
}

func (s *Session) sendResume(ctx context.Context, conn transport.Conn) error {
	s.mu.Lock()
	r := protocol.Resume{
		Token:     s.cfg.Token,
		SessionID: s.resume.SessionID,
		Seq:       s.resume.LastSequence,
	}
	limiter := s.limiter
	s.mu.Unlock()

	raw, err := protocol.EncodeResume(r)
	if err != nil {
		return err
	}
	return s.write(ctx, conn, limiter, protocol.OpResume, raw)
}

func (s *Session) write(ctx context.Context, conn transport.Conn, limiter *rate.Limiter, op protocol.Opcode, raw []byte) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := conn.Write(ctx, raw); err != nil {
		return err
	}
	observability.RecordFrame(s.resume.ShardID, "out", op.String())
	return nil
}
