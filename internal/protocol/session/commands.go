package session

import (
	"context"

	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/transport"
)

// send writes an outbound command through the connection's rate limiter.
// Commands are only accepted while the session is Ready.
func (s *Session) send(ctx context.Context, op protocol.Opcode, raw []byte) error {
	s.mu.Lock()
	conn, limiter, state := s.conn, s.limiter, s.state
	s.mu.Unlock()
	if conn == nil || state != StateReady {
		return ErrNotReady
	}
	return s.write(ctx, conn, limiter, op, raw)
}

// UpdateStatus sends a presence update. The presence is kept and sent with
// every later identify, even when the session is not Ready now.
func (s *Session) UpdateStatus(ctx context.Context, su protocol.StatusUpdate) error {
	raw, err := protocol.EncodeStatusUpdate(su)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.presence = &su
	s.mu.Unlock()
	return s.send(ctx, protocol.OpPresenceUpdate, raw)
}

func (s *Session) UpdateVoiceState(ctx context.Context, vs protocol.VoiceStateUpdate) error {
	raw, err := protocol.EncodeVoiceStateUpdate(vs)
	if err != nil {
		return err
	}
	return s.send(ctx, protocol.OpVoiceStateUpdate, raw)
}

func (s *Session) RequestGuildMembers(ctx context.Context, req protocol.RequestGuildMembers) error {
	raw, err := protocol.EncodeRequestGuildMembers(req)
	if err != nil {
		return err
	}
	return s.send(ctx, protocol.OpRequestGuildMembers, raw)
}

// Disconnect stops the session, closing the live connection with a
// resumable code, and returns the state a replacement needs. It waits for
// Run to return or ctx to end.
func (s *Session) Disconnect(ctx context.Context) (ResumeState, error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopCode = transport.CloseRestart
		s.mu.Unlock()
		close(s.stop)
	})
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return s.Resume(), nil
	}
	select {
	case <-s.done:
		return s.Resume(), nil
	case <-ctx.Done():
		return s.Resume(), ctx.Err()
	}
}
