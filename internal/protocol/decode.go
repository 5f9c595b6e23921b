package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodeFrame parses one inbound gateway message.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Op == OpDispatch && f.Event() == "" {
		return Frame{}, ErrMissingEventName
	}
	return f, nil
}

// DecodeHello parses an op 10 frame body.
func DecodeHello(f Frame) (Hello, error) {
	if f.Op != OpHello {
		return Hello{}, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedOpcode, OpHello, f.Op)
	}
	var h Hello
	if err := json.Unmarshal(f.D, &h); err != nil {
		return Hello{}, fmt.Errorf("%w: hello: %v", ErrMalformedFrame, err)
	}
	if h.HeartbeatInterval <= 0 {
		return Hello{}, ErrInvalidInterval
	}
	return h, nil
}

// Interval is the heartbeat period requested by the gateway.
func (h Hello) Interval() time.Duration {
	return time.Duration(h.HeartbeatInterval) * time.Millisecond
}

// DecodeReady parses a READY dispatch body.
func DecodeReady(d json.RawMessage) (Ready, error) {
	var r Ready
	if err := json.Unmarshal(d, &r); err != nil {
		return Ready{}, fmt.Errorf("%w: ready: %v", ErrMalformedFrame, err)
	}
	return r, nil
}

// DecodeInvalidSession reports whether an op 9 frame allows a resume.
func DecodeInvalidSession(f Frame) bool {
	var resumable bool
	if err := json.Unmarshal(f.D, &resumable); err != nil {
		return false
	}
	return resumable
}
