package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/shardline/internal/testutil/testlog"
)

func TestDecodeDispatchFrame(t *testing.T) {
	testlog.Start(t)

	f, err := DecodeFrame([]byte(`{"op":0,"s":41,"t":"CHANNEL_CREATE","d":{"id":"3"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Op != OpDispatch || f.Sequence() != 41 || f.Event() != "CHANNEL_CREATE" {
		t.Fatalf("unexpected frame: op=%s seq=%d event=%q", f.Op, f.Sequence(), f.Event())
	}
	if string(f.D) != `{"id":"3"}` {
		t.Fatalf("unexpected body %s", f.D)
	}
}

func TestDecodeFrameRejectsGarbageAndNamelessDispatch(t *testing.T) {
	testlog.Start(t)

	if _, err := DecodeFrame([]byte(`{op:`)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if _, err := DecodeFrame([]byte(`{"op":0,"s":1,"d":{}}`)); !errors.Is(err, ErrMissingEventName) {
		t.Fatalf("expected ErrMissingEventName, got %v", err)
	}
}

func TestDecodeHello(t *testing.T) {
	testlog.Start(t)

	f, err := DecodeFrame([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h, err := DecodeHello(f)
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if h.Interval() != 41250*time.Millisecond {
		t.Fatalf("unexpected interval %s", h.Interval())
	}

	if _, err := DecodeHello(Frame{Op: OpHeartbeatACK}); !errors.Is(err, ErrUnexpectedOpcode) {
		t.Fatalf("expected ErrUnexpectedOpcode, got %v", err)
	}
	zero := Frame{Op: OpHello, D: json.RawMessage(`{"heartbeat_interval":0}`)}
	if _, err := DecodeHello(zero); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestDecodeInvalidSession(t *testing.T) {
	testlog.Start(t)

	if !DecodeInvalidSession(Frame{Op: OpInvalidSession, D: json.RawMessage(`true`)}) {
		t.Fatalf("expected resumable")
	}
	if DecodeInvalidSession(Frame{Op: OpInvalidSession, D: json.RawMessage(`false`)}) {
		t.Fatalf("expected not resumable")
	}
	if DecodeInvalidSession(Frame{Op: OpInvalidSession}) {
		t.Fatalf("expected missing body to be not resumable")
	}
}

func TestEncodeHeartbeatNullBeforeFirstDispatch(t *testing.T) {
	testlog.Start(t)

	raw, err := EncodeHeartbeat(0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"op":1,"d":null}` {
		t.Fatalf("unexpected heartbeat %s", raw)
	}
	raw, err = EncodeHeartbeat(7)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"op":1,"d":7}` {
		t.Fatalf("unexpected heartbeat %s", raw)
	}
}

func TestEncodeIdentifyShardPair(t *testing.T) {
	testlog.Start(t)

	raw, err := EncodeIdentify(Identify{Token: "tok", Intents: 513, Shard: [2]int{2, 4}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out struct {
		Op Opcode `json:"op"`
		D  struct {
			Token string `json:"token"`
			Shard []int  `json:"shard"`
		} `json:"d"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Op != OpIdentify || out.D.Token != "tok" || len(out.D.Shard) != 2 || out.D.Shard[0] != 2 || out.D.Shard[1] != 4 {
		t.Fatalf("unexpected identify %s", raw)
	}
}

func TestNewStatusUpdate(t *testing.T) {
	testlog.Start(t)

	su := NewStatusUpdate("", "", "", 0)
	if su.Status != "online" || len(su.Activities) != 0 {
		t.Fatalf("unexpected default status %+v", su)
	}
	su = NewStatusUpdate("idle", "live", "https://example.test/stream", 1)
	if len(su.Activities) != 1 || su.Activities[0].URL == nil || su.Activities[0].Type != 1 {
		t.Fatalf("unexpected streaming status %+v", su)
	}
	raw, err := EncodeStatusUpdate(StatusUpdate{Status: "dnd"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"op":3,"d":{"since":null,"activities":[],"status":"dnd","afk":false}}` {
		t.Fatalf("unexpected status frame %s", raw)
	}
}

func TestVocabularyCountsOnlyUnseenKeys(t *testing.T) {
	testlog.Start(t)

	v := NewVocabulary(2, "id", "name")
	body, learned, err := v.Normalize(json.RawMessage(`{"id":"1","name":"x","novel":true}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if learned != 1 || v.Grown() != 1 {
		t.Fatalf("expected one learned key, got learned=%d grown=%d", learned, v.Grown())
	}
	if _, ok := body["novel"]; !ok {
		t.Fatalf("expected novel key to survive normalize")
	}

	_, learned, err = v.Normalize(json.RawMessage(`{"id":"2","novel":false}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if learned != 0 || v.Grown() != 1 {
		t.Fatalf("expected no growth for known keys, got learned=%d grown=%d", learned, v.Grown())
	}

	if _, _, err := v.Intern("second"); err != nil {
		t.Fatalf("intern: %v", err)
	}
	key, grown, err := v.Intern("third")
	if !errors.Is(err, ErrVocabularyFull) || grown || key != "third" {
		t.Fatalf("expected full vocabulary, got key=%q grown=%v err=%v", key, grown, err)
	}
	if v.Overflow() != 1 || v.Len() != 4 {
		t.Fatalf("unexpected overflow=%d len=%d", v.Overflow(), v.Len())
	}
}

func TestOpcodeString(t *testing.T) {
	testlog.Start(t)

	if OpHeartbeatACK.String() != "heartbeat_ack" {
		t.Fatalf("unexpected %q", OpHeartbeatACK.String())
	}
	if Opcode(42).String() != "op_42" {
		t.Fatalf("unexpected %q", Opcode(42).String())
	}
}
