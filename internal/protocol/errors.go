package protocol

import "errors"

var (
	ErrMalformedFrame   = errors.New("protocol: malformed frame")
	ErrUnexpectedOpcode = errors.New("protocol: unexpected opcode")
	ErrMissingEventName = errors.New("protocol: dispatch without event name")
	ErrInvalidInterval  = errors.New("protocol: invalid heartbeat interval")
	ErrVocabularyFull   = errors.New("protocol: vocabulary full")
)
