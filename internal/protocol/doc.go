// Package protocol owns the gateway wire contract.
//
// Ownership boundary:
// - frame envelope and opcodes
// - handshake and command payloads
// - dispatch key vocabulary
package protocol
