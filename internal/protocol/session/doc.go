// Package session runs one gateway session per shard.
//
// Ownership boundary:
// - connection lifecycle and state machine
// - heartbeats and liveness
// - resume state and identify/resume handshakes
// - outbound commands and their rate budget
package session
