package session

// ResumeState is what a replacement session needs to pick up where a
// previous one stopped.
type ResumeState struct {
	GatewayURL       string `json:"gateway_url"`
	ShardID          int    `json:"shard_id"`
	TotalShards      int    `json:"total_shards"`
	ResumeGatewayURL string `json:"resume_gateway_url,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	LastSequence     int64  `json:"last_sequence"`
}

// CanResume reports whether a resume handshake has something to resume.
func (r ResumeState) CanResume() bool {
	return r.SessionID != "" && r.LastSequence > 0
}

// DialURL is where the next connection goes: the resume URL when resuming
// and one is known, the bootstrap URL otherwise.
func (r ResumeState) DialURL(resume bool) string {
	if resume && r.ResumeGatewayURL != "" {
		return r.ResumeGatewayURL
	}
	return r.GatewayURL
}

// advance records seq if it moves the sequence forward.
func (r *ResumeState) advance(seq int64) bool {
	if seq <= r.LastSequence {
		return false
	}
	r.LastSequence = seq
	return true
}

// invalidate drops everything a rejected session made stale.
func (r *ResumeState) invalidate() {
	r.SessionID = ""
	r.ResumeGatewayURL = ""
	r.LastSequence = 0
}
