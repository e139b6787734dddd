package audit

import "time"

// Actions recorded over a verification session's lifetime.
const (
	ActionProofSubmitted = "proof_submitted"
	ActionVerified       = "verified"
	ActionRejected       = "rejected"
	ActionErrored        = "errored"
	ActionAttested       = "attested"
	ActionAttestFailed   = "attest_failed"
)

// Event is emitted from the reconciler to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"sessionId"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Action        string    `json:"action"`
	Status        string    `json:"status,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
}
