// Package models holds the verification session data model shared by the
// store, hub, service, and transport layers.
package models

import "time"

// Status is the lifecycle state of a verification session. It only moves
// forward: pending -> started -> {verified, rejected, error}.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarted  Status = "started"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
	StatusError    Status = "error"
)

// Terminal reports whether s is a final state. Terminal outcomes are
// immutable except for the attestation record.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusError:
		return true
	}
	return false
}

// Rank orders statuses along the forward path so the reconciler can reject
// backward transitions. Unknown statuses rank lowest.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusStarted:
		return 2
	case StatusVerified, StatusRejected, StatusError:
		return 3
	}
	return 0
}

// Attestation records the one-time on-chain write for a verified session.
// Set at most once; absence means not yet attempted.
type Attestation struct {
	Submitted bool   `json:"submitted"`
	TxHash    string `json:"txHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Outcome is the stored record of a session's current status plus any
// associated claims, failure details, and attestation.
type Outcome struct {
	SessionID     string         `json:"sessionId"`
	WalletAddress string         `json:"walletAddress,omitempty"`
	Status        Status         `json:"status"`
	Claims        map[string]any `json:"claims,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	Attestation   *Attestation   `json:"attestation,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Event is the push-channel payload emitted to registered connections as a
// verification_status event.
type Event struct {
	Status                 Status         `json:"status"`
	Data                   map[string]any `json:"data,omitempty"`
	Error                  string         `json:"error,omitempty"`
	Message                string         `json:"message,omitempty"`
	Timestamp              time.Time      `json:"timestamp"`
	BlockchainVerification *Attestation   `json:"blockchainVerification,omitempty"`
}

// EventFromOutcome shapes an outcome for push delivery.
func EventFromOutcome(o Outcome) Event {
	ev := Event{
		Status:                 o.Status,
		Timestamp:              o.UpdatedAt,
		BlockchainVerification: o.Attestation,
	}
	switch o.Status {
	case StatusVerified:
		ev.Data = o.Claims
		ev.Message = "verification complete"
	case StatusRejected:
		ev.Error = o.FailureReason
		ev.Message = "proof rejected"
	case StatusError:
		ev.Error = o.FailureReason
	case StatusStarted:
		ev.Message = "verification in progress"
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

// SubmitProofRequest is the proof submission payload. UserID is a raw
// fallback identifier used only for best-effort error delivery when signal
// extraction itself fails.
type SubmitProofRequest struct {
	Proof         map[string]any `json:"proof"`
	PublicSignals []string       `json:"publicSignals"`
	WalletAddress string         `json:"walletAddress,omitempty"`
	UserID        string         `json:"userId,omitempty"`
}

// CheckStatusRequest is the polling-fallback payload.
type CheckStatusRequest struct {
	CheckOnly     bool   `json:"checkOnly"`
	UserID        string `json:"userId"`
	WalletAddress string `json:"walletAddress,omitempty"`
}
