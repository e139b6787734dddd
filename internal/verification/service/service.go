// Package service implements the status reconciler: it receives proof
// submissions, drives the per-session state machine forward, and fans results
// out through the notification hub and attestation writer.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"veriflow/internal/audit"
	"veriflow/internal/verification/models"
	"veriflow/internal/verification/store"
	"veriflow/internal/verification/verifier"
	dErrors "veriflow/pkg/domain-errors"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// Publisher is the notification hub contract the reconciler needs: store the
// outcome, then attempt delivery to any bound connection.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, outcome models.Outcome) error
}

// Verifier validates proofs and recovers session identifiers from public
// signals.
type Verifier interface {
	Verify(ctx context.Context, proof map[string]any, publicSignals []string) (verifier.Result, error)
	ExtractIdentifier(publicSignals []string) (string, error)
}

// Attester performs the one-time on-chain write.
type Attester interface {
	Attest(ctx context.Context, walletAddress string) (txHash string, err error)
}

// Auditor records lifecycle events. Optional; nil disables auditing.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Metrics is the instrumentation the reconciler reports. Optional.
type Metrics interface {
	IncSubmission(result string)
	ObserveVerifyDuration(d time.Duration)
	IncAttestation(result string)
}

// Service is the status reconciler. All collaborators are injected; the
// service owns only the per-session locks that make transition checks and the
// attestation check-then-act atomic.
type Service struct {
	outcomes store.OutcomeStore
	hub      Publisher
	verifier Verifier
	attester Attester
	logger   *slog.Logger
	auditor  Auditor
	metrics  Metrics
	tracer   trace.Tracer

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures optional collaborators.
type Option func(*Service)

// WithAuditor enables lifecycle auditing.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithMetrics enables instrumentation.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(outcomes store.OutcomeStore, hub Publisher, verifier Verifier, attester Attester, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		outcomes: outcomes,
		hub:      hub,
		verifier: verifier,
		attester: attester,
		logger:   logger,
		tracer:   otel.Tracer("veriflow/verification"),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SubmitProof validates and verifies a proof submission, publishing a started
// outcome immediately and a terminal outcome when the verifier answers. When
// a wallet address accompanies the submission, the attestation write runs
// synchronously and the outcome is republished with its result attached.
//
// The returned error is non-nil only for validation failures and adapter
// errors; a rejected proof is a successful call with a rejected outcome.
func (s *Service) SubmitProof(ctx context.Context, req models.SubmitProofRequest) (models.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "verification.SubmitProof")
	defer span.End()

	if len(req.Proof) == 0 {
		return models.Outcome{}, dErrors.New(dErrors.CodeBadRequest, "proof is required")
	}
	if len(req.PublicSignals) == 0 {
		return models.Outcome{}, dErrors.New(dErrors.CodeBadRequest, "public signals are required")
	}

	sessionID, err := s.verifier.ExtractIdentifier(req.PublicSignals)
	if err != nil {
		// Recover any identifier present in the raw request so the error
		// still reaches a listening client.
		if req.UserID == "" {
			return models.Outcome{}, dErrors.Wrap(dErrors.CodeBadRequest, "session identifier unrecoverable", err)
		}
		outcome := s.publish(ctx, req.UserID, models.Outcome{
			Status:        models.StatusError,
			FailureReason: dErrors.MessageOf(err),
			WalletAddress: req.WalletAddress,
		})
		s.recordSubmission(ctx, outcome, audit.ActionErrored)
		return outcome, err
	}

	started := s.publish(ctx, sessionID, models.Outcome{
		Status:        models.StatusStarted,
		WalletAddress: req.WalletAddress,
	})
	s.emitAudit(ctx, audit.Event{
		SessionID:     sessionID,
		WalletAddress: req.WalletAddress,
		Action:        audit.ActionProofSubmitted,
		Status:        string(started.Status),
	})

	start := time.Now()
	result, err := s.verifier.Verify(ctx, req.Proof, req.PublicSignals)
	if s.metrics != nil {
		s.metrics.ObserveVerifyDuration(time.Since(start))
	}
	if err != nil {
		outcome := s.publish(ctx, sessionID, models.Outcome{
			Status:        models.StatusError,
			FailureReason: dErrors.MessageOf(err),
			WalletAddress: req.WalletAddress,
		})
		s.logger.ErrorContext(ctx, "proof verification call failed",
			"session_id", sessionID,
			"error", err,
		)
		s.recordSubmission(ctx, outcome, audit.ActionErrored)
		return outcome, err
	}

	if !result.Valid {
		reason := result.InvalidDetails
		if reason == "" {
			reason = "proof invalid"
		}
		outcome := s.publish(ctx, sessionID, models.Outcome{
			Status:        models.StatusRejected,
			FailureReason: reason,
			WalletAddress: req.WalletAddress,
		})
		s.recordSubmission(ctx, outcome, audit.ActionRejected)
		return outcome, nil
	}

	outcome := s.publish(ctx, sessionID, models.Outcome{
		Status:        models.StatusVerified,
		Claims:        result.Claims,
		WalletAddress: req.WalletAddress,
	})
	s.recordSubmission(ctx, outcome, audit.ActionVerified)

	if req.WalletAddress != "" {
		outcome = s.ensureAttestation(ctx, sessionID, req.WalletAddress)
	}
	return outcome, nil
}

// CheckStatus is the polling fallback: a pure read, except that a verified
// session whose wallet address has just become known gets its attestation
// written synchronously as part of answering the check.
func (s *Service) CheckStatus(ctx context.Context, sessionID, walletAddress string) (models.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "verification.CheckStatus")
	defer span.End()

	if sessionID == "" {
		return models.Outcome{}, dErrors.New(dErrors.CodeBadRequest, "session identifier is required")
	}

	current, err := s.outcomes.Get(ctx, sessionID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			// Unknown session means the client got ahead of the server.
			// That is a pending signal, not an error.
			return models.Outcome{SessionID: sessionID, Status: models.StatusPending}, nil
		}
		return models.Outcome{}, err
	}

	if current.Status == models.StatusVerified && walletAddress != "" && !attested(current) {
		return s.ensureAttestation(ctx, sessionID, walletAddress), nil
	}
	return current, nil
}

// ensureAttestation performs the at-most-once on-chain write. The check of
// the stored attestation record and the write itself happen under the
// session lock so concurrent status checks cannot both observe "unset" and
// both submit.
func (s *Service) ensureAttestation(ctx context.Context, sessionID, walletAddress string) models.Outcome {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.outcomes.Get(ctx, sessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "attestation skipped, outcome unreadable",
			"session_id", sessionID,
			"error", err,
		)
		return models.Outcome{SessionID: sessionID, Status: models.StatusPending}
	}
	if current.Status != models.StatusVerified {
		return current
	}
	if attested(current) {
		return current // idempotent: the write already happened
	}

	txHash, err := s.attester.Attest(ctx, walletAddress)
	attestation := &models.Attestation{Submitted: err == nil, TxHash: txHash}
	action := audit.ActionAttested
	if err != nil {
		// A failed write never reverts the verified status; it is recorded
		// and retried on a later status check.
		attestation.Error = dErrors.MessageOf(err)
		action = audit.ActionAttestFailed
		s.logger.ErrorContext(ctx, "attestation write failed",
			"session_id", sessionID,
			"wallet", walletAddress,
			"error", err,
		)
	}
	if s.metrics != nil {
		if err == nil {
			s.metrics.IncAttestation("success")
		} else {
			s.metrics.IncAttestation("failure")
		}
	}

	current.WalletAddress = walletAddress
	current.Attestation = attestation
	updated := s.publishLocked(ctx, sessionID, current)
	s.emitAudit(ctx, audit.Event{
		SessionID:     sessionID,
		WalletAddress: walletAddress,
		Action:        action,
		Status:        string(updated.Status),
		TxHash:        txHash,
		Reason:        attestation.Error,
	})
	return updated
}

// publish applies forward-only transition rules under the session lock and
// hands the winning outcome to the hub (which stores before notifying).
func (s *Service) publish(ctx context.Context, sessionID string, next models.Outcome) models.Outcome {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return s.publishLocked(ctx, sessionID, next)
}

func (s *Service) publishLocked(ctx context.Context, sessionID string, next models.Outcome) models.Outcome {
	current, err := s.outcomes.Get(ctx, sessionID)
	if err == nil {
		// Terminal outcomes are immutable except for the attestation record,
		// which transitions once from unset to set.
		if current.Status.Terminal() {
			if next.Status != current.Status || (attested(current) && next.Attestation != current.Attestation) {
				return current
			}
		} else if next.Status.Rank() < current.Status.Rank() {
			return current
		}
		if next.WalletAddress == "" {
			next.WalletAddress = current.WalletAddress
		}
		if next.Attestation == nil {
			next.Attestation = current.Attestation
		}
	}

	next.SessionID = sessionID
	next.UpdatedAt = time.Now()
	if err := s.hub.Publish(ctx, sessionID, next); err != nil {
		s.logger.ErrorContext(ctx, "outcome publish failed",
			"session_id", sessionID,
			"status", next.Status,
			"error", err,
		)
	}
	return next
}

func (s *Service) lockFor(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	return mu
}

func (s *Service) recordSubmission(ctx context.Context, outcome models.Outcome, action string) {
	if s.metrics != nil {
		s.metrics.IncSubmission(string(outcome.Status))
	}
	s.emitAudit(ctx, audit.Event{
		SessionID:     outcome.SessionID,
		WalletAddress: outcome.WalletAddress,
		Action:        action,
		Status:        string(outcome.Status),
		Reason:        outcome.FailureReason,
	})
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "error", err)
	}
}

// attested reports whether the session's one-time write already succeeded.
// A recorded failure does not count: it stays retryable.
func attested(o models.Outcome) bool {
	return o.Attestation != nil && o.Attestation.Submitted
}
