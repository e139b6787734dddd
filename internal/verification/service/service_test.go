package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"veriflow/internal/audit"
	"veriflow/internal/verification/models"
	"veriflow/internal/verification/service/mocks"
	"veriflow/internal/verification/store"
	"veriflow/internal/verification/verifier"
	dErrors "veriflow/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite

	ctrl      *gomock.Controller
	outcomes  store.OutcomeStore
	hub       *mocks.MockPublisher
	verifier  *mocks.MockVerifier
	attester  *mocks.MockAttester
	service   *Service
	published []models.Outcome
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.outcomes = store.NewInMemoryOutcomeStore()
	s.hub = mocks.NewMockPublisher(s.ctrl)
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.attester = mocks.NewMockAttester(s.ctrl)
	s.published = nil

	// The hub stores before notifying; the test double does the same so the
	// reconciler's read-back paths see what was published.
	s.hub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, sessionID string, outcome models.Outcome) error {
			s.published = append(s.published, outcome)
			return s.outcomes.Put(ctx, sessionID, outcome)
		}).AnyTimes()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.outcomes, s.hub, s.verifier, s.attester, logger)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) statuses() []models.Status {
	out := make([]models.Status, 0, len(s.published))
	for _, o := range s.published {
		out = append(out, o.Status)
	}
	return out
}

func validRequest() models.SubmitProofRequest {
	return models.SubmitProofRequest{
		Proof:         map[string]any{"pi_a": []any{"1", "2"}},
		PublicSignals: []string{"u1"},
	}
}

func (s *ServiceSuite) TestSubmitProof_Verified() {
	req := validRequest()
	s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u1", nil)
	s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
		Return(verifier.Result{Valid: true, Claims: map[string]any{"over18": true}}, nil)

	outcome, err := s.service.SubmitProof(context.Background(), req)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "u1", outcome.SessionID)
	assert.Equal(s.T(), models.StatusVerified, outcome.Status)
	assert.Equal(s.T(), map[string]any{"over18": true}, outcome.Claims)
	assert.Nil(s.T(), outcome.Attestation)
	assert.False(s.T(), outcome.UpdatedAt.IsZero())

	assert.Equal(s.T(), []models.Status{models.StatusStarted, models.StatusVerified}, s.statuses())

	stored, err := s.outcomes.Get(context.Background(), "u1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, stored.Status)
}

func (s *ServiceSuite) TestSubmitProof_VerifiedWithWallet_AttestsOnce() {
	req := validRequest()
	req.WalletAddress = "0xabc"
	s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u1", nil)
	s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
		Return(verifier.Result{Valid: true, Claims: map[string]any{"over18": true}}, nil)
	s.attester.EXPECT().Attest(gomock.Any(), "0xabc").Return("0xdeadbeef", nil).Times(1)

	outcome, err := s.service.SubmitProof(context.Background(), req)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, outcome.Status)
	require.NotNil(s.T(), outcome.Attestation)
	assert.True(s.T(), outcome.Attestation.Submitted)
	assert.Equal(s.T(), "0xdeadbeef", outcome.Attestation.TxHash)

	assert.Equal(s.T(),
		[]models.Status{models.StatusStarted, models.StatusVerified, models.StatusVerified},
		s.statuses(),
		"attestation republishes the verified outcome with the record attached")

	// A later status check with the same wallet must not write again. No
	// further Attest expectation is registered, so a second call would fail
	// the controller.
	again, err := s.service.CheckStatus(context.Background(), "u1", "0xabc")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), again.Attestation)
	assert.True(s.T(), again.Attestation.Submitted)
	assert.Equal(s.T(), "0xdeadbeef", again.Attestation.TxHash)
}

func (s *ServiceSuite) TestSubmitProof_Rejected() {
	s.T().Run("rejection reason is preserved", func(t *testing.T) {
		req := validRequest()
		s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u1", nil)
		s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
			Return(verifier.Result{Valid: false, InvalidDetails: "age below threshold"}, nil)

		outcome, err := s.service.SubmitProof(context.Background(), req)
		require.NoError(t, err, "a rejected proof is not a call failure")
		assert.Equal(t, models.StatusRejected, outcome.Status)
		assert.Equal(t, "age below threshold", outcome.FailureReason)
	})

	s.T().Run("missing reason gets the default", func(t *testing.T) {
		req := validRequest()
		req.PublicSignals = []string{"u2"}
		s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u2", nil)
		s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
			Return(verifier.Result{Valid: false}, nil)

		outcome, err := s.service.SubmitProof(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, outcome.Status)
		assert.Equal(t, "proof invalid", outcome.FailureReason)
	})
}

func (s *ServiceSuite) TestSubmitProof_VerifierError() {
	req := validRequest()
	verifyErr := dErrors.New(dErrors.CodeAdapterError, "verifier unreachable")
	s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u1", nil)
	s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
		Return(verifier.Result{}, verifyErr)

	outcome, err := s.service.SubmitProof(context.Background(), req)
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeAdapterError))
	assert.Equal(s.T(), models.StatusError, outcome.Status)
	assert.Equal(s.T(), "verifier unreachable", outcome.FailureReason)

	// The failure still reached any listener bound to the session.
	assert.Equal(s.T(), []models.Status{models.StatusStarted, models.StatusError}, s.statuses())
}

func (s *ServiceSuite) TestSubmitProof_Validation() {
	s.T().Run("missing proof", func(t *testing.T) {
		_, err := s.service.SubmitProof(context.Background(), models.SubmitProofRequest{
			PublicSignals: []string{"u1"},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.T().Run("missing public signals", func(t *testing.T) {
		_, err := s.service.SubmitProof(context.Background(), models.SubmitProofRequest{
			Proof: map[string]any{"pi_a": "1"},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	assert.Empty(s.T(), s.published, "validation failures must not leak partial state")
}

func (s *ServiceSuite) TestSubmitProof_IdentifierUnrecoverable() {
	extractErr := dErrors.New(dErrors.CodeBadRequest, "session identifier missing from public signals")

	s.T().Run("no fallback identifier", func(t *testing.T) {
		req := validRequest()
		s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("", extractErr)

		_, err := s.service.SubmitProof(context.Background(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
		assert.Empty(t, s.published)
	})

	s.T().Run("fallback identifier from the request body", func(t *testing.T) {
		req := validRequest()
		req.UserID = "fallback-user"
		s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("", extractErr)

		outcome, err := s.service.SubmitProof(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "fallback-user", outcome.SessionID)
		assert.Equal(t, models.StatusError, outcome.Status)

		stored, getErr := s.outcomes.Get(context.Background(), "fallback-user")
		require.NoError(t, getErr)
		assert.Equal(t, models.StatusError, stored.Status)
	})
}

func (s *ServiceSuite) TestSubmitProof_TerminalOutcomeIsImmutable() {
	req := validRequest()
	s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u1", nil).Times(2)
	s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
		Return(verifier.Result{Valid: true, Claims: map[string]any{"over18": true}}, nil)

	first, err := s.service.SubmitProof(context.Background(), req)
	require.NoError(s.T(), err)
	require.Equal(s.T(), models.StatusVerified, first.Status)

	// A replayed submission that fails verification must not regress the
	// session to rejected.
	s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
		Return(verifier.Result{Valid: false, InvalidDetails: "replayed proof"}, nil)

	second, err := s.service.SubmitProof(context.Background(), req)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, second.Status)

	stored, err := s.outcomes.Get(context.Background(), "u1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, stored.Status)
	assert.Equal(s.T(), map[string]any{"over18": true}, stored.Claims)
}

func (s *ServiceSuite) TestCheckStatus() {
	s.T().Run("unknown session is pending, not an error", func(t *testing.T) {
		outcome, err := s.service.CheckStatus(context.Background(), "never-seen", "")
		require.NoError(t, err)
		assert.Equal(t, "never-seen", outcome.SessionID)
		assert.Equal(t, models.StatusPending, outcome.Status)
	})

	s.T().Run("empty session identifier", func(t *testing.T) {
		_, err := s.service.CheckStatus(context.Background(), "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.T().Run("known session returns the stored outcome", func(t *testing.T) {
		require.NoError(t, s.outcomes.Put(context.Background(), "u1", models.Outcome{
			SessionID: "u1",
			Status:    models.StatusStarted,
		}))
		outcome, err := s.service.CheckStatus(context.Background(), "u1", "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusStarted, outcome.Status)
	})
}

func (s *ServiceSuite) TestCheckStatus_TriggersAttestation() {
	require.NoError(s.T(), s.outcomes.Put(context.Background(), "u1", models.Outcome{
		SessionID: "u1",
		Status:    models.StatusVerified,
		Claims:    map[string]any{"over18": true},
	}))
	s.attester.EXPECT().Attest(gomock.Any(), "0xabc").Return("0xfeed", nil).Times(1)

	outcome, err := s.service.CheckStatus(context.Background(), "u1", "0xabc")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, outcome.Status)
	assert.Equal(s.T(), "0xabc", outcome.WalletAddress)
	require.NotNil(s.T(), outcome.Attestation)
	assert.True(s.T(), outcome.Attestation.Submitted)
	assert.Equal(s.T(), "0xfeed", outcome.Attestation.TxHash)
	assert.Equal(s.T(), map[string]any{"over18": true}, outcome.Claims,
		"the attestation republish must carry the claims forward")

	assert.Equal(s.T(), []models.Status{models.StatusVerified}, s.statuses(),
		"a status check publishes only when the attestation record changes")
}

func (s *ServiceSuite) TestCheckStatus_AttestationFailureIsRetryable() {
	require.NoError(s.T(), s.outcomes.Put(context.Background(), "u1", models.Outcome{
		SessionID: "u1",
		Status:    models.StatusVerified,
	}))

	gomock.InOrder(
		s.attester.EXPECT().Attest(gomock.Any(), "0xabc").Return("", errors.New("relay timeout")),
		s.attester.EXPECT().Attest(gomock.Any(), "0xabc").Return("0xfeed", nil),
	)

	outcome, err := s.service.CheckStatus(context.Background(), "u1", "0xabc")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, outcome.Status, "a failed write never reverts verified")
	require.NotNil(s.T(), outcome.Attestation)
	assert.False(s.T(), outcome.Attestation.Submitted)
	assert.Equal(s.T(), "relay timeout", outcome.Attestation.Error)

	retried, err := s.service.CheckStatus(context.Background(), "u1", "0xabc")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), retried.Attestation)
	assert.True(s.T(), retried.Attestation.Submitted)
	assert.Equal(s.T(), "0xfeed", retried.Attestation.TxHash)
}

func (s *ServiceSuite) TestCheckStatus_NoAttestationWithoutWallet() {
	require.NoError(s.T(), s.outcomes.Put(context.Background(), "u1", models.Outcome{
		SessionID: "u1",
		Status:    models.StatusVerified,
	}))

	// No Attest expectation: the controller fails on any call.
	outcome, err := s.service.CheckStatus(context.Background(), "u1", "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusVerified, outcome.Status)
	assert.Nil(s.T(), outcome.Attestation)
}

func (s *ServiceSuite) TestAuditTrail() {
	auditor := mocks.NewMockAuditor(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(s.outcomes, s.hub, s.verifier, s.attester, logger, WithAuditor(auditor))

	req := validRequest()
	req.WalletAddress = "0xabc"
	s.verifier.EXPECT().ExtractIdentifier(req.PublicSignals).Return("u1", nil)
	s.verifier.EXPECT().Verify(gomock.Any(), req.Proof, req.PublicSignals).
		Return(verifier.Result{Valid: true}, nil)
	s.attester.EXPECT().Attest(gomock.Any(), "0xabc").Return("0xfeed", nil)

	var actions []string
	auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, event audit.Event) error {
			actions = append(actions, event.Action)
			return nil
		}).AnyTimes()

	_, err := svc.SubmitProof(context.Background(), req)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []string{
		audit.ActionProofSubmitted,
		audit.ActionVerified,
		audit.ActionAttested,
	}, actions)
}
