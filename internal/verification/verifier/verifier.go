// Package verifier is the boundary to the external identity-proof backend.
// It imposes no retry policy: a failed call surfaces to the reconciler, which
// converts it into a terminal error outcome.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	dErrors "veriflow/pkg/domain-errors"
)

// Result is the verifier's answer: either valid with extracted claims, or
// invalid with the backend's details.
type Result struct {
	Valid          bool
	Claims         map[string]any
	InvalidDetails string
}

// Verifier validates a proof blob against its public signals and recovers
// the session identifier embedded in them.
type Verifier interface {
	Verify(ctx context.Context, proof map[string]any, publicSignals []string) (Result, error)
	ExtractIdentifier(publicSignals []string) (string, error)
}

// sessionSignalIndex is the position of the session identifier within the
// public signals emitted by the proving circuit.
const sessionSignalIndex = 0

// HTTPVerifier calls a verification backend over HTTP. The endpoint URL and
// app scope are configuration inputs, not part of the engine.
type HTTPVerifier struct {
	endpoint string
	appScope string
	client   *http.Client
}

func NewHTTPVerifier(endpoint, appScope string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVerifier{
		endpoint: endpoint,
		appScope: appScope,
		client:   &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	Proof         map[string]any `json:"proof"`
	PublicSignals []string       `json:"publicSignals"`
	AppScope      string         `json:"appScope,omitempty"`
}

type verifyResponse struct {
	Valid   bool           `json:"valid"`
	Claims  map[string]any `json:"claims,omitempty"`
	Details string         `json:"details,omitempty"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, proof map[string]any, publicSignals []string) (Result, error) {
	body, err := json.Marshal(verifyRequest{
		Proof:         proof,
		PublicSignals: publicSignals,
		AppScope:      v.appScope,
	})
	if err != nil {
		return Result{}, dErrors.Wrap(dErrors.CodeAdapterError, "encode verify request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, dErrors.Wrap(dErrors.CodeAdapterError, "build verify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{}, dErrors.Wrap(dErrors.CodeAdapterError, "verifier backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, dErrors.New(dErrors.CodeAdapterError,
			fmt.Sprintf("verifier backend returned %d", resp.StatusCode))
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, dErrors.Wrap(dErrors.CodeAdapterError, "decode verify response", err)
	}

	return Result{
		Valid:          decoded.Valid,
		Claims:         decoded.Claims,
		InvalidDetails: decoded.Details,
	}, nil
}

// ExtractIdentifier recovers the session identifier from the public signals.
// Used on the happy path and, best-effort, during error handling.
func (v *HTTPVerifier) ExtractIdentifier(publicSignals []string) (string, error) {
	return ExtractIdentifier(publicSignals)
}

// ExtractIdentifier is the shared signal-to-session-id mapping.
func ExtractIdentifier(publicSignals []string) (string, error) {
	if len(publicSignals) <= sessionSignalIndex {
		return "", dErrors.New(dErrors.CodeBadRequest, "public signals missing session identifier")
	}
	id := strings.TrimSpace(publicSignals[sessionSignalIndex])
	if id == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "empty session identifier in public signals")
	}
	return id, nil
}
