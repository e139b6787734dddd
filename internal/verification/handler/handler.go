// Package handler is the thin HTTP layer over the verification engine:
// proof submission, polling fallback, and the SSE push channel.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veriflow/internal/device"
	"veriflow/internal/platform/middleware"
	"veriflow/internal/verification/hub"
	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
)

// sseHeartbeatInterval keeps intermediaries from reaping idle push
// connections; mobile clients may sit minutes between events.
const sseHeartbeatInterval = 25 * time.Second

// Service defines the reconciler operations the transport needs.
type Service interface {
	SubmitProof(ctx context.Context, req models.SubmitProofRequest) (models.Outcome, error)
	CheckStatus(ctx context.Context, sessionID, walletAddress string) (models.Outcome, error)
}

// Hub is the connection registry for the push channel.
type Hub interface {
	Register(ctx context.Context, sessionID string, conn *hub.Connection)
	Unregister(conn *hub.Connection)
}

// Handler handles verification endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	hub          Hub
	jwtValidator middleware.JWTValidator
}

// Option configures the Handler.
type Option func(*Handler)

// WithJWTValidator gates the API behind bearer auth.
func WithJWTValidator(v middleware.JWTValidator) Option {
	return func(h *Handler) { h.jwtValidator = v }
}

// New creates a verification Handler.
func New(service Service, h Hub, logger *slog.Logger, opts ...Option) *Handler {
	handler := &Handler{
		logger:  logger,
		service: service,
		hub:     h,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Register mounts the verification routes on the chi router. JSON routes get
// the full middleware chain; the SSE route skips Timeout and ContentTypeJSON
// because it is long-lived and body-less.
func (h *Handler) Register(r chi.Router) {
	common := []func(http.Handler) http.Handler{
		middleware.Recovery(h.logger),
		middleware.RequestID,
		middleware.Logger(h.logger),
	}
	if h.jwtValidator != nil {
		common = append(common, middleware.RequireAuth(h.jwtValidator, h.logger))
	}

	router := chi.NewRouter()
	router.Use(common...)
	router.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(60 * time.Second))
		g.Use(middleware.ContentTypeJSON)
		g.Post("/verify", h.handleSubmitProof)
		g.Post("/verify/status", h.handleCheckStatus)
	})
	router.Get("/verify/events", h.handleEvents)

	r.Mount("/", router)
}

// submitResponse is the proof-submission envelope.
type submitResponse struct {
	Status                 string              `json:"status"`
	Result                 bool                `json:"result"`
	Message                string              `json:"message,omitempty"`
	CredentialSubject      map[string]any      `json:"credentialSubject,omitempty"`
	BlockchainVerification *models.Attestation `json:"blockchainVerification,omitempty"`
}

func (h *Handler) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.SubmitProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid proof submission body",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	outcome, err := h.service.SubmitProof(ctx, req)
	if err != nil {
		// Validation errors have no stored outcome; adapter errors do, and
		// the stored error outcome rides along in the envelope.
		if outcome.SessionID == "" {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, submitResponse{
			Status:  "error",
			Result:  false,
			Message: outcome.FailureReason,
		})
		return
	}

	resp := submitResponse{
		Status:                 "success",
		Result:                 outcome.Status == models.StatusVerified,
		CredentialSubject:      outcome.Claims,
		BlockchainVerification: outcome.Attestation,
	}
	if outcome.Status == models.StatusRejected {
		resp.Message = outcome.FailureReason
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusResponse is the polling-fallback envelope.
type statusResponse struct {
	Status string          `json:"status"`
	Result *models.Outcome `json:"result,omitempty"`
}

func (h *Handler) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CheckStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	outcome, err := h.service.CheckStatus(ctx, req.UserID, req.WalletAddress)
	if err != nil {
		writeError(w, err)
		return
	}

	if outcome.Status == models.StatusPending {
		writeJSON(w, http.StatusOK, statusResponse{Status: "pending"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Result: &outcome})
}

// handleEvents serves the push channel. The connection registers under the
// internal session ID and, when supplied, the external protocol ID as well,
// so that the two identifier spaces resolve to one connection.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}
	externalID := r.URL.Query().Get("external_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	info := device.Parse(r.UserAgent())
	conn := hub.NewConnection(info.Label)
	defer h.hub.Unregister(conn)

	// Register after headers are out so a replayed outcome lands on a live
	// stream.
	h.hub.Register(ctx, sessionID, conn)
	if externalID != "" && externalID != sessionID {
		h.hub.Register(ctx, externalID, conn)
	}

	h.logger.InfoContext(ctx, "push channel opened",
		"session_id", sessionID,
		"device", info.Label,
		"mobile", info.Mobile,
	)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-conn.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.ErrorContext(ctx, "failed to marshal push event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: verification_status\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses so every
// handler produces the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"error":   string(code),
		"message": dErrors.MessageOf(err),
	})
}
