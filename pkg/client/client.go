// Package client is the device-side session state machine for the
// verification engine. It owns reconnect and backoff policy for the push
// channel, a bounded polling fallback, and the mapping from server events
// onto UI-facing states.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// State is the UI-facing session state.
type State string

const (
	StateChecking State = "checking"
	StatePending  State = "pending"
	StateStarted  State = "started"
	StateVerified State = "verified"
	StateRejected State = "rejected"
	StateError    State = "error"
)

func (s State) terminal() bool {
	switch s {
	case StateVerified, StateRejected, StateError:
		return true
	}
	return false
}

// Attestation mirrors the server's blockchainVerification record.
type Attestation struct {
	Submitted bool   `json:"submitted"`
	TxHash    string `json:"txHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event is one verification_status push event.
type Event struct {
	Status                 string         `json:"status"`
	Data                   map[string]any `json:"data,omitempty"`
	Error                  string         `json:"error,omitempty"`
	Message                string         `json:"message,omitempty"`
	Timestamp              time.Time      `json:"timestamp"`
	BlockchainVerification *Attestation   `json:"blockchainVerification,omitempty"`
}

// Outcome is the stored result returned by the polling endpoint.
type Outcome struct {
	SessionID     string         `json:"sessionId"`
	WalletAddress string         `json:"walletAddress,omitempty"`
	Status        string         `json:"status"`
	Claims        map[string]any `json:"claims,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	Attestation   *Attestation   `json:"attestation,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Config parameterizes a session client.
type Config struct {
	BaseURL       string
	SessionID     string
	// ExternalID is the external protocol's session identifier; when set the
	// push connection registers under both identifier spaces.
	ExternalID    string
	WalletAddress string
	AuthToken     string

	HTTPClient    *http.Client
	Cache         Cache
	MaxReconnects int           // push reconnect cap, default 5
	MaxPolls      int           // manual poll cap, default 3
	BackoffBase   time.Duration // first reconnect delay, doubled per attempt
	ProceedDelay  time.Duration // pause before OnProceed after success

	// OnState fires on every state change. OnProceed fires once, after a
	// verified outcome carrying a successful attestation.
	OnState   func(state State, ev Event)
	OnProceed func(ev Event)
}

// Client drives one verification session from the device side.
type Client struct {
	cfg Config

	mu       sync.Mutex
	state    State
	finished bool

	successOnce sync.Once
	proceedOnce sync.Once
	foreground  chan struct{}
}

// New builds a Client, filling policy defaults.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.ProceedDelay <= 0 {
		cfg.ProceedDelay = 1500 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		state:      StateChecking,
		foreground: make(chan struct{}, 1),
	}, nil
}

// State returns the current UI-facing state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start runs the push-channel loop until a terminal outcome, context
// cancellation, or exhaustion of the reconnect budget. A cached verified
// outcome short-circuits without contacting the server.
func (c *Client) Start(ctx context.Context) error {
	c.setState(StateChecking, Event{Status: string(StateChecking)})

	if cached, ok := c.cfg.Cache.Load(c.cfg.SessionID); ok && cached.Status == string(StateVerified) {
		c.applyEvent(eventFromOutcome(cached))
		return nil
	}

	for attempt := 0; attempt <= c.cfg.MaxReconnects; attempt++ {
		if attempt > 0 {
			// Exponential backoff, interruptible by a foreground signal:
			// task-switch recovery should not wait out the full delay.
			delay := c.cfg.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.foreground:
			case <-time.After(delay):
			}
		}

		if err := c.listen(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if c.done() {
			return nil
		}
	}

	// Reconnect budget exhausted: stop silently. The manual poll path
	// remains available.
	return nil
}

// NotifyForeground signals that the app regained visibility or focus, the
// dominant reconnect opportunity on mobile.
func (c *Client) NotifyForeground() {
	select {
	case c.foreground <- struct{}{}:
	default:
	}
}

// Poll checks status once via the polling fallback, independent of push
// connectivity. Callers invoke it up to MaxPolls times; PollUntilTerminal
// wraps that policy.
func (c *Client) Poll(ctx context.Context) (Outcome, error) {
	body, err := json.Marshal(map[string]any{
		"checkOnly":     true,
		"userId":        c.cfg.SessionID,
		"walletAddress": c.cfg.WalletAddress,
	})
	if err != nil {
		return Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/verify/status", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("status check returned %d", resp.StatusCode)
	}

	var decoded struct {
		Status string   `json:"status"`
		Result *Outcome `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Outcome{}, err
	}

	if decoded.Status == "pending" || decoded.Result == nil {
		out := Outcome{SessionID: c.cfg.SessionID, Status: string(StatePending)}
		c.applyEvent(eventFromOutcome(out))
		return out, nil
	}
	c.applyEvent(eventFromOutcome(*decoded.Result))
	return *decoded.Result, nil
}

// PollUntilTerminal polls with the bounded attempt counter so a user is
// never permanently stuck when push delivery silently fails.
func (c *Client) PollUntilTerminal(ctx context.Context, interval time.Duration) (Outcome, error) {
	var last Outcome
	for attempt := 0; attempt < c.cfg.MaxPolls; attempt++ {
		out, err := c.Poll(ctx)
		if err != nil {
			return last, err
		}
		last = out
		if State(out.Status).terminal() {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
	return last, nil
}

// listen opens the push channel and consumes events until disconnect or a
// terminal outcome.
func (c *Client) listen(ctx context.Context) error {
	q := url.Values{"session_id": {c.cfg.SessionID}}
	if c.cfg.ExternalID != "" {
		q.Set("external_id", c.cfg.ExternalID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/verify/events?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push channel returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
				c.applyEvent(ev)
				if c.done() {
					return nil
				}
			}
			data.Reset()
		}
	}
	return scanner.Err()
}

// applyEvent maps a server event onto the state machine and runs the
// one-time success hooks.
func (c *Client) applyEvent(ev Event) {
	state := State(ev.Status)
	switch state {
	case StatePending, StateStarted, StateVerified, StateRejected, StateError:
	default:
		return
	}

	c.setState(state, ev)

	if state.terminal() {
		c.cfg.Cache.Store(c.cfg.SessionID, outcomeFromEvent(c.cfg.SessionID, ev))
		c.mu.Lock()
		c.finished = true
		c.mu.Unlock()
	}

	// A verified outcome with a successful attestation navigates onward
	// after a short pause, exactly once.
	if state == StateVerified && ev.BlockchainVerification != nil && ev.BlockchainVerification.Submitted {
		c.proceedOnce.Do(func() {
			if c.cfg.OnProceed != nil {
				time.AfterFunc(c.cfg.ProceedDelay, func() { c.cfg.OnProceed(ev) })
			}
		})
	}
}

// setState records a transition and fires OnState on change. The verified
// transition is user-visible exactly once, even if the outcome is
// republished with an attestation attached.
func (c *Client) setState(state State, ev Event) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if state == StateVerified {
		c.successOnce.Do(func() {
			if c.cfg.OnState != nil {
				c.cfg.OnState(state, ev)
			}
		})
		return
	}
	if c.cfg.OnState != nil {
		c.cfg.OnState(state, ev)
	}
}

func (c *Client) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

func eventFromOutcome(o Outcome) Event {
	return Event{
		Status:                 o.Status,
		Data:                   o.Claims,
		Error:                  o.FailureReason,
		Timestamp:              o.UpdatedAt,
		BlockchainVerification: o.Attestation,
	}
}

func outcomeFromEvent(sessionID string, ev Event) Outcome {
	return Outcome{
		SessionID:     sessionID,
		Status:        ev.Status,
		Claims:        ev.Data,
		FailureReason: ev.Error,
		Attestation:   ev.BlockchainVerification,
		UpdatedAt:     ev.Timestamp,
	}
}
