// Package hub maintains live push-channel connections and delivers outcome
// updates the moment they are known. The hub always writes to the outcome
// store before notifying, so a poll racing a push never observes an update
// the push has not seen.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"veriflow/internal/verification/models"
	"veriflow/internal/verification/store"
)

// eventBufferSize bounds the per-connection delivery queue. The store holds
// the latest outcome, so a dropped event is recoverable via replay or poll.
const eventBufferSize = 8

// Connection is one live push channel. A single connection may be registered
// under several session identifiers (the internal session ID and the external
// protocol ID occupy different identifier spaces).
type Connection struct {
	id          string
	events      chan models.Event
	done        chan struct{}
	closeOnce   sync.Once
	DeviceLabel string
}

// NewConnection allocates a connection with a fresh identity.
func NewConnection(deviceLabel string) *Connection {
	return &Connection{
		id:          uuid.NewString(),
		events:      make(chan models.Event, eventBufferSize),
		done:        make(chan struct{}),
		DeviceLabel: deviceLabel,
	}
}

// ID returns the connection identity used for unregistration matching.
func (c *Connection) ID() string { return c.id }

// Events exposes the delivery queue to the transport writer.
func (c *Connection) Events() <-chan models.Event { return c.events }

// Done is closed when the connection is shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Metrics is the subset of instrumentation the hub reports.
type Metrics interface {
	SetActiveBindings(n int)
	IncReplayDelivery()
	IncDroppedEvent()
}

// Hub binds session identifiers to live connections. It is constructed once
// and injected into the reconciler and transport; there is no package-level
// instance.
type Hub struct {
	store   store.OutcomeStore
	logger  *slog.Logger
	metrics Metrics

	mu       sync.RWMutex
	bindings map[string]*Connection
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics sets the instrumentation sink.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New builds a Hub over the given outcome store.
func New(outcomes store.OutcomeStore, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		store:    outcomes,
		logger:   logger,
		bindings: make(map[string]*Connection),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register binds a connection to a session identifier. If the store already
// holds an outcome for that session it is delivered immediately, closing the
// race between "result computed" and "client reconnected".
func (h *Hub) Register(ctx context.Context, sessionID string, conn *Connection) {
	if sessionID == "" || conn == nil {
		return
	}

	h.mu.Lock()
	h.bindings[sessionID] = conn
	total := len(h.bindings)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetActiveBindings(total)
	}
	h.logger.DebugContext(ctx, "connection registered",
		"session_id", sessionID,
		"connection_id", conn.ID(),
		"device", conn.DeviceLabel,
	)

	outcome, err := h.store.Get(ctx, sessionID)
	if err != nil {
		return // nothing stored yet; normal for fresh sessions
	}
	if h.deliver(conn, models.EventFromOutcome(outcome)) && h.metrics != nil {
		h.metrics.IncReplayDelivery()
	}
}

// Publish stores the outcome first, then attempts delivery to any connection
// currently bound to the session. Absence of a binding is not an error: the
// outcome is stored for later replay or polling.
func (h *Hub) Publish(ctx context.Context, sessionID string, outcome models.Outcome) error {
	if err := h.store.Put(ctx, sessionID, outcome); err != nil {
		return err
	}

	h.mu.RLock()
	conn := h.bindings[sessionID]
	h.mu.RUnlock()

	if conn == nil {
		return nil
	}
	h.deliver(conn, models.EventFromOutcome(outcome))
	return nil
}

// Unregister removes every binding held by this connection, matching on
// connection identity rather than a reverse map: a connection may have
// registered multiple logical session identifiers over its lifetime.
func (h *Hub) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	for sessionID, bound := range h.bindings {
		if bound.ID() == conn.ID() {
			delete(h.bindings, sessionID)
		}
	}
	total := len(h.bindings)
	h.mu.Unlock()

	conn.Close()
	if h.metrics != nil {
		h.metrics.SetActiveBindings(total)
	}
}

// deliver enqueues without blocking. A saturated or closed connection loses
// the event; the stored outcome keeps the session recoverable.
func (h *Hub) deliver(conn *Connection, ev models.Event) bool {
	select {
	case <-conn.Done():
		return false
	case conn.events <- ev:
		return true
	default:
		if h.metrics != nil {
			h.metrics.IncDroppedEvent()
		}
		h.logger.Warn("event dropped on saturated connection",
			"connection_id", conn.ID(),
			"status", ev.Status,
		)
		return false
	}
}
