package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink collects appended events; failUntil scripts transient
// failures.
type recordingSink struct {
	mu        sync.Mutex
	events    []Event
	failUntil int
	calls     int
}

func (s *recordingSink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failUntil {
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) recorded() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestPublisher_EmitStampsTimestamp(t *testing.T) {
	p := NewPublisher(4, testLogger())
	require.NoError(t, p.Emit(context.Background(), Event{SessionID: "u1", Action: ActionVerified}))

	ev := <-p.Inbox()
	assert.Equal(t, "u1", ev.SessionID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestPublisher_EmitNeverBlocks(t *testing.T) {
	p := NewPublisher(1, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = p.Emit(context.Background(), Event{Action: ActionVerified})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}

func TestWorker_DrainsInboxAndSurvivesSinkFailures(t *testing.T) {
	p := NewPublisher(16, testLogger())
	sink := &recordingSink{failUntil: 1}
	w := NewWorker(sink, p.Inbox(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, p.Emit(ctx, Event{SessionID: "u1", Action: ActionVerified}))
	require.NoError(t, p.Emit(ctx, Event{SessionID: "u1", Action: ActionAttested}))

	// The first append fails and is skipped; the second lands.
	require.Eventually(t, func() bool {
		return len(sink.recorded()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, ActionAttested, sink.recorded()[0].Action)
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	p := NewPublisher(4, testLogger())
	w := NewWorker(&recordingSink{}, p.Inbox(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
