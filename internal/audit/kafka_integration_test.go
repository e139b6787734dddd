//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"veriflow/internal/audit"
	"veriflow/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	sink     *audit.KafkaSink
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())

	sink, err := audit.NewKafkaSink([]string{s.redpanda.Broker}, "verification.audit")
	s.Require().NoError(err)
	s.sink = sink
	s.T().Cleanup(sink.Close)

	s.Require().NoError(s.sink.EnsureTopic(context.Background(), 1, 1))
}

func (s *KafkaSinkSuite) TestEnsureTopicIsIdempotent() {
	s.Require().NoError(s.sink.EnsureTopic(context.Background(), 1, 1))
}

func (s *KafkaSinkSuite) TestAppendProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events := []audit.Event{
		{SessionID: "u1", Action: audit.ActionVerified, Status: "verified"},
		{SessionID: "u1", Action: audit.ActionAttested, Status: "verified", TxHash: "0xfeed"},
	}
	for _, ev := range events {
		s.Require().NoError(s.sink.Append(ctx, ev))
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics("verification.audit"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got []audit.Event
	for len(got) < len(events) {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(fetches.Err())
		fetches.EachRecord(func(record *kgo.Record) {
			s.Equal("u1", string(record.Key), "records are keyed by session for per-session ordering")
			var ev audit.Event
			s.Require().NoError(json.Unmarshal(record.Value, &ev))
			got = append(got, ev)
		})
	}

	s.Require().Len(got, 2)
	s.Equal(audit.ActionVerified, got[0].Action)
	s.Equal(audit.ActionAttested, got[1].Action)
	s.Equal("0xfeed", got[1].TxHash)
}

// The full pipeline: emit through the publisher, drain with the worker, land
// in the broker.
func (s *KafkaSinkSuite) TestPublisherWorkerPipeline() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink, err := audit.NewKafkaSink([]string{s.redpanda.Broker}, "verification.audit.pipeline")
	s.Require().NoError(err)
	defer sink.Close()
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := audit.NewPublisher(16, logger)
	w := audit.NewWorker(sink, p.Inbox(), logger)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() { _ = w.Run(workerCtx) }()

	s.Require().NoError(p.Emit(ctx, audit.Event{SessionID: "u2", Action: audit.ActionRejected, Reason: "proof invalid"}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics("verification.audit.pipeline"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())

	records := fetches.Records()
	s.Require().NotEmpty(records)
	var ev audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &ev))
	s.Equal(audit.ActionRejected, ev.Action)
	s.Equal("proof invalid", ev.Reason)
	s.False(ev.Timestamp.IsZero(), "the publisher stamps emit time")
}
