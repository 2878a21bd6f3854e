package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/idhash"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/storage"
	"solana-swap-engine/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(tradeID string, seq int, stage domain.Stage) domain.TradeEvent {
	return domain.TradeEvent{
		EventID:   idhash.ComputeEventID(tradeID, seq, stage, 1),
		TradeID:   tradeID,
		Seq:       seq,
		Stage:     stage,
		Attempt:   1,
		Timestamp: t0.Add(time.Duration(seq) * time.Second),
	}
}

func terminal(tradeID string, seq int) domain.TradeEvent {
	out := uint64(94_100_000)
	req := domain.TradeRequest{InputMint: domain.MintWSOL, OutputMint: domain.MintUSDC, InputAmount: 1_000_000_000, SlippageBps: 100}
	res := domain.Confirmed("sig-"+tradeID, &out)
	res.TradeID = tradeID
	res.Attempts = 1
	res.ExpectedOutput = 95_000_000
	res.MinimumOutput = 94_050_000
	res.CompletedAt = t0.Add(time.Duration(seq) * time.Second)

	ev := event(tradeID, seq, domain.StageConfirmed)
	ev.Signature = res.Signature
	ev.Request = &req
	ev.Result = &res
	return ev
}

func lifecycle(tradeID string) []domain.TradeEvent {
	return []domain.TradeEvent{
		event(tradeID, 1, domain.StageInitiated),
		event(tradeID, 2, domain.StageQuoteReceived),
		event(tradeID, 3, domain.StageSubmitted),
		terminal(tradeID, 4),
	}
}

func TestJournalSink_WritesFinishedTrade(t *testing.T) {
	trades := memory.NewTradeStore()
	sink := NewJournalSink(trades)
	ctx := context.Background()

	for _, ev := range lifecycle("t1") {
		require.NoError(t, sink.Handle(ctx, ev))
	}

	rec, err := trades.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, rec.Outcome)
	assert.Equal(t, t0.Add(time.Second).UnixMilli(), rec.StartedAt)
	assert.Equal(t, t0.Add(4*time.Second).UnixMilli(), rec.CompletedAt)
	assert.Equal(t, uint64(94_050_000), rec.MinimumOutput)

	// redelivery is a no-op
	require.NoError(t, sink.Handle(ctx, terminal("t1", 4)))
}

func TestJournalSink_MissingInitiated(t *testing.T) {
	trades := memory.NewTradeStore()
	sink := NewJournalSink(trades)
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, terminal("t2", 7)))
	rec, err := trades.GetByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, rec.CompletedAt, rec.StartedAt)

	bad := event("t3", 2, domain.StageFailed)
	assert.Error(t, sink.Handle(ctx, bad))
}

func TestStoreSink_FlushesOnTerminalAndBatch(t *testing.T) {
	store := memory.NewEventStore()
	sink := NewStoreSink(store, 3)
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, event("t1", 1, domain.StageInitiated)))
	require.NoError(t, sink.Handle(ctx, event("t1", 2, domain.StageQuoteReceived)))

	got, err := store.GetByTradeID(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got, "below batch size nothing is written")

	require.NoError(t, sink.Handle(ctx, terminal("t1", 3)))
	got, err = store.GetByTradeID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.StageConfirmed, got[2].Stage)

	for seq := 1; seq <= 3; seq++ {
		require.NoError(t, sink.Handle(ctx, event("t2", seq, domain.StageRetry)))
	}
	got, err = store.GetByTradeID(ctx, "t2")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStoreSink_SkipsDuplicates(t *testing.T) {
	store := memory.NewEventStore()
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.TradeEvent{ptr(event("t1", 1, domain.StageInitiated))}))

	sink := NewStoreSink(store, 10)
	require.NoError(t, sink.Handle(ctx, event("t1", 1, domain.StageInitiated)))
	require.NoError(t, sink.Handle(ctx, event("t1", 2, domain.StageValidated)))
	require.NoError(t, sink.Flush(ctx))

	got, err := store.GetByTradeID(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.NoError(t, sink.Flush(ctx), "empty flush")
}

type fakeJetStream struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (f *fakeJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	return &nats.PubAck{Stream: "SWAP_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

func TestNATSSink_Publish(t *testing.T) {
	js := &fakeJetStream{}
	sink := NewNATSSink(js, "", "swap-engine")

	ev := terminal("t1", 4)
	require.NoError(t, sink.Handle(context.Background(), ev))
	require.Len(t, js.msgs, 1)

	msg := js.msgs[0]
	assert.Equal(t, "evt.swap.trade.confirmed", msg.Subject)
	assert.Equal(t, ev.EventID, msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "t1", msg.Header.Get("trade_id"))

	var env map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "CONFIRMED", env["stage"])
	result := env["result"].(map[string]any)
	assert.Equal(t, "94100000", result["output_observed"])
	assert.Equal(t, "94050000", result["minimum_output"])
	request := env["request"].(map[string]any)
	assert.Equal(t, "1000000000", request["input_amount"])

	assert.Equal(t, "custom.timed_out", NewNATSSink(js, "custom", "").Subject(domain.StageTimedOut))

	js.err = errors.New("nats: no responders available for request")
	assert.Error(t, sink.Handle(context.Background(), ev))
}

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Handle(context.Context, domain.TradeEvent) error {
	f.calls++
	return errors.New("sink down")
}

func TestDispatcher_DeliversUntilClosed(t *testing.T) {
	store := memory.NewEventStore()
	metrics := observability.NewMetrics("", nil)
	d := NewDispatcher(NewStoreSink(store, 100), DispatcherOptions{FlushInterval: time.Hour, Metrics: metrics})

	ch := make(chan domain.TradeEvent, 8)
	ch <- event("t1", 1, domain.StageInitiated)
	ch <- event("t1", 2, domain.StageValidated)
	close(ch)

	require.NoError(t, d.Run(context.Background(), ch))

	got, err := store.GetByTradeID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, got, 2, "pending batch is flushed on close")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsDelivered.WithLabelValues("event_store")))
}

func TestDispatcher_SinkErrorsAreCounted(t *testing.T) {
	metrics := observability.NewMetrics("", nil)
	sink := &failingSink{}
	d := NewDispatcher(sink, DispatcherOptions{Metrics: metrics})

	ch := make(chan domain.TradeEvent, 2)
	ch <- event("t1", 1, domain.StageInitiated)
	ch <- event("t1", 2, domain.StageBuilt)
	close(ch)

	require.NoError(t, d.Run(context.Background(), ch))
	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("failing")))
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	trades := memory.NewTradeStore()
	d := NewDispatcher(NewJournalSink(trades), DispatcherOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan domain.TradeEvent)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, ch) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	_, err := trades.GetByID(context.Background(), "t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }

type fakeStreamAdmin struct {
	streams map[string]*nats.StreamConfig
	infoErr error
}

func (f *fakeStreamAdmin) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeStreamAdmin) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func TestEnsureStream(t *testing.T) {
	admin := &fakeStreamAdmin{streams: map[string]*nats.StreamConfig{}}

	require.NoError(t, EnsureStream(admin, "SWAP_TRADES", ""))
	cfg := admin.streams["SWAP_TRADES"]
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"evt.swap.trade.>"}, cfg.Subjects)
	assert.Equal(t, DedupWindow, cfg.Duplicates)

	// existing stream is left alone
	cfg.Subjects = []string{"custom.>"}
	require.NoError(t, EnsureStream(admin, "SWAP_TRADES", ""))
	assert.Equal(t, []string{"custom.>"}, admin.streams["SWAP_TRADES"].Subjects)

	admin.infoErr = errors.New("jetstream not enabled")
	assert.Error(t, EnsureStream(admin, "OTHER", ""))
}
