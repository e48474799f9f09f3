package eventpublisher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/eventpublisher"
	epmocks "github.com/iho/eventledger/internal/infrastructure/eventpublisher/mocks"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

func newDispatcher(store eventpublisher.Store, pub eventpublisher.Publisher, clock *fakeClock, cfg eventpublisher.Config, opts ...eventpublisher.Option) *eventpublisher.Dispatcher {
	opts = append([]eventpublisher.Option{eventpublisher.WithClock(clock.Now)}, opts...)
	return eventpublisher.NewDispatcher(store, pub, eventpublisher.DefaultRegistry(), cfg, opts...)
}

func TestDispatcherPublishesAndMarksAllPending(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 3)...)
	pub := &recordingPublisher{}
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{})

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, eventpublisher.Summary{Fetched: 3, Published: 3}, summary)
	assert.Equal(t, []string{"out-1", "out-2", "out-3"}, pub.ids(), "oldest first")

	pending, err := repo.FetchPending(context.Background(), 100, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)

	for _, rec := range repo.All() {
		require.NotNil(t, rec.ProcessedAt)
		assert.Nil(t, rec.LastError)
		assert.Equal(t, 1, rec.Attempts)
	}

	first := pub.published[0]
	assert.Equal(t, eventpublisher.TopicAccounts, first.Topic)
	assert.Equal(t, "acc-1", first.Key)
	assert.Equal(t, "ledger.account_created.v1", first.Type)
	assert.Equal(t, "1", first.Headers[eventpublisher.HeaderAggregateVersion])
	assert.NotEmpty(t, first.Headers[eventpublisher.HeaderEventID])
	assert.Equal(t, eventpublisher.TopicTransactions, pub.published[1].Topic)

	summary, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Fetched)
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 3)...)
	pub := &recordingPublisher{
		failFor:  map[string]error{"out-2": errBusDown},
		panicFor: map[string]bool{"out-3": true},
	}
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{BaseBackoff: time.Second, MaxBackoff: time.Minute})

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 2, summary.Retried)

	failed, _ := repo.Get("out-2")
	assert.Nil(t, failed.ProcessedAt)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "message bus unavailable")
	require.NotNil(t, failed.NextAttemptAt)
	assert.WithinDuration(t, clock.Now().Add(time.Second), *failed.NextAttemptAt, time.Millisecond)

	panicked, _ := repo.Get("out-3")
	assert.Nil(t, panicked.ProcessedAt)
	require.NotNil(t, panicked.LastError)
	assert.Contains(t, *panicked.LastError, "panic")
}

func TestDispatcherRetriesWithBackoffThenDeadLetters(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 1)...)
	pub := &recordingPublisher{failFor: map[string]error{"out-1": errBusDown}}
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(reg)
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}, eventpublisher.WithMetrics(m))

	wantDelays := []time.Duration{time.Second, 2 * time.Second}
	for i, delay := range wantDelays {
		summary, err := d.RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, summary.Retried, "cycle %d", i+1)

		rec, _ := repo.Get("out-1")
		require.NotNil(t, rec.NextAttemptAt)
		assert.WithinDuration(t, clock.Now().Add(delay), *rec.NextAttemptAt, time.Millisecond, "cycle %d", i+1)

		// Not due yet.
		summary, err = d.RunOnce(context.Background())
		require.NoError(t, err)
		require.Zero(t, summary.Fetched)

		clock.Advance(delay + time.Millisecond)
	}

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DeadLettered)
	assert.Zero(t, summary.Poisoned)

	rec, _ := repo.Get("out-1")
	require.NotNil(t, rec.ProcessedAt)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, 3, rec.Attempts)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutboxRetried.WithLabelValues("ledger.account_created.v1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxDeadLettered.WithLabelValues(eventpublisher.ReasonMaxAttempts)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.OutboxBacklog))
}

func TestDispatcherSingleAttemptPolicy(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 2)...)
	pub := &recordingPublisher{failFor: map[string]error{"out-1": errBusDown}}
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{MaxAttempts: 1})

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, summary.DeadLettered)

	rec, _ := repo.Get("out-1")
	require.NotNil(t, rec.ProcessedAt, "failed record is marked processed")
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "connection refused")

	ok, _ := repo.Get("out-2")
	require.NotNil(t, ok.ProcessedAt)
	assert.Nil(t, ok.LastError)
}

func TestDispatcherPoisonsUndecodableRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newFakeClock()

	records := outboxRecords(t, 1)
	unknown := &domain.OutboxRecord{ID: "out-unknown", MessageType: "ledger.account_renamed.v1", Payload: []byte(`{}`), CreatedAt: baseTime}
	corrupt := &domain.OutboxRecord{ID: "out-corrupt", MessageType: "ledger.money_deposited.v1", Payload: []byte(`{not json`), CreatedAt: baseTime}
	repo := seededOutbox(t, unknown, corrupt, records[0])

	pub := epmocks.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg eventpublisher.Message) error {
			assert.Equal(t, "out-1", msg.Headers[eventpublisher.HeaderOutboxID])
			return nil
		}).Times(1)

	d := newDispatcher(repo, pub, clock, eventpublisher.Config{})
	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, eventpublisher.Summary{Fetched: 3, Published: 1, DeadLettered: 2, Poisoned: 2}, summary)

	for _, id := range []string{"out-unknown", "out-corrupt"} {
		rec, _ := repo.Get(id)
		require.NotNil(t, rec.ProcessedAt, id)
		require.NotNil(t, rec.LastError, id)
		assert.Equal(t, 1, rec.Attempts, id)
	}
	rec, _ := repo.Get("out-unknown")
	assert.Contains(t, *rec.LastError, domain.ErrUnknownMessageType.Error())
}

func TestDispatcherKeepsBatchPendingWhenMarkFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newFakeClock()
	records := outboxRecords(t, 2)

	store := epmocks.NewMockStore(ctrl)
	store.EXPECT().FetchPending(gomock.Any(), 20, clock.Now()).Return(records, nil)
	store.EXPECT().ApplyResults(gomock.Any(), gomock.Len(2)).Return(domain.ErrPersistenceUnavailable)

	pub := &recordingPublisher{}
	d := newDispatcher(store, pub, clock, eventpublisher.Config{})

	summary, err := d.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Equal(t, 2, summary.Published)
}

func TestDispatcherFetchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newFakeClock()

	store := epmocks.NewMockStore(ctrl)
	store.EXPECT().FetchPending(gomock.Any(), 5, gomock.Any()).Return(nil, domain.ErrPersistenceUnavailable)

	d := newDispatcher(store, epmocks.NewMockPublisher(ctrl), clock, eventpublisher.Config{BatchSize: 5})
	_, err := d.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}

func TestDispatcherCyclesNeverOverlap(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 1)...)
	pub := newBlockingPublisher()
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{})

	done := make(chan error, 1)
	go func() {
		_, err := d.RunOnce(context.Background())
		done <- err
	}()
	pub.waitEntered(t)

	_, err := d.RunOnce(context.Background())
	require.ErrorIs(t, err, eventpublisher.ErrCycleInProgress)

	close(pub.release)
	require.NoError(t, <-done)

	rec, _ := repo.Get("out-1")
	assert.NotNil(t, rec.ProcessedAt)
}

func TestDispatcherStartFinishesInFlightBatchOnCancel(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 1)...)
	pub := newBlockingPublisher()
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	pub.waitEntered(t)
	cancel()
	close(pub.release)

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}

	rec, _ := repo.Get("out-1")
	require.NotNil(t, rec.ProcessedAt, "in-flight record is still marked")
	assert.Nil(t, rec.LastError)
}

func TestDispatcherStartStopsOnContextCancellation(t *testing.T) {
	clock := newFakeClock()
	d := newDispatcher(seededOutbox(t), &recordingPublisher{}, clock, eventpublisher.Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestDispatcherRunOnceCanceledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDispatcher(epmocks.NewMockStore(ctrl), epmocks.NewMockPublisher(ctrl), newFakeClock(), eventpublisher.Config{})
	_, err := d.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatcherRateCapDefersWithoutChargingAttempts(t *testing.T) {
	clock := newFakeClock()
	repo := seededOutbox(t, outboxRecords(t, 3)...)
	pub := &recordingPublisher{}
	d := newDispatcher(repo, pub, clock, eventpublisher.Config{
		MaxAttempts:    1,
		PublishRate:    0.001,
		PublishBurst:   1,
		PublishTimeout: 50 * time.Millisecond,
	})

	summary, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, eventpublisher.Summary{Fetched: 3, Published: 1, Deferred: 2}, summary)
	assert.Equal(t, []string{"out-1"}, pub.ids())

	for _, id := range []string{"out-2", "out-3"} {
		rec, ok := repo.Get(id)
		require.True(t, ok)
		assert.Nil(t, rec.ProcessedAt, id)
		assert.Nil(t, rec.LastError, id)
		assert.Zero(t, rec.Attempts, id)
	}

	pending, err := repo.FetchPending(context.Background(), 10, clock.Now())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "out-2", pending[0].ID)

	// Still over budget: the next cycle defers everything and writes nothing.
	summary, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, eventpublisher.Summary{Fetched: 2, Deferred: 2}, summary)
	assert.Equal(t, []string{"out-1"}, pub.ids())
}
