package eventpublisher_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/eventpublisher"
	"github.com/iho/eventledger/internal/usecase/mocks"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// accountEvents returns n events of one account: the creation plus n-1 deposits.
func accountEvents(t *testing.T, n int) []domain.DomainEvent {
	t.Helper()

	acc, err := domain.NewAccount("acc-1", "ACC-1", "owner-1", "ARS", baseTime)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	for i := 1; i < n; i++ {
		if _, err := acc.Deposit(fmt.Sprintf("tx-%d", i), domain.MustMoney("10", "ARS"), "", baseTime); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}
	return acc.PendingEvents()
}

func outboxRecords(t *testing.T, n int) []*domain.OutboxRecord {
	t.Helper()

	events := accountEvents(t, n)
	records := make([]*domain.OutboxRecord, 0, n)
	for i, evt := range events {
		rec, err := domain.NewOutboxRecord(fmt.Sprintf("out-%d", i+1), evt, baseTime.Add(time.Duration(i)*time.Millisecond))
		if err != nil {
			t.Fatalf("NewOutboxRecord: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func seededOutbox(t *testing.T, records ...*domain.OutboxRecord) *mocks.MockOutboxRepository {
	t.Helper()

	repo := mocks.NewMockOutboxRepository()
	for _, rec := range records {
		if err := repo.Enqueue(context.Background(), nil, rec); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	return repo
}

// recordingPublisher fails for the outbox ids in failFor and records the rest.
type recordingPublisher struct {
	mu        sync.Mutex
	published []eventpublisher.Message
	failFor   map[string]error
	panicFor  map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg eventpublisher.Message) error {
	id := msg.Headers[eventpublisher.HeaderOutboxID]
	if p.panicFor[id] {
		panic("publisher exploded")
	}
	if err, ok := p.failFor[id]; ok {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.published))
	for _, msg := range p.published {
		ids = append(ids, msg.Headers[eventpublisher.HeaderOutboxID])
	}
	return ids
}

// blockingPublisher signals entered and waits for release on every call.
type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ eventpublisher.Message) error {
	p.entered <- struct{}{}
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingPublisher) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-p.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was never called")
	}
}

var errBusDown = fmt.Errorf("%w: connection refused", domain.ErrMessageBusUnavailable)

