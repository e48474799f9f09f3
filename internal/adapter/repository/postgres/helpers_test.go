package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/eventledger/internal/domain"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestAccount opens an account and deposits amount, leaving two pending events.
func newTestAccount(t *testing.T, id, amount string) *domain.Account {
	t.Helper()

	acc, err := domain.NewAccount(id, "ACC-"+id, "owner-1", "ARS", testNow)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if _, err := acc.Deposit("tx-"+id, domain.MustMoney(amount, "ARS"), "salary", testNow); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	return acc
}

func eventRow(t *testing.T, evt domain.DomainEvent) []any {
	t.Helper()

	rec, err := domain.EncodeEvent(evt)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	return []any{
		rec.ID,
		rec.AggregateID,
		domain.AggregateTypeAccount,
		rec.Version,
		rec.EventType,
		rec.Payload,
		pgtype.Timestamptz{Time: rec.OccurredAt, Valid: true},
	}
}

var eventColumns = []string{"id", "aggregate_id", "aggregate_type", "version", "event_type", "payload", "occurred_at"}
