package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
)

func newAccountUseCase(f *ledgerFixture) (*usecase.AccountUseCase, *metrics.Metrics) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	return usecase.NewAccountUseCase(f.store, f.views, f.cache, time.Minute, m, zerolog.Nop()), m
}

func TestAccountUseCase_GetAccountReadThrough(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")
	f.deposit(t, acc.ID, "25")

	uc, m := newAccountUseCase(f)

	first, err := uc.GetAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !first.Balance.Equal(domain.MustMoney("25", "ARS")) {
		t.Fatalf("unexpected balance %s", first.Balance)
	}

	second, err := uc.GetAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if second.Version != first.Version {
		t.Fatalf("cached view differs: %+v vs %+v", second, first)
	}

	if hits := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); hits != 1 {
		t.Fatalf("expected one cache hit, got %v", hits)
	}

	if _, err := uc.GetAccount(ctx, "missing"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountUseCase_ListAccounts(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	f.open(t, "ARS")
	f.open(t, "USD")

	uc, _ := newAccountUseCase(f)

	views, err := uc.ListAccounts(ctx, usecase.ListAccountsInput{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(views))
	}

	views, err = uc.ListAccounts(ctx, usecase.ListAccountsInput{OwnerID: "owner-1", Limit: 1, Offset: 1})
	if err != nil || len(views) != 1 {
		t.Fatalf("expected one paged account, got %d (%v)", len(views), err)
	}

	if _, err := uc.ListAccounts(ctx, usecase.ListAccountsInput{}); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestAccountUseCase_HistoryAndEvents(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()
	acc := f.open(t, "ARS")
	f.deposit(t, acc.ID, "10")
	f.deposit(t, acc.ID, "5")

	uc, _ := newAccountUseCase(f)

	history, err := uc.History(ctx, acc.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || !history[1].BalanceAfter.Equal(domain.MustMoney("15", "ARS")) {
		t.Fatalf("unexpected history %+v", history)
	}

	events, err := uc.Events(ctx, acc.ID, 1)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].Version != 2 {
		t.Fatalf("expected events after version 1, got %+v", events)
	}

	if _, err := uc.History(ctx, "missing"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := uc.Events(ctx, "missing", 0); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
