package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

// AccountUseCase serves account read paths.
type AccountUseCase struct {
	eventStore EventStore
	viewRepo   AccountViewRepository
	cache      Cache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewAccountUseCase creates a new AccountUseCase. cache and m may be nil.
func NewAccountUseCase(
	eventStore EventStore,
	viewRepo AccountViewRepository,
	cache Cache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *AccountUseCase {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &AccountUseCase{
		eventStore: eventStore,
		viewRepo:   viewRepo,
		cache:      cache,
		cacheTTL:   cacheTTL,
		metrics:    m,
		logger:     logger,
	}
}

// GetAccount returns the materialized view of an account, consulting the cache first.
func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*domain.AccountView, error) {
	if view, ok := uc.cached(ctx, id); ok {
		return view, nil
	}

	view, err := uc.viewRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	uc.store(ctx, view)
	return view, nil
}

// ListAccountsInput represents input for listing accounts.
type ListAccountsInput struct {
	OwnerID string
	Limit   int
	Offset  int
}

// ListAccounts lists an owner's accounts with pagination.
func (uc *AccountUseCase) ListAccounts(ctx context.Context, input ListAccountsInput) ([]*domain.AccountView, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidOperation)
	}
	limit, offset := domain.ValidatePagination(input.Limit, input.Offset)
	return uc.viewRepo.ListByOwner(ctx, input.OwnerID, limit, offset)
}

// History returns the account's transactions in the order they happened.
func (uc *AccountUseCase) History(ctx context.Context, id string) ([]domain.Transaction, error) {
	events, err := uc.eventStore.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	account, err := domain.ReplayAccount(events)
	if err != nil {
		return nil, err
	}
	return account.Transactions, nil
}

// Events returns the account's event stream after afterVersion.
func (uc *AccountUseCase) Events(ctx context.Context, id string, afterVersion int64) ([]domain.DomainEvent, error) {
	events, err := uc.eventStore.LoadFrom(ctx, id, afterVersion)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && afterVersion == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return events, nil
}

func (uc *AccountUseCase) cached(ctx context.Context, id string) (*domain.AccountView, bool) {
	if uc.cache == nil {
		return nil, false
	}

	data, err := uc.cache.Get(ctx, AccountCacheKey(id))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			uc.logger.Warn().Err(err).Str("account_id", id).Msg("account cache read failed")
		}
		uc.countLookup("miss")
		return nil, false
	}

	var view domain.AccountView
	if err := json.Unmarshal(data, &view); err != nil {
		uc.logger.Warn().Err(err).Str("account_id", id).Msg("discarding undecodable cache entry")
		uc.countLookup("miss")
		return nil, false
	}

	uc.countLookup("hit")
	return &view, true
}

func (uc *AccountUseCase) store(ctx context.Context, view *domain.AccountView) {
	if uc.cache == nil {
		return
	}

	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := uc.cache.Set(ctx, AccountCacheKey(view.ID), data, uc.cacheTTL); err != nil {
		uc.logger.Warn().Err(err).Str("account_id", view.ID).Msg("account cache write failed")
	}
}

func (uc *AccountUseCase) countLookup(result string) {
	if uc.metrics != nil {
		uc.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
