package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultCacheTTL is how long account views stay in the read cache.
	DefaultCacheTTL = 5 * time.Minute

	// AccountNumberPrefix prefixes generated account numbers.
	AccountNumberPrefix = "ACC-"

	accountCacheKeyPrefix = "account:"
)

// AccountCacheKey returns the cache key of an account view.
func AccountCacheKey(id string) string {
	return accountCacheKeyPrefix + id
}
