package eventpublisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

// ErrCycleInProgress is returned by RunOnce while another cycle is running.
var ErrCycleInProgress = errors.New("dispatch cycle already in progress")

// Dead-letter reasons.
const (
	ReasonUnknownType = "unknown_type"
	ReasonDecode      = "decode"
	ReasonMaxAttempts = "max_attempts"
)

// Config for Dispatcher.
type Config struct {
	Interval  time.Duration // Polling interval
	BatchSize int           // Number of records to fetch per cycle
	// MaxAttempts is the number of publish attempts before a record is
	// dead-lettered. 1 marks a record processed after its first failure.
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	Jitter         float64 // backoff randomization factor, 0 for fixed delays
	PublishTimeout time.Duration
	StoreTimeout   time.Duration
	// PublishRate caps messages per second across cycles. 0 means unlimited.
	PublishRate  float64
	PublishBurst int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.PublishRate > 0 && c.PublishBurst <= 0 {
		c.PublishBurst = 1
	}
	return c
}

// Summary counts the outcomes of one cycle.
type Summary struct {
	Fetched      int
	Published    int
	Retried      int
	DeadLettered int
	Poisoned     int
	// Deferred records were held back by the publish rate cap and stay
	// pending untouched.
	Deferred     int
}

// Dispatcher drains the outbox to a Publisher.
type Dispatcher struct {
	store     Store
	publisher Publisher
	registry  *Registry
	cfg       Config

	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	limiter *rate.Limiter

	running sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store Store, publisher Publisher, registry *Registry, cfg Config, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	d := &Dispatcher{
		store:     store,
		publisher: publisher,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	if d.cfg.PublishRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(d.cfg.PublishRate), d.cfg.PublishBurst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs a cycle immediately and then on every tick until ctx is done.
// A cycle in flight when ctx is canceled runs to completion.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info().
		Int("batch_size", d.cfg.BatchSize).
		Int("max_attempts", d.cfg.MaxAttempts).
		Dur("interval", d.cfg.Interval).
		Msg("outbox dispatcher started")

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	summary, err := d.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		d.logger.Debug().Msg("previous dispatch cycle still running, skipping")
	case err != nil:
		d.logger.Error().Err(err).Msg("dispatch cycle failed")
	case summary.Fetched > 0:
		d.logger.Info().
			Int("fetched", summary.Fetched).
			Int("published", summary.Published).
			Int("retried", summary.Retried).
			Int("dead_lettered", summary.DeadLettered).
			Msg("dispatch cycle completed")
	}
}

// RunOnce fetches one batch, publishes it and persists every outcome in a
// single store write. Cycles never overlap.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	if !d.running.TryLock() {
		return Summary{}, ErrCycleInProgress
	}
	defer d.running.Unlock()

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	batchCtx := context.WithoutCancel(ctx)

	fetchCtx, cancel := context.WithTimeout(batchCtx, d.cfg.StoreTimeout)
	records, err := d.store.FetchPending(fetchCtx, d.cfg.BatchSize, d.now())
	cancel()
	if err != nil {
		d.observeCycle("error", start)
		return Summary{}, fmt.Errorf("fetch pending: %w", err)
	}

	summary := Summary{Fetched: len(records)}
	if len(records) == 0 {
		d.observeCycle("empty", start)
		d.updateBacklog(batchCtx)
		return summary, nil
	}

	results := make([]domain.DispatchResult, 0, len(records))
	for i, rec := range records {
		if !d.throttle() {
			summary.Deferred = len(records) - i
			d.logger.Debug().
				Int("deferred", summary.Deferred).
				Msg("publish rate cap reached, deferring rest of batch")
			break
		}
		result, reason := d.dispatch(batchCtx, rec)
		results = append(results, result)
		d.count(&summary, rec, result, reason)
	}

	if len(results) == 0 {
		d.observeCycle("ok", start)
		return summary, nil
	}

	applyCtx, cancel := context.WithTimeout(batchCtx, d.cfg.StoreTimeout)
	err = d.store.ApplyResults(applyCtx, results)
	cancel()
	if err != nil {
		// Nothing was marked; the batch is delivered again next cycle.
		d.observeCycle("error", start)
		return summary, fmt.Errorf("apply results: %w", err)
	}

	d.observeCycle("ok", start)
	d.updateBacklog(batchCtx)
	return summary, nil
}

// dispatch publishes one record and returns its mark-update. reason is set
// when the record was dead-lettered.
func (d *Dispatcher) dispatch(ctx context.Context, rec *domain.OutboxRecord) (result domain.DispatchResult, reason string) {
	attempts := rec.Attempts + 1

	defer func() {
		if p := recover(); p != nil {
			result, reason = d.failed(rec, attempts, fmt.Errorf("panic while publishing: %v", p))
		}
	}()

	route, err := d.registry.Resolve(rec.MessageType)
	if err != nil {
		return d.poisoned(rec, attempts, ReasonUnknownType, err)
	}

	msg, err := route.message(rec)
	if err != nil {
		return d.poisoned(rec, attempts, ReasonDecode, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	err = d.publisher.Publish(pubCtx, msg)
	cancel()
	if err != nil {
		return d.failed(rec, attempts, err)
	}

	now := d.now()
	return domain.DispatchResult{
		RecordID:    rec.ID,
		Status:      domain.DispatchStatusPublished,
		Attempts:    attempts,
		ProcessedAt: &now,
	}, ""
}

// throttle blocks until the publish rate cap admits one more message. It
// reports false without consuming a token when the wait would exceed
// PublishTimeout; the record is then left for a later cycle and its attempts
// are not charged.
func (d *Dispatcher) throttle() bool {
	if d.limiter == nil {
		return true
	}
	r := d.limiter.Reserve()
	if !r.OK() {
		return false
	}
	delay := r.Delay()
	if delay > d.cfg.PublishTimeout {
		r.Cancel()
		return false
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return true
}

func (d *Dispatcher) poisoned(rec *domain.OutboxRecord, attempts int, reason string, err error) (domain.DispatchResult, string) {
	d.logger.Error().
		Err(err).
		Str("record_id", rec.ID).
		Str("message_type", rec.MessageType).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("outbox record cannot be dispatched, dead-lettering")

	return d.deadLetter(rec, attempts, err), reason
}

func (d *Dispatcher) failed(rec *domain.OutboxRecord, attempts int, err error) (domain.DispatchResult, string) {
	if attempts >= d.cfg.MaxAttempts {
		d.logger.Error().
			Err(err).
			Str("record_id", rec.ID).
			Str("message_type", rec.MessageType).
			Int("attempts", attempts).
			Msg("publish failed, attempts exhausted")
		return d.deadLetter(rec, attempts, err), ReasonMaxAttempts
	}

	next := d.now().Add(d.retryDelay(attempts))
	msg := err.Error()
	d.logger.Warn().
		Err(err).
		Str("record_id", rec.ID).
		Str("message_type", rec.MessageType).
		Int("attempts", attempts).
		Time("next_attempt_at", next).
		Msg("publish failed, retry scheduled")

	return domain.DispatchResult{
		RecordID:      rec.ID,
		Status:        domain.DispatchStatusRetry,
		Attempts:      attempts,
		NextAttemptAt: &next,
		LastError:     &msg,
	}, ""
}

func (d *Dispatcher) deadLetter(rec *domain.OutboxRecord, attempts int, err error) domain.DispatchResult {
	now := d.now()
	msg := err.Error()
	return domain.DispatchResult{
		RecordID:    rec.ID,
		Status:      domain.DispatchStatusDeadLettered,
		Attempts:    attempts,
		ProcessedAt: &now,
		LastError:   &msg,
	}
}

// retryDelay is BaseBackoff doubled per failed attempt, capped at MaxBackoff.
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.BaseBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = d.cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.InitialInterval
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (d *Dispatcher) count(summary *Summary, rec *domain.OutboxRecord, result domain.DispatchResult, reason string) {
	switch result.Status {
	case domain.DispatchStatusPublished:
		summary.Published++
	case domain.DispatchStatusRetry:
		summary.Retried++
	case domain.DispatchStatusDeadLettered:
		summary.DeadLettered++
		if reason == ReasonUnknownType || reason == ReasonDecode {
			summary.Poisoned++
		}
	}

	if d.metrics == nil {
		return
	}
	switch result.Status {
	case domain.DispatchStatusPublished:
		d.metrics.OutboxPublished.WithLabelValues(rec.MessageType).Inc()
	case domain.DispatchStatusRetry:
		d.metrics.OutboxRetried.WithLabelValues(rec.MessageType).Inc()
	case domain.DispatchStatusDeadLettered:
		d.metrics.OutboxDeadLettered.WithLabelValues(reason).Inc()
	}
}

func (d *Dispatcher) observeCycle(outcome string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.DispatchCycles.WithLabelValues(outcome).Inc()
	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) updateBacklog(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	countCtx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()

	pending, err := d.store.CountPending(countCtx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to count pending outbox records")
		return
	}
	d.metrics.OutboxBacklog.Set(float64(pending))
}
