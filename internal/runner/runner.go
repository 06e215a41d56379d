// Package runner executes a batch of queued items over a fixed worker pool.
// Items are dispatched in input order; an active rate-limit cooldown pauses
// all new dispatch until it elapses, and a single item's failure never aborts
// the rest of the batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"reel/internal/config"
	"reel/internal/fallback"
	"reel/internal/logging"
	"reel/internal/queue"
	"reel/internal/services"
)

// CancelledReason is the error message recorded on items that never ran
// because the batch was cancelled.
const CancelledReason = "cancelled"

// Processor runs the configured operations for one item. *pipeline.Pipeline
// is the production implementation.
type Processor interface {
	Process(ctx context.Context, item *queue.Item) error
	MergeTranscripts(items []*queue.Item) (string, error)
}

// ItemResult is the per-item outcome reported in the batch summary.
type ItemResult struct {
	Item     *queue.Item
	Status   queue.Status
	Kind     services.Kind
	Reason   string
	Attempts int
}

// Summary describes a finished batch: one entry per input item, in input
// order, plus the unified transcript path when one was produced.
type Summary struct {
	BatchID     string
	Results     []ItemResult
	UnifiedPath string
	Started     time.Time
	Finished    time.Time
}

// Succeeded counts items that reached done.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == queue.StatusDone {
			n++
		}
	}
	return n
}

// Failed counts items that ended up failed.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// Runner drives a batch through the processor with bounded concurrency.
type Runner struct {
	cfg     *config.Config
	store   *queue.Store
	proc    Processor
	limiter *fallback.Limiter
	logger  *slog.Logger

	now        func() time.Time
	sleepUntil func(ctx context.Context, until time.Time) error
	dispatched func(item *queue.Item, at time.Time)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock overrides the runner's clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSleeper overrides how the runner waits out rate-limit cooldowns.
func WithSleeper(sleep func(ctx context.Context, until time.Time) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleepUntil = sleep
		}
	}
}

// WithDispatchHook installs a callback invoked each time a worker starts an
// item, after the cooldown barrier has cleared. Used by tests and tracing.
func WithDispatchHook(hook func(item *queue.Item, at time.Time)) Option {
	return func(r *Runner) { r.dispatched = hook }
}

// New builds a Runner. The limiter must be the same instance the processor's
// fallback chains signal, otherwise the dispatch barrier never engages.
func New(cfg *config.Config, store *queue.Store, proc Processor, limiter *fallback.Limiter, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner: config is required")
	}
	if proc == nil {
		return nil, errors.New("runner: processor is required")
	}
	if limiter == nil {
		return nil, errors.New("runner: rate limiter is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:     cfg,
		store:   store,
		proc:    proc,
		limiter: limiter,
		logger:  logging.WithComponent(logger, "runner"),
		now:     time.Now,
	}
	r.sleepUntil = r.defaultSleep
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run processes the given items and returns a summary with one entry per
// input item, in input order. The returned error is non-nil only for batch
// level failures (nil item slice is not one: it yields an empty summary).
func (r *Runner) Run(ctx context.Context, items []*queue.Item) (*Summary, error) {
	summary := &Summary{
		BatchID: uuid.NewString(),
		Results: make([]ItemResult, len(items)),
		Started: r.now(),
	}
	if len(items) == 0 {
		summary.Finished = r.now()
		return summary, nil
	}

	for _, item := range items {
		item.BatchID = summary.BatchID
		r.persist(ctx, item)
	}

	workers := r.cfg.Batch.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	r.logger.Info("batch started",
		logging.String(logging.FieldBatchID, summary.BatchID),
		logging.Int("items", len(items)),
		logging.Int("workers", workers))

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// The handoff itself can race a rate-limit signal: the
				// dispatcher checks the barrier, then parks on the send
				// while a worker fails with RateLimited and frees up.
				// Re-checking here, on the slot that actually starts the
				// item, is what makes the barrier airtight.
				if err := r.awaitCooldown(ctx); err != nil {
					return
				}
				if r.dispatched != nil {
					r.dispatched(items[idx], r.now())
				}
				summary.Results[idx] = r.processItem(ctx, items[idx])
			}
		}()
	}

	r.dispatch(ctx, items, jobs)
	wg.Wait()

	// Items never handed to a worker (cancellation cut dispatch short) go
	// straight to failed without running.
	for i, item := range items {
		if summary.Results[i].Item != nil {
			continue
		}
		item.SetFailed(string(services.KindCancelled), CancelledReason)
		r.persist(context.WithoutCancel(ctx), item)
		summary.Results[i] = ItemResult{
			Item:     item,
			Status:   queue.StatusFailed,
			Kind:     services.KindCancelled,
			Reason:   CancelledReason,
			Attempts: item.Attempts,
		}
	}

	if r.cfg.Transcribe.Unified {
		done := make([]*queue.Item, 0, len(items))
		for _, res := range summary.Results {
			if res.Status == queue.StatusDone && res.Item.HasOperation(queue.OpTranscribe) {
				done = append(done, res.Item)
			}
		}
		if len(done) > 0 {
			path, err := r.proc.MergeTranscripts(done)
			if err != nil {
				r.logger.Warn("unified transcript failed", logging.Error(err))
			} else {
				summary.UnifiedPath = path
			}
		}
	}

	summary.Finished = r.now()
	r.logger.Info("batch finished",
		logging.String(logging.FieldBatchID, summary.BatchID),
		logging.Int("succeeded", summary.Succeeded()),
		logging.Int("failed", summary.Failed()))
	return summary, nil
}

// dispatch feeds item indices to workers in input order. It waits out any
// active cooldown before each send so items are not queued up against a
// declared pause; the receiving worker re-checks the barrier before starting.
// Cancellation stops dispatch and leaves the remaining items untouched for
// the caller to mark.
func (r *Runner) dispatch(ctx context.Context, items []*queue.Item, jobs chan<- int) {
	defer close(jobs)
	for i := range items {
		if err := r.awaitCooldown(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

// awaitCooldown blocks until no service-wide cooldown is active. It re-checks
// after each wait because new signals can land while sleeping.
func (r *Runner) awaitCooldown(ctx context.Context) error {
	for {
		until, active := r.limiter.NextCooldownEnd()
		if !active {
			return nil
		}
		r.logger.Warn("rate limit cooldown active, pausing dispatch",
			logging.Time("resume_at", until))
		if err := r.sleepUntil(ctx, until); err != nil {
			return err
		}
	}
}

func (r *Runner) defaultSleep(ctx context.Context, until time.Time) error {
	d := until.Sub(r.now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// processItem runs one item to a terminal status. Transient and exhausted
// failures are retried up to batch.max_attempts via the retrying status;
// rate-limited, auth-required and cancelled failures are terminal.
func (r *Runner) processItem(ctx context.Context, item *queue.Item) ItemResult {
	log := r.logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldRequestID, uuid.NewString()))
	maxAttempts := r.cfg.Batch.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	r.transition(ctx, item, queue.StatusRunning)

	for {
		item.Attempts++
		r.persist(ctx, item)

		err := r.proc.Process(ctx, item)
		if err == nil {
			r.transition(ctx, item, queue.StatusDone)
			log.Info("item done", logging.Int("attempts", item.Attempts))
			return ItemResult{
				Item:     item,
				Status:   queue.StatusDone,
				Attempts: item.Attempts,
			}
		}

		kind := services.Classify(err)
		if services.Retryable(err) && item.Attempts < maxAttempts {
			log.Warn("item attempt failed, retrying",
				logging.String(logging.FieldErrorKind, string(kind)),
				logging.Int("attempt", item.Attempts),
				logging.Error(err))
			r.transition(ctx, item, queue.StatusRetrying)
			r.transition(ctx, item, queue.StatusRunning)
			continue
		}

		reason := services.Reason(err)
		if kind == services.KindCancelled {
			reason = CancelledReason
			r.removePartialOutputs(item)
		}
		item.SetFailed(string(kind), reason)
		r.persist(context.WithoutCancel(ctx), item)
		log.Error("item failed",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Int("attempts", item.Attempts),
			logging.Error(err))
		return ItemResult{
			Item:     item,
			Status:   queue.StatusFailed,
			Kind:     kind,
			Reason:   reason,
			Attempts: item.Attempts,
		}
	}
}

// removePartialOutputs drops artifacts a cancelled item produced mid-run so
// reruns start clean.
func (r *Runner) removePartialOutputs(item *queue.Item) {
	for _, path := range item.PartialArtifacts() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("could not remove partial output",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String("path", path),
				logging.Error(err))
		}
	}
}

func (r *Runner) transition(ctx context.Context, item *queue.Item, to queue.Status) {
	if r.store == nil {
		item.Status = to
		return
	}
	if err := r.store.Transition(ctx, item, to); err != nil {
		r.logger.Warn("queue transition failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStatus, string(to)),
			logging.Error(err))
		item.Status = to
		return
	}
	r.logger.Debug("status transition",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldStatus, string(to)))
}

func (r *Runner) persist(ctx context.Context, item *queue.Item) {
	if r.store == nil {
		return
	}
	if err := r.store.Update(ctx, item); err != nil {
		r.logger.Warn("queue update failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.Error(err))
	}
}

// FormatResult renders a one-line human summary for an item result.
func FormatResult(res ItemResult) string {
	if res.Status == queue.StatusDone {
		return fmt.Sprintf("done (%d attempt(s))", res.Attempts)
	}
	return fmt.Sprintf("failed: %s (%s)", res.Reason, res.Kind)
}
