package queue

import (
	"context"
	"sync"
	"time"

	"github.com/chainvrf/vrf-relay/internal/config"
	"github.com/chainvrf/vrf-relay/internal/oracle"
	"github.com/chainvrf/vrf-relay/internal/pkg/apperrors"
	"github.com/chainvrf/vrf-relay/internal/pkg/logger"
	"github.com/chainvrf/vrf-relay/internal/pkg/metrics"
	"github.com/chainvrf/vrf-relay/internal/relayer"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Processor is the control loop described in spec.md §4.7: it polls the
// Store for pending rows, decides batch vs single vs wait, acquires a
// relayer account, builds fulfillment calldata, and updates the Store per
// the outcome.
type Processor struct {
	store   *Store
	relayer *relayer.Pool
	builder *oracle.Builder
	cfg     config.BatchConfig

	sem  *semaphore.Weighted
	iter int

	// wg tracks batches currently executing in runOneCycle, so Shutdown can
	// wait for them to drain without forcibly cancelling them.
	wg sync.WaitGroup
}

func NewProcessor(store *Store, pool *relayer.Pool, builder *oracle.Builder, cfg config.BatchConfig) *Processor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Processor{
		store:   store,
		relayer: pool,
		builder: builder,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Run loops until ctx is cancelled. Each iteration that finds dequeuable
// work spawns it under the processor's concurrency semaphore and returns
// immediately to poll again, so up to max_concurrent_batches batches are
// in flight at once (spec.md §4.7).
//
// ctx only governs the poll loop itself: cancelling it stops new cycles from
// starting, but every already-spawned runOneCycle keeps running against its
// own detached context (spec.md §5 "in-flight batches ... are not forcibly
// cancelled"). Call Shutdown after cancelling ctx to wait for them to drain.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.iter++
		if p.cfg.ReclaimEvery > 0 && p.iter%p.cfg.ReclaimEvery == 0 {
			p.reclaim(ctx)
		}

		batchSize, ok := p.decideBatchSize(ctx)
		if !ok {
			continue
		}

		if !p.sem.TryAcquire(1) {
			continue
		}
		p.wg.Add(1)
		go func() {
			defer p.sem.Release(1)
			defer p.wg.Done()
			p.runOneCycle(context.Background(), batchSize)
		}()
	}
}

// Shutdown waits up to gracePeriod for every in-flight runOneCycle spawned by
// Run to finish on its own. It never cancels them: a batch still running
// when gracePeriod elapses is left to complete in the background, and its
// rows stay in "processing" for the next process's reclaim_stuck pass to
// pick up (spec.md §5).
func (p *Processor) Shutdown(gracePeriod time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		logger.Warn("shutdown grace period elapsed with batches still in flight, exiting without waiting further")
	}
}

func (p *Processor) reclaim(ctx context.Context) {
	n, err := p.store.ReclaimStuck(ctx, p.cfg.ReclaimThreshold)
	if err != nil {
		logger.LogError(ctx, err, "failed to reclaim stuck rows")
		return
	}
	if n > 0 {
		metrics.StuckReclaimedTotal.Add(float64(n))
		logger.Info("reclaimed stuck rows", "count", n)
	}
}

// decideBatchSize implements spec.md §4.7 step 4: use the configured batch
// size once depth reaches it, otherwise drain whatever is pending once the
// oldest row has waited past the partial-batch timeout, otherwise wait.
func (p *Processor) decideBatchSize(ctx context.Context) (int, bool) {
	depth, err := p.store.PendingDepth(ctx)
	if err != nil {
		logger.LogError(ctx, err, "failed to read pending depth")
		return 0, false
	}
	metrics.PendingRequests.Set(float64(depth))
	if depth == 0 {
		return 0, false
	}
	if depth >= p.cfg.Size {
		return p.cfg.Size, true
	}

	age, hasPending, err := p.store.OldestPendingAge(ctx)
	if err != nil {
		logger.LogError(ctx, err, "failed to read oldest pending age")
		return 0, false
	}
	if hasPending && age >= p.cfg.PartialTimeout {
		return depth, true
	}
	return 0, false
}

// runOneCycle executes spec.md §4.7 steps 5-10 for one batch (or, with no
// batch-capable account configured, the deprecated single-request
// fallback).
func (p *Processor) runOneCycle(ctx context.Context, batchSize int) {
	start := time.Now()

	if p.relayer.AnyBatchCapable() {
		p.runBatchCycle(ctx, batchSize, start)
		return
	}
	p.runSingleCycle(ctx, batchSize, start)
}

func (p *Processor) runBatchCycle(ctx context.Context, batchSize int, start time.Time) {
	batchID := uuid.NewString()
	log := logger.With("batch_id", batchID)

	handle, err := p.relayer.NextAvailableBatch(ctx)
	if err != nil {
		metrics.RelayerSkipsTotal.WithLabelValues("all_busy").Inc()
		return
	}

	rows, err := p.store.Dequeue(ctx, batchSize)
	if err != nil {
		logger.LogError(ctx, err, "dequeue failed")
		return
	}
	if len(rows) == 0 {
		return
	}
	log.Info("batch dequeued", "account", handle.Address(), "size", len(rows))

	calls, requestIDs, err := p.buildCalls(rows)
	if err != nil {
		p.failRows(ctx, requestIDs, err)
		return
	}

	if _, err := p.relayer.SubmitBatch(ctx, handle, calls); err != nil {
		log.Error("batch submission failed", "error", err)
		p.handleBatchFailure(ctx, requestIDs, err)
		return
	}

	if err := p.store.MarkBatchFulfilled(ctx, requestIDs); err != nil {
		logger.LogError(ctx, err, "failed to mark batch fulfilled", "count", len(requestIDs))
		return
	}
	metrics.FulfilledTotal.Add(float64(len(requestIDs)))
	metrics.BatchFulfilledTotal.Inc()
	metrics.BatchSize.Observe(float64(len(rows)))
	metrics.FulfillmentLatency.Observe(time.Since(start).Seconds())
	log.Info("batch fulfilled")
}

// runSingleCycle is the deprecated fallback path used when no account has
// been delegated a batch executor yet (spec.md §4.7).
func (p *Processor) runSingleCycle(ctx context.Context, batchSize int, start time.Time) {
	handle, err := p.relayer.NextAvailable(ctx)
	if err != nil {
		metrics.RelayerSkipsTotal.WithLabelValues("all_busy").Inc()
		return
	}

	rows, err := p.store.Dequeue(ctx, 1)
	if err != nil {
		logger.LogError(ctx, err, "dequeue failed")
		return
	}
	if len(rows) == 0 {
		return
	}
	row := rows[0]

	reqID, err := oracle.ParseRequestID(row.RequestID)
	if err != nil {
		_ = p.store.MarkFailed(ctx, row.RequestID, err.Error())
		metrics.FailedTotal.Inc()
		return
	}
	call, _, err := p.builder.BuildSingle(reqID)
	if err != nil {
		_ = p.store.MarkFailed(ctx, row.RequestID, err.Error())
		metrics.FailedTotal.Inc()
		return
	}

	if _, err := p.relayer.Submit(ctx, handle, call); err != nil {
		p.handleSingleFailure(ctx, row.RequestID, err)
		return
	}
	if err := p.store.MarkFulfilled(ctx, row.RequestID); err != nil {
		logger.LogError(ctx, err, "failed to mark row fulfilled", "request_id", row.RequestID)
		return
	}
	metrics.FulfilledTotal.Inc()
	_ = batchSize // batch_size is ignored on the single-request fallback; always dequeues 1
	metrics.FulfillmentLatency.Observe(time.Since(start).Seconds())
}

func (p *Processor) buildCalls(rows []Request) ([]oracle.Call, []string, error) {
	requestIDs := make([]string, len(rows))
	var calls []oracle.Call
	for i, row := range rows {
		requestIDs[i] = row.RequestID
		reqID, err := oracle.ParseRequestID(row.RequestID)
		if err != nil {
			return nil, requestIDs, err
		}
		call, _, err := p.builder.BuildSingle(reqID)
		if err != nil {
			return nil, requestIDs, err
		}
		calls = append(calls, call)
	}
	return calls, requestIDs, nil
}

func (p *Processor) failRows(ctx context.Context, requestIDs []string, cause error) {
	if err := p.store.MarkBatchFailed(ctx, requestIDs, cause.Error()); err != nil {
		logger.LogError(ctx, err, "failed to mark batch failed after build error")
	}
	metrics.BatchFailedTotal.Inc()
}

// handleBatchFailure sends the whole batch back through MarkBatchFailed. The
// executor reverts the entire batch when any one call reverts, so an
// already-fulfilled revert only proves a row fulfilled when it is the batch's
// only row.
func (p *Processor) handleBatchFailure(ctx context.Context, requestIDs []string, cause error) {
	if appErr, ok := apperrors.As(cause); ok && appErr.Type == apperrors.ErrAlreadyFulfilled && len(requestIDs) == 1 {
		if err := p.store.MarkBatchFulfilled(ctx, requestIDs); err != nil {
			logger.LogError(ctx, err, "failed to mark already-fulfilled batch")
		}
		return
	}
	if err := p.store.MarkBatchFailed(ctx, requestIDs, cause.Error()); err != nil {
		logger.LogError(ctx, err, "failed to mark batch failed")
	}
	metrics.BatchFailedTotal.Inc()
}

func (p *Processor) handleSingleFailure(ctx context.Context, requestID string, cause error) {
	if appErr, ok := apperrors.As(cause); ok && appErr.Type == apperrors.ErrAlreadyFulfilled {
		if err := p.store.MarkFulfilled(ctx, requestID); err != nil {
			logger.LogError(ctx, err, "failed to mark already-fulfilled row")
		}
		return
	}
	if appErr, ok := apperrors.As(cause); ok && appErr.Type == apperrors.ErrUnknownRequest {
		// Terminal after one attempt: the contract has no record of the request.
		if _, err := p.store.db.ExecContext(ctx, `
			UPDATE vrf_requests
			SET status = 'failed', retry_count = retry_count + 1, last_error = $2
			WHERE request_id = $1
		`, requestID, cause.Error()); err != nil {
			logger.LogError(ctx, err, "failed to mark unknown request failed")
		}
		metrics.FailedTotal.Inc()
		return
	}
	if err := p.store.MarkFailed(ctx, requestID, cause.Error()); err != nil {
		logger.LogError(ctx, err, "failed to mark row failed")
	}
	metrics.FailedTotal.Inc()
}
