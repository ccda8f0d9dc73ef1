package bridge

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/MarcoBrian/RailBridge/internal/audit"
	"github.com/MarcoBrian/RailBridge/internal/metrics"
	"github.com/MarcoBrian/RailBridge/mechanisms/evm"
	"github.com/google/uuid"
)

// WorkerConfig tunes retry/backoff/recovery behavior.
type WorkerConfig struct {
	MaxAttempts              int
	RetryBaseIntervalSeconds int64 // linear backoff baseline: attempt * this
	StaleJobThresholdSeconds int64
	ConfirmationTimeout      time.Duration
	PollInterval             time.Duration
}

// DefaultWorkerConfig matches §4.8's stated defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxAttempts:              3,
		RetryBaseIntervalSeconds: 1,
		StaleJobThresholdSeconds: 300,
		ConfirmationTimeout:      120 * time.Second,
		PollInterval:             10 * time.Second,
	}
}

// ReceiptWaiter is the subset of FacilitatorEvmSigner the worker needs to
// confirm a source-chain transaction before bridging.
type ReceiptWaiter interface {
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error)
}

// Worker is the durable background executor (C8): it owns the
// pending->bridging->{completed,failed} state machine, linear-backoff
// retries, and a periodic recovery scan for stuck jobs.
type Worker struct {
	store    Store
	provider Provider
	waiters  map[string]ReceiptWaiter // source network -> receipt waiter
	config   WorkerConfig
	logger   *slog.Logger
	audit    *audit.Recorder
	metrics  *metrics.Metrics // optional; nil disables bridge-job instrumentation

	inFlight sync.Map // idempotencyKey -> struct{}, claim-token style single-flight guard

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorker constructs a Worker. waiters lets the worker confirm source-tx
// receipts per network without depending on the full FacilitatorEvmSigner
// interface (keeping this package's chain surface minimal, per C1's own
// minimality goal). m may be nil, in which case bridge-job metrics are
// skipped.
func NewWorker(store Store, provider Provider, waiters map[string]ReceiptWaiter, config WorkerConfig, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    store,
		provider: provider,
		waiters:  waiters,
		config:   config,
		logger:   logger,
		audit:    audit.NewRecorder(logger),
		metrics:  m,
		stop:     make(chan struct{}),
	}
}

func (w *Worker) recordTerminal(job *Job) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordBridgeJobTerminal(job.SourceNetwork, job.DestinationNetwork, string(job.Status), time.Since(job.CreatedAt))
}

// Start launches the recovery-scan ticker. Call Stop during shutdown.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.recoveryLoop(ctx)
}

// Stop signals the recovery loop to exit and waits for it.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

// Enqueue implements §4.8's enqueue path: idempotent job creation followed
// by asynchronous processing. Safe to call from the orchestrator's
// after-settle hook — it never blocks on bridge completion.
func (w *Worker) Enqueue(ctx context.Context, req EnqueueRequest) {
	key := IdempotencyKeyFor(req.SourceNetwork, req.SourceTxHash, req.DestinationNetwork)

	existing, err := w.store.GetByIdempotencyKey(ctx, key)
	if err == nil && existing != nil {
		w.logger.Info("bridge job already enqueued", "idempotencyKey", key, "jobId", existing.ID)
		return
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		w.logger.Error("bridge enqueue lookup failed", "idempotencyKey", key, "error", err)
		return
	}

	now := time.Now()
	job := &Job{
		ID:                 uuid.NewString(),
		IdempotencyKey:     key,
		SourceNetwork:      req.SourceNetwork,
		DestinationNetwork: req.DestinationNetwork,
		SourceTxHash:       req.SourceTxHash,
		Amount:             req.Amount,
		DestinationAsset:   req.DestinationAsset,
		DestinationPayTo:   req.DestinationPayTo,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := w.store.Create(ctx, job); err != nil {
		if errors.Is(err, ErrConflict) {
			return // lost the race to another enqueue call; idempotent no-op
		}
		w.logger.Error("bridge job create failed", "idempotencyKey", key, "error", err)
		return
	}

	w.audit.Record(audit.EventBridgeStart, job.ID, key, job.SourceTxHash, job.SourceNetwork, job.DestinationNetwork, job.Amount, 0, w.config.MaxAttempts, nil)
	if w.metrics != nil {
		w.metrics.RecordBridgeJobStart()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.process(context.Background(), job)
	}()
}

// process drives one job through bridging to a terminal state, retrying
// transient failures per §4.8 step 5.
func (w *Worker) process(ctx context.Context, job *Job) {
	if _, loaded := w.inFlight.LoadOrStore(job.IdempotencyKey, struct{}{}); loaded {
		return // another goroutine already holds this key
	}
	defer w.inFlight.Delete(job.IdempotencyKey)

	if job.Status == StatusPending {
		job.Status = StatusBridging
		if err := w.store.Update(ctx, job); err != nil {
			w.logger.Error("bridge transition to bridging failed", "jobId", job.ID, "error", err)
			return
		}
	}

	for job.Attempts < w.config.MaxAttempts {
		job.Attempts++
		w.audit.Record(audit.EventBridgeAttempt, job.ID, job.IdempotencyKey, job.SourceTxHash, job.SourceNetwork, job.DestinationNetwork, job.Amount, job.Attempts, w.config.MaxAttempts, nil)

		if err := w.attemptOnce(ctx, job); err != nil {
			if isPermanent(err) {
				job.Status = StatusFailed
				job.LastError = err.Error()
				_ = w.store.Update(ctx, job)
				w.audit.Record(audit.EventBridgeFailure, job.ID, job.IdempotencyKey, job.SourceTxHash, job.SourceNetwork, job.DestinationNetwork, job.Amount, job.Attempts, w.config.MaxAttempts,
					map[string]any{"error": err.Error(), "recoverability": "permanent"})
				w.recordTerminal(job)
				return
			}

			job.LastError = err.Error()
			_ = w.store.Update(ctx, job)
			w.audit.Record(audit.EventBridgeFailure, job.ID, job.IdempotencyKey, job.SourceTxHash, job.SourceNetwork, job.DestinationNetwork, job.Amount, job.Attempts, w.config.MaxAttempts,
				map[string]any{"error": err.Error(), "recoverability": "transient"})

			if job.Attempts >= w.config.MaxAttempts {
				job.Status = StatusFailed
				_ = w.store.Update(ctx, job)
				w.recordTerminal(job)
				return
			}

			backoff := time.Duration(job.Attempts*int(w.config.RetryBaseIntervalSeconds)) * time.Second
			backoff += time.Duration(rand.Intn(250)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		job.Status = StatusCompleted
		_ = w.store.Update(ctx, job)
		w.audit.Record(audit.EventBridgeSuccess, job.ID, job.IdempotencyKey, job.SourceTxHash, job.SourceNetwork, job.DestinationNetwork, job.Amount, job.Attempts, w.config.MaxAttempts,
			map[string]any{"bridgeTxHash": job.BridgeTxHash, "destinationTxHash": job.DestinationTxHash})
		w.recordTerminal(job)
		return
	}
}

// permanentError wraps a classification decision so isPermanent can switch
// on it without string-matching business logic scattered across callers.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"insufficient balance", "recoverability=fatal", "fatal"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// attemptOnce drives a job one step further: submitting the source-chain
// burn if it hasn't happened yet, then reconciling the destination-chain
// mint. The burn is only ever submitted once per job (guarded by
// job.BridgeTxHash) so a retried attempt after a pending-mint result never
// double-burns; only the mint reconciliation re-runs on retry.
func (w *Worker) attemptOnce(ctx context.Context, job *Job) error {
	if job.BridgeTxHash == "" {
		waiter, ok := w.waiters[job.SourceNetwork]
		if !ok {
			return &permanentError{errors.New("no receipt waiter configured for source network " + job.SourceNetwork)}
		}

		confirmCtx, cancel := context.WithTimeout(ctx, w.config.ConfirmationTimeout)
		receipt, err := waiter.WaitForTransactionReceipt(confirmCtx, job.SourceTxHash)
		cancel()
		if err != nil {
			return err // transient: gateway timeout / failed to fetch
		}
		if receipt.Status != evm.TxStatusSuccess {
			return &permanentError{errors.New("source transaction reverted")}
		}

		result, err := w.provider.Bridge(ctx, job.SourceNetwork, job.SourceTxHash, job.DestinationNetwork,
			job.DestinationAsset, job.Amount, job.DestinationPayTo)
		if err != nil {
			var partial *PartialBridgeError
			if errors.As(err, &partial) {
				// The burn was actually submitted; record it (and the
				// message id a mint reconciliation will key off of, which
				// BurnAndMintProvider always derives from the burn's own
				// tx hash) so a retry never resubmits depositForBurn.
				job.BridgeTxHash = partial.BridgeTxHash
				job.MessageID = partial.BridgeTxHash
				if uerr := w.store.Update(ctx, job); uerr != nil {
					w.logger.Error("bridge job update after partial burn failed", "jobId", job.ID, "error", uerr)
				}
			}
			return err
		}

		job.BridgeTxHash = result.BridgeTxHash
		job.MessageID = result.MessageID
		if err := w.store.Update(ctx, job); err != nil {
			w.logger.Error("bridge job update after burn failed", "jobId", job.ID, "error", err)
		}
	}

	return w.reconcileMint(ctx, job)
}

// reconcileMint polls the destination chain for the mint triggered by
// job.MessageID until it lands or this attempt's confirmation budget runs
// out. It never marks the job complete itself (I4) — it only sets
// DestinationTxHash once the provider reports done, leaving process() to
// transition the job to StatusCompleted. A timed-out poll returns a
// transient error so process()'s retry/backoff loop calls attemptOnce
// again; since BridgeTxHash is already set by then, the retry skips
// straight back into this poll instead of re-submitting the burn.
func (w *Worker) reconcileMint(ctx context.Context, job *Job) error {
	deadline := time.Now().Add(w.config.ConfirmationTimeout)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		destTxHash, done, err := w.provider.CheckMintStatus(ctx, job.DestinationNetwork, job.MessageID)
		if err != nil {
			return err
		}
		if done {
			job.DestinationTxHash = destTxHash
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("mint not yet confirmed by destination chain")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// recoveryLoop periodically re-processes pending/bridging jobs that have
// been stuck past the staleness threshold, covering a worker restart
// mid-flight.
func (w *Worker) recoveryLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.recoverOnce(ctx)
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) recoverOnce(ctx context.Context) {
	stale, err := w.store.ListStale(ctx, w.config.StaleJobThresholdSeconds)
	if err != nil {
		w.logger.Error("bridge recovery scan failed", "error", err)
		return
	}
	for _, job := range stale {
		w.logger.Info("bridge job recovered from stale scan", "jobId", job.ID, "status", job.Status)
		j := job
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.process(ctx, j)
		}()
	}
}

// Cancel implements the admin cancellation operation: only pending jobs
// may be cancelled; bridging jobs are rejected since the source burn may
// already have occurred.
func (w *Worker) Cancel(ctx context.Context, jobID string) error {
	job, err := w.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusPending {
		return errors.New("bridge: only pending jobs may be cancelled")
	}
	job.Status = StatusCancelled
	if err := w.store.Update(ctx, job); err != nil {
		return err
	}
	w.recordTerminal(job)
	return nil
}
