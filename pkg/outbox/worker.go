package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/veridian-labs/claimgate/pkg/observability"
)

// Dispatcher delivers one intent to its collaborator. Implementations must
// be idempotent: the worker guarantees at-least-once delivery, not
// exactly-once.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent Intent) error
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, intent Intent) error

func (f DispatchFunc) Dispatch(ctx context.Context, intent Intent) error { return f(ctx, intent) }

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 32
	defaultMaxAttempts  = 8
)

// Worker drains the outbox.
type Worker struct {
	store       Store
	dispatcher  Dispatcher
	logger      *slog.Logger
	metrics     *observability.Provider
	interval    time.Duration
	batchSize   int
	maxAttempts int
	clock       func() time.Time
}

// NewWorker wires a worker to a store and dispatcher.
func NewWorker(store Store, dispatcher Dispatcher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       store,
		dispatcher:  dispatcher,
		logger:      logger,
		interval:    defaultPollInterval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		clock:       time.Now,
	}
}

// WithInterval overrides the poll interval.
func (w *Worker) WithInterval(d time.Duration) *Worker {
	w.interval = d
	return w
}

// WithMetrics attaches the gateway's metric instruments.
func (w *Worker) WithMetrics(p *observability.Provider) *Worker {
	w.metrics = p
	return w
}

// WithMaxAttempts overrides the attempt budget before an intent is parked.
func (w *Worker) WithMaxAttempts(n int) *Worker {
	w.maxAttempts = n
	return w
}

// WithClock overrides the time source for deterministic tests.
func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.DrainOnce(ctx); err != nil {
				w.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce processes one batch of due intents and returns the number
// delivered.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	now := w.clock()
	due, err := w.store.Due(ctx, now, w.batchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, intent := range due {
		if err := w.dispatcher.Dispatch(ctx, intent); err != nil {
			attempts := intent.Attempts + 1
			if attempts >= w.maxAttempts {
				w.logger.Error("outbox intent parked",
					"intent", intent.ID, "kind", intent.Kind, "attempts", attempts, "error", err)
				w.recordDispatch(ctx, intent.Kind, "parked")
				if merr := w.store.MarkFailed(ctx, intent.ID, err.Error()); merr != nil {
					return delivered, merr
				}
				continue
			}
			next := now.Add(NextDelay(intent.ID, attempts))
			w.logger.Warn("outbox dispatch failed, retrying",
				"intent", intent.ID, "kind", intent.Kind, "attempts", attempts, "next", next, "error", err)
			w.recordDispatch(ctx, intent.Kind, "retry")
			if merr := w.store.MarkRetry(ctx, intent.ID, attempts, err.Error(), next); merr != nil {
				return delivered, merr
			}
			continue
		}
		if err := w.store.MarkDone(ctx, intent.ID); err != nil {
			return delivered, err
		}
		w.recordDispatch(ctx, intent.Kind, "done")
		delivered++
	}
	return delivered, nil
}

func (w *Worker) recordDispatch(ctx context.Context, kind Kind, result string) {
	if w.metrics != nil {
		w.metrics.RecordDispatch(ctx, string(kind), result)
	}
}
