package suggest

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/observability"
)

const (
	// maxAttempts bounds how often one row's computation is retried before
	// the failure is recorded as terminal.
	maxAttempts = 3
	// retryBase is the first retry delay; each further attempt doubles it.
	retryBase = 60 * time.Second
)

// Queue is the persistence surface the worker needs beyond the Computer's.
type Queue interface {
	PendingWithoutSuggestions(ctx context.Context) ([]domain.UnmatchedLocation, error)
	SaveSuggestionsError(ctx context.Context, id int64, msg string) error
}

type job struct {
	id    int64
	force bool
}

// Worker processes suggestion computations in the background so match
// failures never block the pipeline's consume loop.
type Worker struct {
	computer *Computer
	queue    Queue
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	jobs     chan job
}

// NewWorker creates a Worker with a buffered queue of the given size.
func NewWorker(computer *Computer, queue Queue, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		computer: computer,
		queue:    queue,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		jobs:     make(chan job, queueSize),
	}
}

// Enqueue schedules one row for computation. It never blocks: when the queue
// is full the job is dropped and false returned, a later maintenance pass
// will pick the row up again.
func (w *Worker) Enqueue(id int64, force bool) bool {
	select {
	case w.jobs <- job{id: id, force: force}:
		return true
	default:
		w.logger.Warn("suggestion queue full, dropping job", "id", id)
		return false
	}
}

// EnqueueAllPending schedules every pending row that has no computed
// suggestions yet. Returns the number actually enqueued.
func (w *Worker) EnqueueAllPending(ctx context.Context) (int, error) {
	pending, err := w.queue.PendingWithoutSuggestions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range pending {
		if !w.Enqueue(u.ID, false) {
			break
		}
		n++
	}
	return n, nil
}

// Run processes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("suggestion worker started", "queue_size", cap(w.jobs))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("suggestion worker stopping", "reason", ctx.Err())
			return nil
		case j := <-w.jobs:
			w.process(ctx, j)
		}
	}
}

// process runs one job with bounded retries. A terminal failure is written
// back to the row instead of surfacing, so one poisoned name cannot wedge
// the worker.
func (w *Worker) process(ctx context.Context, j job) {
	delay := retryBase
	for attempt := 1; ; attempt++ {
		_, err := w.computer.Compute(ctx, j.id, j.force)
		if err == nil {
			w.metrics.SuggestionComputations.WithLabelValues("success").Inc()
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= maxAttempts {
			w.metrics.SuggestionComputations.WithLabelValues("failure").Inc()
			w.logger.Error("suggestion computation failed permanently",
				"id", j.id, "attempts", attempt, "error", err)
			if saveErr := w.queue.SaveSuggestionsError(ctx, j.id, err.Error()); saveErr != nil {
				w.logger.Error("recording suggestion failure failed", "id", j.id, "error", saveErr)
			}
			return
		}

		w.metrics.SuggestionComputations.WithLabelValues("retry").Inc()
		w.logger.Warn("suggestion computation failed, retrying",
			"id", j.id, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(delay):
		}
		delay *= 2
	}
}
