package replication

import (
	"context"
	"time"

	"studyhall/internal/metrics"
	"studyhall/internal/tracing"

	"github.com/rs/zerolog/log"
)

// Worker defaults
const (
	DefaultInterval    = 5 * time.Second
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 10
)

// Worker drains an Outbox into a Remote
type Worker struct {
	outbox      Outbox
	remote      Remote
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// WorkerOptions tunes a Worker. Zero values select the defaults.
type WorkerOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// NewWorker creates a replication worker
func NewWorker(outbox Outbox, remote Remote, opts WorkerOptions) *Worker {
	w := &Worker{
		outbox:      outbox,
		remote:      remote,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = DefaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = DefaultMaxAttempts
	}
	return w
}

// Run drains the outbox every interval until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Dur("interval", w.interval).Msg("replication: worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("replication: drain failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("replication: worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain pushes one batch of pending changes and returns how many were applied.
// A change that keeps failing is dropped after the maximum attempts.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	changes, err := w.outbox.Pending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, c := range changes {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}

		if err := w.apply(ctx, c); err != nil {
			c.Attempts++
			c.LastError = err.Error()

			if c.Attempts >= w.maxAttempts {
				metrics.ReplicationChangesTotal.WithLabelValues("dropped").Inc()
				log.Error().Err(err).
					Uint64("seq", c.Seq).
					Str("collection", c.Collection).
					Str("key", c.Key).
					Int("attempts", c.Attempts).
					Msg("replication: giving up on change")
				if err := w.outbox.Ack(ctx, c.Seq); err != nil {
					return applied, err
				}
				continue
			}

			metrics.ReplicationChangesTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Uint64("seq", c.Seq).
				Str("collection", c.Collection).
				Int("attempts", c.Attempts).
				Msg("replication: change failed, will retry")
			if err := w.outbox.Retry(ctx, c); err != nil {
				return applied, err
			}
			// Keep ordering per key: stop the batch at the first failure.
			break
		}

		if err := w.outbox.Ack(ctx, c.Seq); err != nil {
			return applied, err
		}
		metrics.ReplicationChangesTotal.WithLabelValues("applied").Inc()
		applied++
	}

	if depth, err := w.outbox.Depth(ctx); err == nil {
		metrics.ReplicationOutboxDepth.Set(float64(depth))
	}

	return applied, nil
}

func (w *Worker) apply(ctx context.Context, c Change) (err error) {
	ctx, span := tracing.ReplicationSpan(ctx, c.Collection, string(c.Op))
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()
	return w.remote.Apply(ctx, c)
}
