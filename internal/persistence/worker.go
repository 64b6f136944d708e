package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"liqengine/internal/engine"
	"liqengine/internal/observability"
)

// HistoryWorker drains the results channel and batch-writes liquidation
// history to Postgres. Sends into the channel BLOCK, so a worker that
// falls behind backpressures the producers; no result is ever dropped.
type HistoryWorker struct {
	writer       *HistoryWriter
	input        <-chan engine.Result
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewHistoryWorker(
	db *sql.DB,
	input <-chan engine.Result,
	batchSize int,
	flushTimeout time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *HistoryWorker {
	return &HistoryWorker{
		writer:       NewHistoryWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run batches incoming results and flushes when the batch fills or the
// flush timeout fires. Blocks until ctx is cancelled or the channel closes.
func (w *HistoryWorker) Run(ctx context.Context) error {
	batch := make([]HistoryRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// Final flush gets a fresh context; the batch must land.
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("final history flush failed")
				}
			}
			return ctx.Err()

		case res, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("rows", len(batch)).Msg("final history flush failed")
					}
				}
				return nil
			}

			batch = append(batch, RowFromResult(res))
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write lands
// or the context is cancelled. On cancellation it makes one last attempt
// with a background context so the batch is not lost on shutdown.
func (w *HistoryWorker) flushWithRetry(ctx context.Context, rows []HistoryRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(rows)).
				Msg("history flush retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), rows); err != nil {
					w.log.Error().Err(err).Int("rows", len(rows)).Msg("shutdown flush failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, rows); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("history flush recovered")
			}
			return
		}
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *HistoryWorker) flush(ctx context.Context, rows []HistoryRow) error {
	start := time.Now()

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchSeconds.Observe(time.Since(start).Seconds())
		w.metrics.ResultsPersisted.Add(float64(len(rows)))
	}
	return nil
}
