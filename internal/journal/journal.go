// Package journal buffers invocation outcomes and flushes them to the
// database in batches.
package journal

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"appbridge/internal/bridge"
	"appbridge/internal/database"
	"appbridge/internal/metrics"
	"appbridge/internal/shared"

	"go.uber.org/zap"
)

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	RetryDelay    time.Duration
}

// Journal implements bridge.Observer. A nil *Journal drops everything.
type Journal struct {
	mu      sync.Mutex
	records []database.Invocation
	timer   *time.Timer
	closed  bool

	inflight sync.WaitGroup
	flushMu  sync.Mutex

	db  *sql.DB
	log *zap.SugaredLogger
	cfg Config
}

func New(db *sql.DB, log *zap.SugaredLogger, cfg Config) *Journal {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = shared.JournalBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = shared.JournalFlushInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = shared.JournalRetryDelay
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Journal{db: db, log: log, cfg: cfg}
}

func (j *Journal) Observe(_ context.Context, o bridge.Outcome) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.records = append(j.records, database.Invocation{
		RequestID:  o.RequestID,
		Method:     o.Method,
		Path:       o.Path,
		StatusCode: o.StatusCode,
		BodyBytes:  o.BodyBytes,
		Duration:   o.Duration,
		Failed:     o.Failed,
		Phase:      o.Phase,
		CreatedAt:  o.CreatedAt,
	})

	// Case full batch, flush right away
	if len(j.records) >= j.cfg.BatchSize {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
		j.goFlush()
		return
	}

	// Case fresh batch, register a timed flush
	if j.timer == nil {
		var t *time.Timer
		t = time.AfterFunc(j.cfg.FlushInterval, func() {
			j.timedFlush(t)
		})
		j.timer = t
	}
}

// timedFlush runs when t fires. A full batch may already have replaced t with
// a newer timer, which must stay reachable for Shutdown.
func (j *Journal) timedFlush(t *time.Timer) {
	j.mu.Lock()
	if j.timer == t {
		j.timer = nil
	}
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return
	}
	_ = j.Flush(context.Background())
}

// goFlush must be called with j.mu held.
func (j *Journal) goFlush() {
	j.inflight.Add(1)
	go func() {
		defer j.inflight.Done()
		_ = j.Flush(context.Background())
	}()
}

func (j *Journal) Pending() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Flush writes every buffered record. Failed batches are retried
// shared.MaxFlushRetries times and then dropped.
func (j *Journal) Flush(ctx context.Context) error {
	if j == nil {
		return nil
	}
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	batch := j.records
	j.records = nil
	j.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	var err error
	for attempt := range shared.MaxFlushRetries {
		err = database.ExecuteTransaction(ctx, j.db, []func(*sql.Tx) error{
			func(tx *sql.Tx) error {
				return database.SaveInvocations(ctx, tx, batch)
			},
		})
		if err == nil {
			metrics.JournalFlushes.WithLabelValues("success").Inc()
			j.log.Debugw("Flushed journal", "records", len(batch))
			return nil
		}
		j.log.Warnw("Failed to flush journal", "error", err, "attempt", attempt+1)
		if attempt+1 < shared.MaxFlushRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(j.cfg.RetryDelay):
			}
		}
	}
	metrics.JournalFlushes.WithLabelValues("dropped").Inc()
	j.log.Errorw("Dropping journal batch", "error", err, "records", len(batch))
	return err
}

// Shutdown stops accepting records, waits for running flushes and flushes
// what is left.
func (j *Journal) Shutdown(ctx context.Context) error {
	if j == nil {
		return nil
	}
	j.log.Info("Shutting down journal")
	j.mu.Lock()
	j.closed = true
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.mu.Unlock()
	j.inflight.Wait()
	return j.Flush(ctx)
}
