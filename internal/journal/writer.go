package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rickgao/alert-feed/internal/router"
)

// EnsureSchema creates the journal table if missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return goerr.Wrap(err, "create journal schema", goerr.V("table", Table))
	}
	return nil
}

// Writer consumes router records and copies them into the journal table.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	input  *router.Queue[router.Record]
	db     DB

	batch   []router.Record
	batchMu sync.Mutex
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a journal writer.
func NewWriter(cfg Config, input *router.Queue[router.Record], db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "journal"),
		input:  input,
		db:     db,
		batch:  make([]router.Record, 0, cfg.BatchSize),
	}
}

// Start begins consuming records.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains what is queued, flushes and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	for _, rec := range w.input.DrainTo(0) {
		w.add(rec)
	}
	w.flush(ctx)

	m := w.Stats()
	w.logger.Info("journal writer stopped", "inserted", m.Inserted, "errors", m.Errors)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves records from the queue into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		rec, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		if w.add(rec) {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends a record and reports whether the batch is full.
func (w *Writer) add(rec router.Record) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, rec)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush copies the current batch into the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]router.Record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	// The final flush in Stop runs after w.ctx is canceled.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	n, err := w.db.CopyFrom(ctx, pgx.Identifier{Table}, Columns, pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
		return row(batch[i]), nil
	}))
	if err != nil {
		w.logger.Error("journal copy failed", "count", len(batch), "error", err)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.metrics.Dropped += int64(len(batch))
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserted += n
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal", "count", n, "duration", time.Since(start))
}

// row converts a record to copy values in Columns order.
func row(rec router.Record) []any {
	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return []any{rec.AlertID, rec.Kind.String(), rec.Topic, rec.ReceivedAt, payload}
}
