package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fraudwatch-sync/internal/metrics"
	"github.com/rickgao/fraudwatch-sync/internal/model"
)

// ErrBufferFull is returned when the writer cannot keep up.
var ErrBufferFull = errors.New("archive buffer full")

const insertSQL = `
	INSERT INTO live_events (event_id, card_id, merchant_id, amount, currency, score, risk_level, reasons, event_ts, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (event_id) DO NOTHING
`

// BatchSender sends a pgx batch. *pgxpool.Pool implements it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before flushing
	BufferSize    int           // Events queued ahead of the writer
	RecentIDs     int           // Event IDs remembered to skip replays; <= 0 disables
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
		RecentIDs:     4096,
	}
}

// Stats tracks writer activity.
type Stats struct {
	Received   int64
	Dropped    int64
	Duplicates int64 // Skipped as recently written
	Inserts    int64
	Conflicts  int64
	Errors     int64
	Flushes    int64
}

// Writer batches live events into the live_events table.
type Writer struct {
	cfg     Config
	db      BatchSender
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	input  chan model.LiveEvent
	batch  []eventRow                  // owned by run
	recent *lru.Cache[int64, struct{}] // nil when RecentIDs <= 0

	statsMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// eventRow is one live_events row.
type eventRow struct {
	EventID    int64
	CardID     string
	MerchantID string
	Amount     float64
	Currency   string
	Score      float64
	RiskLevel  string
	Reasons    []byte
	EventTs    *time.Time
	ReceivedAt time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the clock driving the flush interval.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Writer) {
		w.clock = clock
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(met *metrics.Metrics) Option {
	return func(w *Writer) {
		w.metrics = met
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a Writer. Events handed in before Start are queued.
func NewWriter(cfg Config, db BatchSender, opts ...Option) *Writer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	w := &Writer{
		cfg:   cfg,
		db:    db,
		input: make(chan model.LiveEvent, cfg.BufferSize),
		batch: make([]eventRow, 0, cfg.BatchSize),
	}
	if cfg.RecentIDs > 0 {
		w.recent, _ = lru.New[int64, struct{}](cfg.RecentIDs)
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.metrics == nil {
		w.metrics = metrics.New(nil)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// HandleLiveEvent queues ev without blocking.
func (w *Writer) HandleLiveEvent(ev model.LiveEvent) error {
	select {
	case w.input <- ev:
		w.statsMu.Lock()
		w.stats.Received++
		w.statsMu.Unlock()
		return nil
	default:
		w.statsMu.Lock()
		w.stats.Dropped++
		w.statsMu.Unlock()
		return ErrBufferFull
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop flushes what is queued and shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

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
		w.logger.Info("archive writer stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-w.input:
			w.add(ev)
		case <-ticker.Chan():
			w.flush(ctx)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain writes everything still queued using a fresh context, since the
// run context is already cancelled.
func (w *Writer) drain() {
	for {
		select {
		case ev := <-w.input:
			if !w.seen(ev.ID) {
				w.batch = append(w.batch, w.transform(ev))
			}
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for len(w.batch) > 0 {
				n := min(len(w.batch), w.cfg.BatchSize)
				rows := w.batch[:n]
				w.batch = w.batch[n:]
				w.write(ctx, rows)
			}
			return
		}
	}
}

func (w *Writer) add(ev model.LiveEvent) {
	if w.seen(ev.ID) {
		return
	}
	w.batch = append(w.batch, w.transform(ev))
	if len(w.batch) >= w.cfg.BatchSize {
		w.flush(context.Background())
	}
}

// seen records id and reports whether it was already written recently.
func (w *Writer) seen(id int64) bool {
	if w.recent == nil {
		return false
	}
	if ok, _ := w.recent.ContainsOrAdd(id, struct{}{}); !ok {
		return false
	}
	w.statsMu.Lock()
	w.stats.Duplicates++
	w.statsMu.Unlock()
	return true
}

// transform converts a LiveEvent to an eventRow.
func (w *Writer) transform(ev model.LiveEvent) eventRow {
	reasons := ev.Reasons
	if reasons == nil {
		reasons = []model.Reason{}
	}
	data, _ := json.Marshal(reasons)

	row := eventRow{
		EventID:    ev.ID,
		CardID:     ev.CardID,
		MerchantID: ev.MerchantID,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		Score:      ev.Score,
		RiskLevel:  model.RiskLevel(ev.Score),
		Reasons:    data,
		ReceivedAt: w.clock.Now().UTC(),
	}
	if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp.UTC()
		row.EventTs = &ts
	}
	return row
}

// flush writes the current batch.
func (w *Writer) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}

	// Take ownership of current batch
	rows := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)

	w.write(ctx, rows)
}

func (w *Writer) write(ctx context.Context, rows []eventRow) {
	start := w.clock.Now()

	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.metrics.ArchiveErrors.Inc()
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		// Forget the rows so a replay can write them.
		if w.recent != nil {
			for _, r := range rows {
				w.recent.Remove(r.EventID)
			}
		}
		return
	}

	inserted := len(rows) - conflicts
	w.metrics.ArchiveInserts.Add(float64(inserted))
	w.statsMu.Lock()
	w.stats.Inserts += int64(inserted)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed live events",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", w.clock.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.EventID, r.CardID, r.MerchantID, r.Amount, r.Currency,
			r.Score, r.RiskLevel, r.Reasons, r.EventTs, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
