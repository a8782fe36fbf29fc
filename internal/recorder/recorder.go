package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/opsdeck/realtime/internal/buffer"
	"github.com/opsdeck/realtime/internal/message"
	"github.com/opsdeck/realtime/internal/metrics"
)

// ErrStarted is returned by Start on a recorder that is already running.
var ErrStarted = errors.New("recorder already started")

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Subscriber is the subset of *connection.Client the recorder uses.
type Subscriber interface {
	SubscribeMessage(channel string, fn func(message.Message)) (string, error)
	Unsubscribe(id string)
}

// Config holds recorder settings.
type Config struct {
	Channels      []string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int    // Pending messages kept before the oldest is dropped (0 = unbounded)
	Source        string // Written to the source column, typically the instance id
}

// DefaultConfig returns default recorder settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats tracks recorder counters.
type Stats struct {
	Received   int64
	Inserted   int64
	Duplicates int64
	Errors     int64
	Flushes    int64
	Dropped    int64
}

type row struct {
	ID         string
	Channel    string
	Data       []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

// Recorder batches received messages into the realtime_messages table.
type Recorder struct {
	cfg     Config
	logger  *slog.Logger
	clock   clockwork.Clock
	db      DB
	metrics *metrics.RecorderMetrics

	// Input from subscription handlers
	input *buffer.Ring[row]

	// Batching
	batch   []row
	batchMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	// Lifecycle
	sub      Subscriber
	subIDs   []string
	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{} // Closed when consumeLoop exits
	wg       sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock driving periodic flushes and received_at.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithMetrics reports recorder activity to m.
func WithMetrics(m *metrics.RecorderMetrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// New creates a Recorder writing to db. Zero config fields take defaults.
func New(cfg Config, db DB, opts ...Option) *Recorder {
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}

	r := &Recorder{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		db:       db,
		input:    buffer.New[row](min(cfg.BatchSize, 1024), cfg.BufferSize),
		batch:    make([]row, 0, cfg.BatchSize),
		consumed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "recorder")
	return r
}

// Start subscribes to the configured channels and begins writing batches.
// If any subscription fails, the ones already made are removed.
func (r *Recorder) Start(ctx context.Context, sub Subscriber) error {
	if r.cancel != nil {
		return ErrStarted
	}

	ids := make([]string, 0, len(r.cfg.Channels))
	for _, ch := range r.cfg.Channels {
		id, err := sub.SubscribeMessage(ch, r.record)
		if err != nil {
			for _, done := range ids {
				sub.Unsubscribe(done)
			}
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		ids = append(ids, id)
	}
	r.sub = sub
	r.subIDs = ids

	r.ctx, r.cancel = context.WithCancel(ctx)
	ticker := r.clock.NewTicker(r.cfg.FlushInterval)

	// Consumer goroutine
	r.wg.Add(1)
	go r.consumeLoop()

	// Flush ticker goroutine
	r.wg.Add(1)
	go r.flushLoop(ticker)

	r.logger.Info("recorder started",
		"channels", r.cfg.Channels,
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains buffered messages and writes the final batch.
// ctx bounds the whole shutdown including the final flush.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.sub != nil {
		for _, id := range r.subIDs {
			r.sub.Unsubscribe(id)
		}
		r.sub = nil
		r.subIDs = nil
	}

	// The consumer exits once the closed input is empty.
	r.input.Close()

	var err error
	if r.cancel != nil {
		select {
		case <-r.consumed:
		case <-ctx.Done():
			err = fmt.Errorf("recorder stop: %w", ctx.Err())
			r.logger.Warn("recorder stop timed out", "pending", r.input.Len())
		}
		r.cancel()
		r.wg.Wait()
	}

	// Final flush
	if ferr := r.flush(ctx); ferr != nil && err == nil {
		err = ferr
	}

	r.logger.Info("recorder stopped", "stats", r.Stats())
	return err
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// record is the subscription handler. It runs on the connection's read
// goroutine and never blocks on the database.
func (r *Recorder) record(m message.Message) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	dropped := r.input.PushBack(row{
		ID:         id,
		Channel:    m.Type,
		Data:       m.Data,
		SentAt:     m.CreatedAt(),
		ReceivedAt: r.clock.Now(),
	})

	r.statsMu.Lock()
	r.stats.Received++
	if dropped {
		r.stats.Dropped++
	}
	r.statsMu.Unlock()

	if r.metrics != nil {
		if dropped {
			r.metrics.Dropped.Inc()
		}
		r.metrics.BufferDepth.Set(float64(r.input.Len()))
	}
}

// consumeLoop moves buffered rows into the batch until the input is closed
// and empty.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()
	defer close(r.consumed)

	for {
		item, ok := r.input.Receive()
		if !ok {
			return
		}

		r.batchMu.Lock()
		r.batch = append(r.batch, item)
		shouldFlush := len(r.batch) >= r.cfg.BatchSize
		r.batchMu.Unlock()

		if shouldFlush {
			if err := r.flush(r.ctx); err != nil {
				r.logger.Error("flush failed", "error", err)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop(ticker clockwork.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.Chan():
			if err := r.flush(r.ctx); err != nil {
				r.logger.Error("flush failed", "error", err)
			}
		}
	}
}

// flush writes the current batch. A failed batch is dropped and counted.
func (r *Recorder) flush(ctx context.Context) error {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := r.clock.Now()
	duplicates, err := r.batchInsert(ctx, batch)
	elapsed := r.clock.Since(start)

	if r.metrics != nil {
		r.metrics.BufferDepth.Set(float64(r.input.Len()))
		r.metrics.FlushLatency.Observe(elapsed.Seconds())
	}

	if err != nil {
		r.statsMu.Lock()
		r.stats.Errors++
		r.statsMu.Unlock()
		if r.metrics != nil {
			r.metrics.BatchErrors.Inc()
		}
		return fmt.Errorf("insert %d messages: %w", len(batch), err)
	}

	inserted := len(batch) - duplicates
	r.statsMu.Lock()
	r.stats.Inserted += int64(inserted)
	r.stats.Duplicates += int64(duplicates)
	r.stats.Flushes++
	r.statsMu.Unlock()

	if r.metrics != nil {
		r.metrics.Inserted.Add(float64(inserted))
		r.metrics.Duplicates.Add(float64(duplicates))
		r.metrics.BatchSize.Observe(float64(len(batch)))
	}

	r.logger.Debug("flushed messages",
		"count", len(batch),
		"duplicates", duplicates,
		"duration", elapsed,
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []row) (duplicates int, err error) {
	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(insertRow, m.ID, m.Channel, m.Data, m.SentAt, m.ReceivedAt, r.cfg.Source)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			duplicates++
		}
	}

	return duplicates, nil
}
