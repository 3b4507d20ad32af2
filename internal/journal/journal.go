package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/inventory-live/internal/events"
)

// Entry is one recorded event.
type Entry struct {
	ID         uuid.UUID
	Kind       string // events.Kind name
	Name       string // server event name, or Kind for lifecycle events
	Payload    json.RawMessage
	RecordedAt time.Time
}

// Sink persists batches of entries. Write reports how many entries were
// stored; entries already present are not counted.
type Sink interface {
	Write(ctx context.Context, entries []Entry) (int, error)
}

// Config configures a Journal.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxQueue      int
	WriteTimeout  time.Duration
	Lifecycle     bool // record connection and session events too
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		MaxQueue:      10000,
		WriteTimeout:  10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Written    int64
	Duplicates int64
	Flushes    int64
	Errors     int64
	Queue      QueueStats
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithClock replaces the clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(j *Journal) { j.clock = clock }
}

// Journal queues bus events and writes them to a Sink in batches.
type Journal struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	clock  clockwork.Clock
	queue  *Queue[Entry]

	// Batching
	batch   []Entry
	batchMu sync.Mutex
	flushMu sync.Mutex // serializes sink writes

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	consumerWG sync.WaitGroup
	flusherWG  sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Journal writing to sink.
func New(cfg Config, sink Sink, opts ...Option) *Journal {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	j := &Journal{
		cfg:    cfg,
		sink:   sink,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
		queue:  NewQueue[Entry](cfg.BatchSize, cfg.MaxQueue),
		batch:  make([]Entry, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "journal")
	return j
}

// Attach subscribes the journal to bus. Domain events are always
// recorded; lifecycle events only with Config.Lifecycle.
func (j *Journal) Attach(bus *events.Bus) (detach func()) {
	h := events.Handlers{Domain: func(e events.Domain) { j.Record(e) }}
	if j.cfg.Lifecycle {
		h.Connected = func(e events.Connected) { j.Record(e) }
		h.Disconnected = func(e events.Disconnected) { j.Record(e) }
		h.Reconnecting = func(e events.Reconnecting) { j.Record(e) }
		h.ReconnectGaveUp = func(e events.ReconnectGaveUp) { j.Record(e) }
		h.AuthenticationFailed = func(e events.AuthenticationFailed) { j.Record(e) }
		h.AuthBlocked = func(e events.AuthBlocked) { j.Record(e) }
		h.AuthBlockLifted = func(e events.AuthBlockLifted) { j.Record(e) }
		h.SessionEnded = func(e events.SessionEnded) { j.Record(e) }
		h.TokenRefreshed = func(e events.TokenRefreshed) { j.Record(e) }
	}
	return bus.Register(h)
}

// Record queues ev. It never blocks; it reports false when the entry was
// dropped because the queue is full or closed.
func (j *Journal) Record(ev events.Event) bool {
	entry, err := newEntry(ev, j.clock.Now())
	if err != nil {
		j.logger.Warn("failed to encode event", "kind", ev.Kind(), "error", err)
		return false
	}
	if !j.queue.Push(entry) {
		j.logger.Debug("journal entry dropped", "name", entry.Name)
		return false
	}
	return true
}

func newEntry(ev events.Event, now time.Time) (Entry, error) {
	e := Entry{
		ID:         uuid.New(),
		Kind:       ev.Kind().String(),
		Name:       ev.Kind().String(),
		RecordedAt: now,
	}

	if d, ok := ev.(events.Domain); ok {
		e.Name = d.Name
		e.Payload = d.Payload
	} else {
		payload, err := json.Marshal(ev)
		if err != nil {
			return Entry{}, fmt.Errorf("encode %s: %w", e.Kind, err)
		}
		e.Payload = payload
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("null")
	}
	return e, nil
}

// Start begins consuming queued entries.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	ticker := j.clock.NewTicker(j.cfg.FlushInterval)

	// Consumer goroutine
	j.consumerWG.Add(1)
	go j.consumeLoop()

	// Flush ticker goroutine
	j.flusherWG.Add(1)
	go j.flushLoop(ticker)

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
		"lifecycle", j.cfg.Lifecycle,
	)
	return nil
}

// Stop drains the queue, writes what is left and stops the goroutines.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")
	j.queue.Close()

	// The consumer exits once the closed queue is empty.
	done := make(chan struct{})
	go func() {
		j.consumerWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
		err = ctx.Err()
	}

	if j.cancel != nil {
		j.cancel()
	}
	j.flusherWG.Wait()

	// Final flush
	if rest := j.queue.TryPopBatch(0); len(rest) > 0 {
		j.batchMu.Lock()
		j.batch = append(j.batch, rest...)
		j.batchMu.Unlock()
	}
	j.flush(ctx)

	j.logger.Info("journal stopped", "written", j.Stats().Written)
	return err
}

// Stats returns current statistics.
func (j *Journal) Stats() Stats {
	j.statsMu.Lock()
	s := j.stats
	j.statsMu.Unlock()
	s.Queue = j.queue.Stats()
	return s
}

// consumeLoop moves queued entries into the batch until the queue closes.
func (j *Journal) consumeLoop() {
	defer j.consumerWG.Done()

	for {
		entries := j.queue.PopBatch(j.cfg.BatchSize)
		if entries == nil {
			return
		}

		j.batchMu.Lock()
		j.batch = append(j.batch, entries...)
		full := len(j.batch) >= j.cfg.BatchSize
		j.batchMu.Unlock()

		if full {
			j.flush(j.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop(ticker clockwork.Ticker) {
	defer j.flusherWG.Done()
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.Chan():
			j.flush(j.ctx)
		}
	}
}

func (j *Journal) pending() int {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return len(j.batch)
}

// flush writes the current batch to the sink.
func (j *Journal) flush(ctx context.Context) {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}
	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]Entry, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := j.clock.Now()
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	writeCtx, cancel := context.WithTimeout(ctx, j.cfg.WriteTimeout)
	defer cancel()

	written, err := j.sink.Write(writeCtx, batch)

	j.statsMu.Lock()
	defer j.statsMu.Unlock()
	if err != nil {
		j.stats.Errors++
		j.logger.Error("journal write failed", "error", err, "count", len(batch))
		return
	}
	j.stats.Written += int64(written)
	j.stats.Duplicates += int64(len(batch) - written)
	j.stats.Flushes++

	j.logger.Debug("flushed journal entries",
		"count", len(batch),
		"duplicates", len(batch)-written,
		"duration", j.clock.Since(start),
	)
}
