package board

import (
	"context"
	"log"
	"sync"
	"time"
)

// BatcherConfig sets the flush cadence.
type BatcherConfig struct {
	SettleFlushInterval time.Duration
	FullFlushInterval   time.Duration
	// Epsilon is the minimum distance from the last persisted position for a
	// settled body to be queued.
	Epsilon float64
	Logger  *log.Logger
}

// Batcher writes body positions to the store without ever blocking the tick.
// Settled bodies are queued and flushed on a short interval; every article is
// flushed on a longer one; a turn end forces an immediate full flush.
type Batcher struct {
	store  Store
	source func() []PositionUpdate
	cfg    BatcherConfig
	logger *log.Logger

	mu            sync.Mutex
	pending       map[string]PositionUpdate
	lastPersisted map[string]Vec2
	turnWaiters   []func()
	turnPositions []PositionUpdate
	turnSignal    chan struct{}
}

// NewBatcher creates a batcher. source returns the current positions of every
// article body and must be safe to call from another goroutine.
func NewBatcher(store Store, source func() []PositionUpdate, cfg BatcherConfig) *Batcher {
	if cfg.SettleFlushInterval <= 0 {
		cfg.SettleFlushInterval = DefaultSettleFlushInterval
	}
	if cfg.FullFlushInterval <= 0 {
		cfg.FullFlushInterval = DefaultFullFlushInterval
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = PersistEpsilon
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Batcher{
		store:         store,
		source:        source,
		cfg:           cfg,
		logger:        logger,
		pending:       make(map[string]PositionUpdate),
		lastPersisted: make(map[string]Vec2),
		turnSignal:    make(chan struct{}, 1),
	}
}

// Remember records a position known to be in the store, e.g. one just loaded.
func (b *Batcher) Remember(id string, p Vec2) {
	b.mu.Lock()
	b.lastPersisted[id] = p
	b.mu.Unlock()
}

// Forget drops all state for a ball that left the table.
func (b *Batcher) Forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	delete(b.lastPersisted, id)
	b.mu.Unlock()
}

// Settled queues a body that came to rest if it moved far enough since the last
// write. It reports whether the update was queued.
func (b *Batcher) Settled(u PositionUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastPersisted[u.ID]; ok && last.Distance(u.Position) <= b.cfg.Epsilon {
		return false
	}
	b.pending[u.ID] = u
	return true
}

// Pending returns the number of queued settle updates.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// TurnEnded requests an immediate flush of positions, the article positions at
// the moment the table settled. A nil positions falls back to the source. done
// runs on the batcher goroutine once the flush finished, successful or not.
func (b *Batcher) TurnEnded(positions []PositionUpdate, done func()) {
	b.mu.Lock()
	if done != nil {
		b.turnWaiters = append(b.turnWaiters, done)
	}
	if positions != nil {
		b.turnPositions = positions
	}
	b.mu.Unlock()

	select {
	case b.turnSignal <- struct{}{}:
	default:
	}
}

// Run flushes until ctx is cancelled, then makes one last full flush.
func (b *Batcher) Run(ctx context.Context) {
	settleTicker := time.NewTicker(b.cfg.SettleFlushInterval)
	defer settleTicker.Stop()
	fullTicker := time.NewTicker(b.cfg.FullFlushInterval)
	defer fullTicker.Stop()

	b.logger.Printf("[PERSIST] batcher started (settle=%s full=%s)", b.cfg.SettleFlushInterval, b.cfg.FullFlushInterval)

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.FlushAll(final)
			cancel()
			b.logger.Println("[PERSIST] batcher stopped")
			return
		case <-settleTicker.C:
			b.FlushPending(ctx)
		case <-fullTicker.C:
			b.FlushAll(ctx)
		case <-b.turnSignal:
			b.flushTurnEnd(ctx)
		}
	}
}

// FlushPending writes the settle queue as one batch.
func (b *Batcher) FlushPending(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := make([]PositionUpdate, 0, len(b.pending))
	for _, u := range b.pending {
		batch = append(batch, u)
	}
	b.pending = make(map[string]PositionUpdate)
	b.mu.Unlock()

	return b.write(ctx, batch)
}

// FlushAll writes every article position plus anything still queued.
func (b *Batcher) FlushAll(ctx context.Context) error {
	var batch []PositionUpdate
	if b.source != nil {
		batch = b.source()
	}
	return b.flushWith(ctx, batch)
}

func (b *Batcher) flushWith(ctx context.Context, batch []PositionUpdate) error {
	batch = append([]PositionUpdate(nil), batch...)

	b.mu.Lock()
	seen := make(map[string]bool, len(batch))
	for _, u := range batch {
		seen[u.ID] = true
	}
	for id, u := range b.pending {
		if !seen[id] {
			batch = append(batch, u)
		}
	}
	b.pending = make(map[string]PositionUpdate)
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.write(ctx, batch)
}

func (b *Batcher) flushTurnEnd(ctx context.Context) {
	b.mu.Lock()
	waiters := b.turnWaiters
	positions := b.turnPositions
	b.turnWaiters = nil
	b.turnPositions = nil
	b.mu.Unlock()

	if positions != nil {
		b.flushWith(ctx, positions)
	} else {
		b.FlushAll(ctx)
	}

	for _, done := range waiters {
		done()
	}
}

// write stores a batch. On failure the updates go back in the queue unless a
// newer one arrived meanwhile.
func (b *Batcher) write(ctx context.Context, batch []PositionUpdate) error {
	if err := b.store.BatchUpdatePositions(ctx, batch); err != nil {
		b.logger.Printf("[PERSIST] flush of %d positions failed: %v", len(batch), err)
		b.mu.Lock()
		for _, u := range batch {
			if _, newer := b.pending[u.ID]; !newer {
				b.pending[u.ID] = u
			}
		}
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	for _, u := range batch {
		b.lastPersisted[u.ID] = u.Position
	}
	b.mu.Unlock()
	return nil
}
