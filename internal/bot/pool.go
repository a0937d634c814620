// ABOUTME: Worker pool feeding inbound updates to the engine
// ABOUTME: Updates are deduped, then sharded by conversation so each conversation is handled in order

package bot

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("pool closed")

// Dispatcher handles one classified event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Deduper reports whether a delivery ID was already seen, marking it if not.
// Forget releases a mark whose event never made it into a queue.
type Deduper interface {
	CheckAndMark(key string) bool
	Forget(key string)
}

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers   int
	QueueSize int // per worker
}

// Pool runs Workers goroutines, each owning one queue. A conversation always
// hashes to the same queue, so its events are handled in arrival order.
type Pool struct {
	dispatcher Dispatcher
	dedupe     Deduper
	logger     *slog.Logger

	shards []chan Event
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewPool creates a pool. dd may be nil to disable deduplication.
func NewPool(d Dispatcher, dd Deduper, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	shards := make([]chan Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan Event, cfg.QueueSize)
	}
	return &Pool{
		dispatcher: d,
		dedupe:     dd,
		logger:     logger.With("component", "pool"),
		shards:     shards,
	}
}

// Start launches the workers. Events are dispatched with ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.work(ctx, i, ch)
	}
	p.logger.Info("worker pool started", "workers", len(p.shards))
}

func (p *Pool) work(ctx context.Context, shard int, ch <-chan Event) {
	defer p.wg.Done()
	for ev := range ch {
		p.dispatch(ctx, shard, ev)
	}
	p.logger.Debug("worker stopped", "shard", shard)
}

// dispatch keeps one misbehaving Dispatcher from killing the worker.
func (p *Pool) dispatch(ctx context.Context, shard int, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatcher panicked", "shard", shard, "conversation_id", ev.ConversationID(), "panic", r)
		}
	}()
	p.dispatcher.Dispatch(ctx, ev)
}

// Submit classifies, dedupes and queues an inbound update. Updates that
// carry nothing to answer, and repeated deliveries, are dropped without
// error. Submit blocks while the conversation's queue is full.
func (p *Pool) Submit(ctx context.Context, in Inbound) error {
	ev, ok := Classify(in)
	if !ok {
		p.logger.Debug("dropping update without payload", "delivery_id", in.DeliveryID, "conversation_id", in.ConversationID)
		return nil
	}
	marked := p.dedupe != nil && in.DeliveryID != ""
	if marked && p.dedupe.CheckAndMark(in.DeliveryID) {
		p.logger.Debug("dropping duplicate delivery", "delivery_id", in.DeliveryID)
		return nil
	}

	err := p.enqueue(ctx, ev)
	if err != nil && marked {
		// the transport may deliver it again
		p.dedupe.Forget(in.DeliveryID)
	}
	return err
}

func (p *Pool) enqueue(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.shards[p.shardFor(ev.ConversationID())] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) shardFor(conversationID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Stop closes the queues and waits for queued events to be handled.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	p.logger.Info("worker pool stopped")
}
