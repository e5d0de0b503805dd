package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
	insertTimeout  = 5 * time.Second
)

// Dispatcher writes visit audit events through a fixed set of workers using
// consistent hashing on the user id, preserving per-user event order.
type Dispatcher struct {
	workers []chan domain.VisitEvent
	repo    ports.VisitEventRepository
	log     zerolog.Logger
	onDrop  func(domain.VisitEvent)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.VisitEventRecorder = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, repo ports.VisitEventRepository, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan domain.VisitEvent, numWorkers),
		repo:    repo,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.VisitEvent, channelBuffer)
	}
	return d
}

// OnDrop registers a callback invoked when an event is discarded because its
// worker queue is full or the dispatcher is closed.
func (d *Dispatcher) OnDrop(fn func(domain.VisitEvent)) {
	d.onDrop = fn
}

// Start launches all worker goroutines. Inserts inherit ctx values but not its
// cancellation so Close can drain pending events.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(base, i, ch)
	}
}

// Record enqueues an event for the worker responsible for its user. It never
// blocks the request path: a full queue drops the event.
func (d *Dispatcher) Record(event domain.VisitEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, "dispatcher closed")
		return
	}
	select {
	case d.workers[d.shardIndex(event.UserID)] <- event:
	default:
		d.drop(event, "audit queue full")
	}
}

// Close stops accepting events and waits for the workers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// shardIndex maps a user id deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) drop(event domain.VisitEvent, reason string) {
	d.log.Warn().
		Str("type", string(event.Type)).
		Int64("visit_id", event.VisitID).
		Int64("user_id", event.UserID).
		Msg(reason)
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.VisitEvent) {
	defer d.wg.Done()
	for event := range ch {
		insertCtx, cancel := context.WithTimeout(ctx, insertTimeout)
		err := d.repo.InsertEvent(insertCtx, &event)
		cancel()
		if err != nil {
			d.log.Error().Err(err).
				Str("type", string(event.Type)).
				Int64("visit_id", event.VisitID).
				Int("worker_id", id).
				Msg("audit event insert failed")
		}
	}
}
