package pointbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/log"
	"github.com/goplc-io/goplc/pkg/synccache"
)

var (
	// ErrUnknownPoint is returned for action or point names without a
	// mapping.
	ErrUnknownPoint = errors.New("pointbus: unknown point")

	// ErrQueueFull is returned when the action queue cannot accept
	// another invocation.
	ErrQueueFull = errors.New("pointbus: action queue full")

	// ErrStopped is returned for invocations after the bus shut down.
	ErrStopped = errors.New("pointbus: stopped")
)

// Publisher delivers observable point values to the external system.
type Publisher interface {
	Publish(ctx context.Context, point string, value any) error
}

// Invocation is one queued action.
type Invocation struct {
	ID    uuid.UUID
	Point string
	Value any
}

// Options tune the bus.
type Options struct {
	// Workers is the size of the action worker pool (default 4).
	Workers int

	// QueueSize bounds pending invocations (default 64).
	QueueSize int

	// CacheTTL enables publish suppression for unchanged points.
	CacheTTL time.Duration
}

// Bus holds the action and observable point mappings.
type Bus struct {
	store  *ctxstore.Store
	logger log.Logger
	opts   Options

	actions map[string]ctxstore.Handle
	points  map[string]ctxstore.Handle
	order   []string // observable names in mapping order

	cache *synccache.Cache

	mu      sync.Mutex
	jobs    chan Invocation
	started bool
	stopped bool
	wg      sync.WaitGroup
	pubMu   sync.Mutex
}

// New creates an empty bus.
func New(store *ctxstore.Store, logger log.Logger, opts Options) *Bus {
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	b := &Bus{
		store:   store,
		logger:  logger,
		opts:    opts,
		actions: make(map[string]ctxstore.Handle),
		points:  make(map[string]ctxstore.Handle),
	}
	if opts.CacheTTL > 0 {
		b.cache = synccache.New(opts.CacheTTL)
	}
	return b
}

// MapAction binds an incoming action point to a context slot.
func (b *Bus) MapAction(point string, h ctxstore.Handle) error {
	if _, dup := b.actions[point]; dup {
		return fmt.Errorf("pointbus: action %q mapped twice", point)
	}
	b.actions[point] = h
	return nil
}

// MapPoint binds an observable point to a context slot.
func (b *Bus) MapPoint(point string, h ctxstore.Handle) error {
	if _, dup := b.points[point]; dup {
		return fmt.Errorf("pointbus: point %q mapped twice", point)
	}
	b.points[point] = h
	b.order = append(b.order, point)
	return nil
}

// Start launches the action worker pool. Workers exit when ctx is
// canceled or Stop is called.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("pointbus: already started")
	}
	b.started = true
	b.jobs = make(chan Invocation, b.opts.QueueSize)

	for i := 0; i < b.opts.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return nil
}

// Stop drains no further actions and waits for the workers.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.jobs)
	b.mu.Unlock()
	b.wg.Wait()
}

// InvokeAction queues one action invocation and returns its id. The
// value is applied asynchronously by the worker pool.
func (b *Bus) InvokeAction(point string, value any) (uuid.UUID, error) {
	h, ok := b.actions[point]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: action %q", ErrUnknownPoint, point)
	}
	_ = h

	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return uuid.Nil, ErrStopped
	}
	jobs := b.jobs
	b.mu.Unlock()

	inv := Invocation{ID: uuid.New(), Point: point, Value: value}
	select {
	case jobs <- inv:
		return inv.ID, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: action %q", ErrQueueFull, point)
	}
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case inv, ok := <-b.jobs:
			if !ok {
				return
			}
			b.apply(inv)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) apply(inv Invocation) {
	h := b.actions[inv.Point]

	var err error
	b.store.Update(func(tx *ctxstore.Txn) {
		err = tx.SetCoerce(h, inv.Value)
	})

	if err != nil {
		b.logger.Log(log.Event{
			Timestamp: time.Now(),
			Source:    log.SourcePointBus,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Message: err.Error(),
				Context: fmt.Sprintf("action %s invocation %s", inv.Point, inv.ID),
			},
		})
		return
	}

	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourcePointBus,
		Category:  log.CategoryTransfer,
		Transfer: &log.TransferEvent{
			Direction: log.DirectionIn,
			Address:   inv.Point,
			Count:     1,
		},
	})
}

// PublishAll publishes the changed observable points through pub and
// returns how many went out. Points whose publish fails are retried on
// the next cycle.
func (b *Bus) PublishAll(ctx context.Context, pub Publisher) (int, error) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	values := make(map[string]any, len(b.order))
	b.store.View(func(tx *ctxstore.Txn) {
		for _, name := range b.order {
			values[name] = tx.Get(b.points[name])
		}
	})

	published := 0
	var errs []error
	for _, name := range b.order {
		v := values[name]
		if b.cache != nil && !b.cache.Modified(name, fingerprint(v)) {
			continue
		}
		if err := pub.Publish(ctx, name, v); err != nil {
			if b.cache != nil {
				b.cache.Invalidate(name)
			}
			errs = append(errs, fmt.Errorf("point %q: %w", name, err))
			continue
		}
		published++
	}

	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourcePointBus,
		Category:  log.CategoryTransfer,
		Transfer: &log.TransferEvent{
			Direction:  log.DirectionOut,
			Count:      published,
			Suppressed: published == 0 && len(errs) == 0,
		},
	})

	return published, errors.Join(errs...)
}

// Points returns the observable point names in mapping order.
func (b *Bus) Points() []string {
	return append([]string(nil), b.order...)
}

// Actions returns the mapped action names, sorted.
func (b *Bus) Actions() []string {
	out := make([]string, 0, len(b.actions))
	for name := range b.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func fingerprint(v any) []byte {
	return []byte(fmt.Sprintf("%T:%v", v, v))
}
