package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MaxEnqueueWait bounds how long Emit may wait for queue space.
const MaxEnqueueWait = 50 * time.Millisecond

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// EnqueueWait is how long Emit waits for space in a full queue before
	// dropping the event. Zero drops immediately; values above
	// MaxEnqueueWait are clamped.
	EnqueueWait time.Duration
	SinkTimeout time.Duration
}

// Dispatcher asynchronously forwards events to a sink from a single
// consumer goroutine. Events are numbered in queue order as they are
// dequeued, so events emitted by one goroutine keep their relative order.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	// closeMu is read-held by Emit and write-held by Close, so no Emit is
	// between its closed check and its send when done is closed.
	closeMu sync.RWMutex
	seq     uint64
	ch      chan Event

	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg is disabled;
// every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if cfg.EnqueueWait < 0 {
		cfg.EnqueueWait = 0
	}
	if cfg.EnqueueWait > MaxEnqueueWait {
		cfg.EnqueueWait = MaxEnqueueWait
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.seq++
	event.Seq = d.seq

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
	defer cancel()

	if err := d.sink.Emit(ctx, event); err != nil {
		d.failed.Add(1)
		d.logger.Warn("security event not persisted",
			slog.String("component", "audit"),
			slog.String("event_id", event.ID),
			slog.String("category", string(event.Category)),
			slog.Any("error", err),
		)
	}
}

// Emit stamps event with an id and timestamp and queues it. It never waits
// longer than EnqueueWait: a full queue drops the event and counts it.
// It reports whether the event was accepted.
func (d *Dispatcher) Emit(ctx context.Context, event Event) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		event.ID = id.String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed.Load() {
		return false
	}

	select {
	case d.ch <- event:
		return true
	default:
	}
	if d.cfg.EnqueueWait <= 0 {
		d.dropped.Add(1)
		return false
	}

	timer := time.NewTimer(d.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case d.ch <- event:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	d.dropped.Add(1)
	return false
}

// Close stops accepting events and waits until queued events are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeMu.Lock()
		close(d.done)
		d.closeMu.Unlock()
		d.wg.Wait()
	})
}

// Dropped returns the number of events discarded because the queue stayed full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of events the sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
