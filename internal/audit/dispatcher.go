package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// #region dispatcher
// Dispatcher decouples the decision path from the sink: Submit never blocks,
// a single worker drains the buffer. Entries submitted while the buffer is
// full, or after Close, are dropped.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	onDrop  func()
	onFail  func()

	mu     sync.Mutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDropHook is called once per dropped entry.
func WithDropHook(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// WithFailureHook is called once per sink error.
func WithFailureHook(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onFail = fn }
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher starts the worker goroutine.
func NewDispatcher(sink Sink, buffer int, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Submit enqueues e without blocking. It reports whether e was accepted.
func (d *Dispatcher) Submit(e Entry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.drop(e, "buffer full")
		return false
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Record(ctx, e)
		cancel()
		if err != nil {
			d.logger.Warn("audit write failed",
				slog.String("component", "audit"),
				slog.String("decision_id", e.DecisionID),
				slog.Any("error", err))
			if d.onFail != nil {
				d.onFail()
			}
		}
	}
}

func (d *Dispatcher) drop(e Entry, why string) {
	d.logger.Warn("audit entry dropped",
		slog.String("component", "audit"),
		slog.String("decision_id", e.DecisionID),
		slog.String("why", why))
	if d.onDrop != nil {
		d.onDrop()
	}
}

// #endregion dispatcher
