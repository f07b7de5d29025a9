package export

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-adapt/internal/metrics"
)

const sinkWriteTimeout = 5 * time.Second

// Dispatcher fans records out to sinks from a single background worker.
// Publish never blocks: records arriving while the queue is full are dropped.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	queue  chan Record

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher creates a dispatcher with a queue of size records.
func NewDispatcher(size int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan Record, size),
		done:   make(chan struct{}),
	}
}

// Sinks returns the number of configured sinks.
func (d *Dispatcher) Sinks() int { return len(d.sinks) }

// Start launches the worker. Calling it twice has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Publish enqueues rec and reports whether it was accepted.
func (d *Dispatcher) Publish(rec Record) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- rec:
		return true
	default:
		d.dropped.Add(1)
		metrics.ObserveExportDrop("queue")
		return false
	}
}

// Dropped counts records rejected because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Delivered counts successful sink writes.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Close drains queued records, stops the worker and closes every sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if started {
		<-d.done
	}
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for rec := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
			err := s.Write(ctx, rec)
			cancel()
			if err != nil {
				metrics.ObserveExportDrop(s.Name())
				d.logger.Warn("export sink write failed", slog.String("sink", s.Name()), slog.String("record", rec.ID), slog.Any("error", err))
				continue
			}
			d.delivered.Add(1)
		}
	}
}
