package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"

	"chronicle/collab/internal/collab"
)

var ErrDispatcherClosed = errors.New("event dispatcher closed")

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxInFlight int64
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SendTimeout time.Duration
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxInFlight: 4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
		SendTimeout: 5 * time.Second,
	}
}

// Dispatcher queues events locally and hands them to a downstream publisher
// from background workers with bounded retries. Publish only enqueues, so a
// slow backend never holds a document lock. Each document hashes to one
// worker queue, so one document's events are delivered in publish order,
// retries included.
type Dispatcher struct {
	name       string
	downstream collab.Publisher
	queues     []chan collab.Event
	inflight   *semaphore.Weighted
	opts       DispatcherOptions
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(name string, downstream collab.Publisher, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = int64(opts.Workers)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultDispatcherOptions().SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		name:       name,
		downstream: downstream,
		queues:     make([]chan collab.Event, opts.Workers),
		inflight:   semaphore.NewWeighted(opts.MaxInFlight),
		opts:       opts,
		logger:     logger.With("dispatcher", name),
	}
	for i := range d.queues {
		d.queues[i] = make(chan collab.Event, opts.QueueSize)
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

// shard picks the worker queue that owns documentID.
func (d *Dispatcher) shard(documentID string) chan collab.Event {
	return d.queues[xxhash.Sum64String(documentID)%uint64(len(d.queues))]
}

// Publish enqueues the event, waiting for room until ctx is done.
func (d *Dispatcher) Publish(ctx context.Context, event collab.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.shard(event.DocumentID) <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue event: %w", ctx.Err())
	}
}

// Close stops accepting events, waits for queued ones to drain and then
// closes the downstream publisher when it has a Close method.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if closer, ok := d.downstream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for event := range d.queues[workerID] {
		d.sendWithRetry(workerID, event)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, event collab.Event) {
	for attempt := 0; attempt <= d.opts.MaxRetry; attempt++ {
		_ = d.inflight.Acquire(context.Background(), 1)
		err := d.sendOnce(event)
		d.inflight.Release(1)

		if err == nil {
			return
		}
		if attempt == d.opts.MaxRetry {
			d.logger.Warn("send failed, dropping event",
				"document_id", event.DocumentID,
				"type", event.Type,
				"worker", workerID,
				"error", err,
			)
			return
		}

		backoff := d.opts.BaseBackoff * time.Duration(1<<attempt)
		if backoff > d.opts.MaxBackoff {
			backoff = d.opts.MaxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(event collab.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
	defer cancel()
	return d.downstream.Publish(ctx, event)
}
