package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/nasa-jpl/cryocycle/cycle"
)

const (
	// DefaultQueue is the number of events a Dispatcher buffers
	DefaultQueue = 64

	// DefaultRetries is how many times a failed delivery is retried
	DefaultRetries = 4
)

var (
	// ErrQueueFull is returned by Notify when the event is dropped
	ErrQueueFull = errors.New("notification queue full")

	// ErrClosed is returned by Notify after Close
	ErrClosed = errors.New("dispatcher closed")
)

// Dispatcher is a cycle.Notifier delivering rendered events to every sink
// from a single background worker
type Dispatcher struct {
	Catalog Catalog
	Sinks   []Sink
	Log     *zap.SugaredLogger

	// Retries bounds the redeliveries of one message to one sink
	Retries uint64

	// RetryInterval is the first backoff interval
	RetryInterval time.Duration

	// Timeout bounds one delivery attempt
	Timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan cycle.Event
	done   chan struct{}
}

// NewDispatcher starts a dispatcher with a queue of size queue
func NewDispatcher(cat Catalog, sinks []Sink, queue int, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if queue <= 0 {
		queue = DefaultQueue
	}
	d := &Dispatcher{
		Catalog:       cat,
		Sinks:         sinks,
		Log:           log,
		Retries:       DefaultRetries,
		RetryInterval: 500 * time.Millisecond,
		Timeout:       SlackTimeout,
		queue:         make(chan cycle.Event, queue),
		done:          make(chan struct{}),
	}
	go d.work()
	return d
}

// Notify queues ev for delivery.  It never blocks.
func (d *Dispatcher) Notify(ctx context.Context, ev cycle.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		d.Log.Errorw("notification dropped", "process", ev.Process, "outcome", ev.Outcome)
		return ErrQueueFull
	}
}

// Send delivers text to every sink now, returning the failures joined
func (d *Dispatcher) Send(ctx context.Context, text string) error {
	var errs []error
	for _, s := range d.Sinks {
		if err := d.deliver(ctx, s, text); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting events and waits for the queued ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) work() {
	defer close(d.done)
	for ev := range d.queue {
		if err := d.Send(context.Background(), d.Catalog.Render(ev)); err != nil {
			d.Log.Errorw("notification not delivered", "process", ev.Process, "outcome", ev.Outcome, "err", err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, text string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.RetryInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, d.Retries), ctx)
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, d.Timeout)
		defer cancel()
		err := s.Send(actx, text)
		if err != nil {
			d.Log.Warnw("delivery attempt failed", "sink", fmt.Sprintf("%T", s), "err", err)
		}
		return err
	}
	return backoff.Retry(op, b)
}
