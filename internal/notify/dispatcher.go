package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"bullionwatch/internal/metrics"
	"bullionwatch/internal/rates"
)

const defaultBuffer = 16

// Listener receives refresh outcomes. Calls are made from a single goroutine,
// one at a time.
type Listener interface {
	OnSnapshotReady(snapshot rates.Snapshot)
	OnRefreshFailed(err error)
}

type event struct {
	snapshot rates.Snapshot
	err      error
}

// Dispatcher queues outcomes and delivers them serially to every listener.
type Dispatcher struct {
	queue   chan event
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewDispatcher builds a dispatcher with the given queue size.
func NewDispatcher(buffer int, m *metrics.Metrics, logger zerolog.Logger, listeners ...Listener) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		queue:     make(chan event, buffer),
		metrics:   m,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		listeners: listeners,
	}
}

// Add registers another listener.
func (d *Dispatcher) Add(l Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// SnapshotReady queues a snapshot without blocking.
func (d *Dispatcher) SnapshotReady(s rates.Snapshot) {
	d.enqueue(event{snapshot: s})
}

// RefreshFailed queues a failure without blocking.
func (d *Dispatcher) RefreshFailed(err error) {
	d.enqueue(event{err: err})
}

func (d *Dispatcher) enqueue(ev event) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.RecordDrop()
		d.logger.Warn().Bool("failure", ev.err != nil).Msg("listener queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.safeCall(l, ev)
	}
}

func (d *Dispatcher) safeCall(l Listener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("listener panicked")
		}
	}()
	if ev.err != nil {
		l.OnRefreshFailed(ev.err)
		return
	}
	l.OnSnapshotReady(ev.snapshot)
}
