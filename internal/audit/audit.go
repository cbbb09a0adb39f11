// Package audit records security events off the request path. Recording
// never blocks or fails an authentication operation.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"admin-auth/internal/config"
	"admin-auth/internal/models"
	"admin-auth/internal/util"
)

const (
	maxBatch      = 100
	flushInterval = time.Second
	sinkTimeout   = 5 * time.Second
)

type Recorder interface {
	Record(event models.SecurityEvent)
}

// Sink persists a batch of events somewhere durable.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []models.SecurityEvent) error
	Close() error
}

// Discard drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(models.SecurityEvent) {}

// Dispatcher buffers events on a channel and fans each batch out to every
// sink concurrently.
type Dispatcher struct {
	events     chan models.SecurityEvent
	sinks      []Sink
	dropIfFull bool
	dropped    atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	started atomic.Bool
	once    sync.Once
}

func NewDispatcher(cfg config.AuditConfig, sinks ...Sink) *Dispatcher {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		events:     make(chan models.SecurityEvent, size),
		sinks:      sinks,
		dropIfFull: cfg.DropIfFull,
		done:       make(chan struct{}),
	}
}

// Start runs the delivery loop until Close.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	util.Info("Security event dispatcher started", zap.Strings("sinks", names))
	go d.run()
}

func (d *Dispatcher) Record(event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.Email = util.MaskEmail(event.Email)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
				util.Warn("Security event buffer full, dropping events", zap.Uint64("dropped", n))
			}
		}
		return
	}
	d.events <- event
}

// Dropped reports how many events never reached the buffer.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, maxBatch)
	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				d.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				d.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (d *Dispatcher) flush(batch []models.SecurityEvent) {
	if len(batch) == 0 || len(d.sinks) == 0 {
		return
	}
	events := append([]models.SecurityEvent(nil), batch...)

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, events); err != nil {
				util.Error("Failed to deliver security events",
					zap.String("sink", sink.Name()),
					zap.Int("count", len(events)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close drains buffered events, then closes every sink.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()

		if d.started.Load() {
			<-d.done
		} else {
			pending := make([]models.SecurityEvent, 0, len(d.events))
			for ev := range d.events {
				pending = append(pending, ev)
			}
			d.flush(pending)
		}

		for _, sink := range d.sinks {
			if cerr := sink.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		util.Info("Security event dispatcher stopped", zap.Uint64("dropped", d.dropped.Load()))
	})
	return err
}
