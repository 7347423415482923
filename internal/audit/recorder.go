package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Recorder buffers events and writes them from a single background
// goroutine. Record never blocks the caller: when the buffer is full the
// event is dropped and counted. Write failures are logged at a lower
// severity and swallowed.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	events  chan Event
	dropped atomic.Int64
	now     func() time.Time

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder constructs a Recorder and starts its writer.
func NewRecorder(store Store, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		events: make(chan Event, buffer),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event. Missing ID/timestamp are filled in; a full
// buffer drops the event rather than stalling the request path, and a
// closed recorder discards it.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}
	if e.ActorID == "" {
		e.ActorID = ActorSystem
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("audit buffer full, event dropped",
			slog.String("type", e.Type), slog.Int64("dropped_total", n))
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and drains the buffer, bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.events {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Insert(writeCtx, e); err != nil {
			// A logging fault must never surface to the caller.
			r.logger.Warn("audit write failed",
				slog.String("type", e.Type), slog.Any("error", err))
		}
		cancel()
	}
}
