package services

import (
	"sync"

	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/logger"
)

const recorderQueueSize = 1024

// EventRecorder persists logged events as SecurityDecision rows on a
// background goroutine. When the queue is full the event is kept only in
// the in-memory log.
type EventRecorder struct {
	svc   *SecurityService
	queue chan events.Event

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewEventRecorder(svc *SecurityService) *EventRecorder {
	r := &EventRecorder{svc: svc, queue: make(chan events.Event, recorderQueueSize)}
	r.wg.Add(1)
	go r.run()
	return r
}

// Handle implements events.Sink.
func (r *EventRecorder) Handle(e events.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		logger.ForComponent("recorder").WithField("event_id", e.ID).Warn("decision queue full, event not persisted")
	}
}

func (r *EventRecorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		if err := r.svc.LogDecision(DecisionFromEvent(e)); err != nil {
			logger.ForComponent("recorder").WithError(err).WithField("event_id", e.ID).Error("failed to persist security decision")
		}
	}
}

// Close flushes queued events and stops the worker.
func (r *EventRecorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
	})
}
