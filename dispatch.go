// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MainContext runs deferred completions.
//
// Implementations must run posted functions one at a time, in order,
// and outside of the goroutine calling Post. Post must not block.
type MainContext interface {
	Post(fn func())
}

// Loop is the default [MainContext]: an unbounded FIFO of functions
// drained by whoever calls [*Loop.Run] or [*Loop.RunPending].
//
// The zero value is not ready to use; construct using [NewLoop].
type Loop struct {
	// mu guards queue.
	mu sync.Mutex

	// queue holds the posted functions.
	queue []func()

	// runMu ensures functions never run concurrently.
	runMu sync.Mutex

	// wake is signaled when the queue becomes non-empty.
	wake chan struct{}
}

var _ MainContext = &Loop{}

// NewLoop returns a new [*Loop].
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post implements [MainContext].
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RunPending runs the functions posted so far and returns how many ran.
//
// Use this to integrate with an existing event loop.
func (l *Loop) RunPending() int {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Run runs posted functions until ctx is done, then runs whatever is
// still queued and returns.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			for l.RunPending() > 0 {
				// keep draining what the drained functions posted
			}
			return
		case <-l.wake:
		}
	}
}

// deliverer hands a completed record to its completion step.
type deliverer interface {
	deliver(rec *record)
}

// directDeliverer completes in the calling goroutine.
type directDeliverer struct {
	complete func(rec *record)
}

func (d directDeliverer) deliver(rec *record) {
	d.complete(rec)
}

// deferredDeliverer completes on the [MainContext].
type deferredDeliverer struct {
	main     MainContext
	complete func(rec *record)
}

func (d deferredDeliverer) deliver(rec *record) {
	d.main.Post(func() { d.complete(rec) })
}

// dispatcher delivers completed records to their callbacks.
type dispatcher struct {
	// direct and deferred implement the two [DeliveryMode] values.
	direct   deliverer
	deferred deliverer

	// errClassifier classifies delivered errors for logging.
	errClassifier ErrClassifier

	// logger is the [SLogger] to use.
	logger SLogger

	// metrics receives request outcomes.
	metrics Collector

	// registry forgets delivered records.
	registry *registry

	// timeNow returns the current time.
	timeNow func() time.Time
}

func newDispatcher(cfg *Config, main MainContext, reg *registry, logger SLogger) *dispatcher {
	d := &dispatcher{
		errClassifier: cfg.ErrClassifier,
		logger:        logger,
		metrics:       cfg.Metrics,
		registry:      reg,
		timeNow:       cfg.TimeNow,
	}
	d.direct = directDeliverer{complete: d.complete}
	d.deferred = deferredDeliverer{main: main, complete: d.complete}
	return d
}

// deliver routes rec according to its [DeliveryMode].
func (d *dispatcher) deliver(rec *record) {
	if rec.Mode == DeliverDirect {
		d.direct.deliver(rec)
		return
	}
	d.deferred.deliver(rec)
}

// complete invokes the callback unless canceled, then the destroy
// function, then forgets the record.
func (d *dispatcher) complete(rec *record) {
	canceled := rec.canceled.Load()
	outcome := rec.outcome()
	d.logger.Info(
		"requestDeliver",
		slog.Bool("canceled", canceled),
		slog.Any("err", rec.err),
		slog.String("errClass", d.errClassifier.Classify(rec.err)),
		slog.Uint64("requestID", uint64(rec.id)),
		slog.String("spanID", rec.spanID),
		slog.Time("t", d.timeNow()),
	)
	if !canceled && rec.Callback != nil {
		rec.Callback(rec.id, rec.Path, rec.resp, rec.err, rec.Data)
	}
	rec.setState(recordDelivered)
	if rec.Destroy != nil {
		rec.Destroy(rec.Data)
	}
	outstanding := d.registry.remove(rec.id)
	rec.setState(recordReclaimed)
	d.metrics.ObserveRequest(rec.kind(), outcome, d.timeNow().Sub(rec.submitted))
	d.metrics.SetOutstanding(outstanding)
}
