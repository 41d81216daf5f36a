// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"log/slog"
	"sync"
)

// workerPool runs records on at most maxWorkers goroutines.
//
// Workers start on demand and wait on cond when there is no work. The
// queue is unbounded and served in FIFO order.
type workerPool struct {
	// mu guards every field below it.
	mu sync.Mutex

	// cond is signaled when work arrives or workers must exit.
	cond *sync.Cond

	// queue holds records not yet picked by a worker.
	queue []*record

	// maxWorkers bounds workers.
	maxWorkers int

	// workers is the number of live goroutines.
	workers int

	// idle is the number of workers waiting on cond.
	idle int

	// epoch is bumped by stopUnused; waiting workers that observe a
	// new epoch with nothing to do exit.
	epoch uint64

	// closed rejects new work and stops the workers.
	closed bool

	// wg tracks live workers.
	wg sync.WaitGroup

	// run executes and delivers a record.
	run func(rec *record)

	// logger is the [SLogger] to use.
	logger SLogger

	// metrics receives the number of workers.
	metrics Collector
}

func newWorkerPool(maxWorkers int, run func(rec *record), logger SLogger, metrics Collector) *workerPool {
	p := &workerPool{
		maxWorkers: maxWorkers,
		run:        run,
		logger:     logger,
		metrics:    metrics,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// submit queues rec and returns false if the pool is closed.
func (p *workerPool) submit(rec *record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, rec)
	if p.idle > 0 {
		p.cond.Signal()
	}
	// Woken workers only decrement idle once they run, so compare the
	// backlog with the waiting workers before starting a new one.
	if len(p.queue) > p.idle && p.workers < p.maxWorkers {
		p.workers++
		p.metrics.SetWorkers(p.workers)
		p.wg.Add(1)
		go p.worker()
	}
	return true
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	p.mu.Lock()
	for !p.closed {
		if len(p.queue) > 0 {
			rec := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			p.run(rec)
			p.mu.Lock()
			continue
		}
		epoch := p.epoch
		p.idle++
		p.cond.Wait()
		p.idle--
		if p.epoch != epoch && len(p.queue) <= 0 {
			break
		}
	}
	p.workers--
	p.metrics.SetWorkers(p.workers)
	p.mu.Unlock()
}

// stopUnused makes the currently idle workers exit and returns how many
// were asked to.
func (p *workerPool) stopUnused() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := p.idle
	if count > 0 {
		p.epoch++
		p.cond.Broadcast()
	}
	p.logger.Info(
		"workerReclaim",
		slog.Int("idleWorkers", count),
		slog.Int("liveWorkers", p.workers),
	)
	return count
}

// close stops accepting work, waits for running workers to finish their
// current record and returns the records that were still queued.
//
// Calling close from a worker deadlocks.
func (p *workerPool) close() []*record {
	p.mu.Lock()
	p.closed = true
	queued := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	return queued
}

// poolStats is a snapshot of the pool.
type poolStats struct {
	Workers int
	Idle    int
	Queued  int
}

func (p *workerPool) stats() poolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return poolStats{Workers: p.workers, Idle: p.idle, Queued: len(p.queue)}
}
