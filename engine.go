// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine executes IPP requests asynchronously over cached per-server
// connections.
//
// The engine is reference counted: the first [*Engine.Init] creates the
// worker pool, the connection cache, the request registry, the main loop
// (unless [Config.MainContext] is set) and the idle reclaimers, and the
// matching last [*Engine.Shutdown] tears them down.
//
// Construct using [NewEngine].
type Engine struct {
	// Config is the common configuration.
	//
	// Set by [NewEngine] to the user-provided config.
	Config *Config

	// Logger is the [SLogger] to use.
	//
	// Set by [NewEngine] to the user-provided logger.
	Logger SLogger

	// Transport opens server connections.
	//
	// Set by [NewEngine] to [*HTTPTransport].
	Transport Transport

	// auth is the hook given to the latest Init.
	auth atomic.Pointer[AuthFunc]

	// mu guards refs and state. Submissions hold it for reading.
	mu sync.RWMutex

	// refs counts Init calls not yet matched by Shutdown.
	refs int

	// state is nil when refs is zero.
	state *engineState
}

// NewEngine returns a new, uninitialized [*Engine].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewEngine(cfg *Config, logger SLogger) *Engine {
	return &Engine{
		Config:    cfg,
		Logger:    logger,
		Transport: NewHTTPTransport(cfg, logger),
	}
}

// engineState exists between the first Init and the last Shutdown.
type engineState struct {
	// cancel aborts in-flight transport calls.
	cancel context.CancelFunc

	cache      *connCache
	dispatcher *dispatcher
	pool       *workerPool
	registry   *registry

	// loopCancel stops the engine-owned [*Loop], if any.
	loopCancel context.CancelFunc

	// reclaimCancel stops the reclaimers and reclaimWG waits for them.
	reclaimCancel context.CancelFunc
	reclaimWG     sync.WaitGroup
}

// Init initializes the engine or, if already initialized, takes another
// reference on it. The auth hook replaces the one given to earlier calls
// and may be nil.
//
// Init fails with an error wrapping [ErrInvalidConfig] when the first
// call finds an unusable [*Config]; nothing is started in that case.
func (e *Engine) Init(auth AuthFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs <= 0 {
		if err := e.Config.Validate(); err != nil {
			return err
		}
		if e.Transport == nil {
			return fmt.Errorf("%w: nil Transport", ErrInvalidConfig)
		}
		e.state = e.start()
	}
	e.auth.Store(&auth)
	e.refs++
	e.Logger.Info(
		"engineInit",
		slog.Bool("authHook", auth != nil),
		slog.Int("refs", e.refs),
		slog.Time("t", e.Config.TimeNow()),
	)
	return nil
}

func (e *Engine) start() *engineState {
	cfg := e.Config
	ctx, cancel := context.WithCancel(context.Background())
	s := &engineState{
		cancel:   cancel,
		cache:    newConnCache(cfg, e.Logger),
		registry: newRegistry(),
	}

	main := cfg.MainContext
	if main == nil {
		loop := NewLoop()
		loopCtx, loopCancel := context.WithCancel(context.Background())
		go loop.Run(loopCtx)
		s.loopCancel = loopCancel
		main = loop
	}
	s.dispatcher = newDispatcher(cfg, main, s.registry, e.Logger)

	exec := &executor{
		auth:          e.currentAuth,
		cache:         s.cache,
		errClassifier: cfg.ErrClassifier,
		logger:        e.Logger,
		metrics:       cfg.Metrics,
		timeNow:       cfg.TimeNow,
		transport:     e.Transport,
	}
	s.pool = newWorkerPool(cfg.MaxWorkers, func(rec *record) {
		exec.execute(ctx, rec)
		s.dispatcher.deliver(rec)
	}, e.Logger, cfg.Metrics)

	reclaimCtx, reclaimCancel := context.WithCancel(context.Background())
	s.reclaimCancel = reclaimCancel
	s.reclaimWG.Add(2)
	go s.every(reclaimCtx, cfg.WorkerReclaimInterval, func() {
		s.pool.stopUnused()
	})
	go s.every(reclaimCtx, cfg.ConnectionReclaimInterval, func() {
		s.cache.reclaimIdle(cfg.TimeNow())
	})
	return s
}

func (s *engineState) every(ctx context.Context, interval time.Duration, fn func()) {
	defer s.reclaimWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// currentAuth forwards to the hook given to the latest Init.
func (e *Engine) currentAuth(prompt, username string) (string, string, bool) {
	if fn := e.auth.Load(); fn != nil && *fn != nil {
		return (*fn)(prompt, username)
	}
	e.Logger.Warn("authUnavailable", slog.String("prompt", prompt))
	return "", "", false
}

// Shutdown drops a reference taken by [*Engine.Init]. Extra calls are
// ignored.
//
// The last Shutdown stops the reclaimers, aborts in-flight transport
// calls, completes the records still queued with [ErrEngineClosed],
// waits for the workers and closes all connections. Deferred completions
// still run on the [MainContext] afterwards.
//
// Calling Shutdown from a [DeliverDirect] callback deadlocks.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.refs <= 0 {
		e.mu.Unlock()
		return
	}
	e.refs--
	refs := e.refs
	s := e.state
	if refs <= 0 {
		e.state = nil
	}
	e.mu.Unlock()

	e.Logger.Info(
		"engineShutdown",
		slog.Int("refs", refs),
		slog.Time("t", e.Config.TimeNow()),
	)
	if refs <= 0 {
		s.stop()
	}
}

func (s *engineState) stop() {
	s.reclaimCancel()
	s.reclaimWG.Wait()
	s.cancel()
	for _, rec := range s.pool.close() {
		s.cache.release(rec.conn)
		rec.complete(nil, ErrEngineClosed)
		s.dispatcher.deliver(rec)
	}
	s.cache.closeAll()
	if s.loopCancel != nil {
		s.loopCancel()
	}
}

// Enqueue submits req and returns its ID.
//
// The outcome is delivered according to req.Mode. Enqueue fails with
// [ErrNotInitialized] when the engine is not initialized.
func (e *Engine) Enqueue(req Request) (RequestID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.state
	if s == nil {
		return 0, ErrNotInitialized
	}
	if req.Server == "" {
		req.Server = e.Config.Server
	}
	if req.Path == "" {
		req.Path = "/"
	}

	rec := newRecord(req, NewSpanID(), e.Config.TimeNow())
	id := s.registry.register(rec)
	rec.conn = s.cache.acquire(req.Server)
	e.Logger.Info(
		"requestSubmit",
		slog.String("kind", rec.kind()),
		slog.String("mode", req.Mode.String()),
		slog.String("path", req.Path),
		slog.Uint64("requestID", uint64(id)),
		slog.String("server", req.Server),
		slog.String("spanID", rec.spanID),
		slog.Time("t", rec.submitted),
	)
	e.Config.Metrics.SetOutstanding(s.registry.count())

	if !s.pool.submit(rec) {
		s.cache.release(rec.conn)
		s.registry.remove(id)
		return 0, ErrEngineClosed
	}
	return id, nil
}

// Submit queues an IPP request for server and path and returns its ID.
//
// The callback runs on the [MainContext] and may be nil. The destroy
// function, if not nil, runs after it even when the request is canceled.
func (e *Engine) Submit(payload []byte, server, path string,
	callback Callback, data any, destroy DestroyFunc) (RequestID, error) {
	return e.Enqueue(Request{
		Server:   server,
		Path:     path,
		Payload:  payload,
		Callback: callback,
		Data:     data,
		Destroy:  destroy,
	})
}

// SubmitFile queues the download of path from server into sink and
// returns its ID. Callback semantics are like [*Engine.Submit].
func (e *Engine) SubmitFile(server, path string, sink io.Writer,
	callback Callback, data any, destroy DestroyFunc) (RequestID, error) {
	return e.Enqueue(Request{
		Server:   server,
		Path:     path,
		Sink:     sink,
		Callback: callback,
		Data:     data,
		Destroy:  destroy,
	})
}

// Cancel suppresses the callback of an outstanding request.
//
// The request still runs and its destroy function still runs. Unknown
// or already delivered IDs are ignored.
func (e *Engine) Cancel(id RequestID) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return
	}
	found := e.state.registry.cancel(id)
	e.Logger.Info(
		"requestCancel",
		slog.Bool("found", found),
		slog.Uint64("requestID", uint64(id)),
		slog.Time("t", e.Config.TimeNow()),
	)
}

// OutstandingCount returns the number of requests submitted and not yet
// delivered.
func (e *Engine) OutstandingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return 0
	}
	return e.state.registry.count()
}
