// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// executor runs records on the worker goroutines.
type executor struct {
	// auth is passed to [Transport.Open].
	auth AuthFunc

	// cache owns the connections.
	cache *connCache

	// errClassifier classifies errors for structured logging.
	errClassifier ErrClassifier

	// logger is the [SLogger] to use.
	logger SLogger

	// metrics counts opened connections.
	metrics Collector

	// timeNow returns the current time.
	timeNow func() time.Time

	// transport opens connections.
	transport Transport
}

// execute runs rec while holding its connection lock and releases the
// connection reference taken at submission.
//
// Canceled records run anyway: cancellation only suppresses delivery.
func (e *executor) execute(ctx context.Context, rec *record) {
	rec.setState(recordExecuting)
	conn := rec.conn
	ctx = ContextWithSpanID(ctx, rec.spanID)

	conn.mu.Lock()
	t0 := e.timeNow()
	conn.lastUse = t0
	e.logger.Info(
		"requestStart",
		slog.Bool("canceled", rec.canceled.Load()),
		slog.String("kind", rec.kind()),
		slog.String("path", rec.Path),
		slog.Uint64("requestID", uint64(rec.id)),
		slog.String("server", conn.server),
		slog.String("spanID", rec.spanID),
		slog.Time("t", t0),
	)

	resp, err := e.run(ctx, conn, rec)

	conn.lastUse = e.timeNow()
	conn.mu.Unlock()
	e.cache.release(conn)
	rec.complete(resp, err)

	level := e.logger.Info
	var serr *StatusError
	if errors.As(err, &serr) && serr.Err == nil {
		level = e.logger.Warn
	}
	level(
		"requestDone",
		slog.Any("err", err),
		slog.String("errClass", e.errClassifier.Classify(err)),
		slog.String("kind", rec.kind()),
		slog.Uint64("requestID", uint64(rec.id)),
		slog.String("server", conn.server),
		slog.String("spanID", rec.spanID),
		slog.Time("t0", t0),
		slog.Time("t", e.timeNow()),
	)
}

// run performs the transport call. The caller holds conn.mu.
//
// When a handle kept from a previous record fails before any response
// arrives, the handle is reopened and the call is tried once more. A
// handle that cannot carry further requests is closed before returning.
func (e *executor) run(ctx context.Context, conn *Connection, rec *record) (*Response, error) {
	if rec.Payload == nil && rec.Sink == nil {
		return nil, internalError(ErrMalformedRequest)
	}

	reused := conn.handle != nil
	if err := e.open(ctx, conn); err != nil {
		return nil, err
	}
	resp, err := e.call(ctx, conn.handle, rec)
	if err != nil && reused && errors.Is(err, ErrNoResponse) && ctx.Err() == nil {
		e.reset(conn, "reconnect", err)
		if err := e.open(ctx, conn); err != nil {
			return nil, err
		}
		resp, err = e.call(ctx, conn.handle, rec)
	}

	switch {
	case err != nil && !isExchangeError(err):
		e.reset(conn, "transportError", err)
	case !isReusable(conn.handle):
		e.reset(conn, "serverClose", nil)
	}

	if err != nil {
		return nil, callError(rec, err)
	}
	if resp != nil && !resp.Status.Successful() {
		return nil, &StatusError{Status: resp.Status}
	}
	return resp, nil
}

// open opens the transport handle unless it is already open.
func (e *executor) open(ctx context.Context, conn *Connection) error {
	if conn.handle != nil {
		return nil
	}
	handle, err := e.transport.Open(ctx, conn.server, e.auth)
	if err != nil {
		return &ConnectError{Server: conn.server, Err: err}
	}
	conn.handle = handle
	e.metrics.IncConnectionsOpened()
	return nil
}

// call runs the IPP request, or the download when rec has no payload.
func (e *executor) call(ctx context.Context, handle TransportConn, rec *record) (*Response, error) {
	if rec.Payload != nil {
		return handle.Do(ctx, rec.Payload, rec.Path)
	}
	_, err := handle.GetFile(ctx, rec.Path, rec.Sink)
	return nil, err
}

// reset closes the handle so that the next record reconnects.
func (e *executor) reset(conn *Connection, reason string, err error) {
	cerr := conn.handle.Close()
	conn.handle = nil
	e.logger.Info(
		"connectionReset",
		slog.Any("err", err),
		slog.String("errClass", e.errClassifier.Classify(err)),
		slog.Any("closeErr", cerr),
		slog.String("reason", reason),
		slog.String("server", conn.server),
		slog.Time("t", e.timeNow()),
	)
}

// isExchangeError tells whether the server answered, so that the
// connection itself is still in a known state.
func isExchangeError(err error) bool {
	var herr *HTTPStatusError
	return errors.As(err, &herr) || errors.Is(err, ErrShortResponse)
}

// isReusable tells whether handle can carry another request.
func isReusable(handle TransportConn) bool {
	if r, ok := handle.(ReusableConn); ok {
		return r.Reusable()
	}
	return true
}

// callError maps a failed call to the error delivered to the caller.
//
// Downloads report HTTP failures as [*HTTPStatusError]; IPP requests
// report them as [*StatusError] with the matching IPP status.
func callError(rec *record, err error) error {
	var herr *HTTPStatusError
	if errors.As(err, &herr) {
		if rec.Payload == nil {
			return herr
		}
		return &StatusError{Status: statusFromHTTP(herr.Code), Err: err}
	}
	return internalError(err)
}

// statusFromHTTP maps the HTTP status of a failed IPP exchange.
func statusFromHTTP(code int) Status {
	switch code {
	case http.StatusUnauthorized:
		return StatusNotAuthenticated
	case http.StatusForbidden:
		return StatusForbidden
	case http.StatusNotFound:
		return StatusNotFound
	case http.StatusRequestEntityTooLarge:
		return StatusRequestEntityTooLarge
	default:
		return StatusInternalError
	}
}
