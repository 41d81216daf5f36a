// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ippBodyWrap wraps a response body so that we emit structured log events
// lazily: ippBodyStreamStart on the first Read, and ippBodyStreamDone
// on Close (only if at least one Read happened). The done event carries
// the number of bytes read.
func ippBodyWrap(
	body io.ReadCloser,
	errClass ErrClassifier,
	laddr string,
	logger SLogger,
	protocol string,
	raddr string,
	spanID string,
	timeNow func() time.Time,
) *ippBodyWrapper {
	return &ippBodyWrapper{
		body:     body,
		errClass: errClass,
		laddr:    laddr,
		logger:   logger,
		protocol: protocol,
		raddr:    raddr,
		spanID:   spanID,
		timeNow:  timeNow,
	}
}

type ippBodyWrapper struct {
	// body is the actual body.
	body io.ReadCloser

	// count is the number of bytes read so far.
	count atomic.Int64

	// didRead tracks whether at least one Read happened.
	didRead atomic.Bool

	// errClass is the err classifier in use.
	errClass ErrClassifier

	// laddr is the local address.
	laddr string

	// logger is the [SLogger] in use.
	logger SLogger

	// closeOnce ensures that Close has "once" semantics.
	closeOnce sync.Once

	// protocol is the network protocol ("tcp" or "unix").
	protocol string

	// raddr is the remote address.
	raddr string

	// readOnce ensures we log ippBodyStreamStart only once.
	readOnce sync.Once

	// spanID correlates the events with the owning record.
	spanID string

	// t0 is the time when we started reading the body.
	t0 time.Time

	// timeNow mocks [time.Now].
	timeNow func() time.Time
}

var _ io.ReadCloser = &ippBodyWrapper{}

// Close implements [io.ReadCloser].
func (b *ippBodyWrapper) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if b.didRead.Load() { // acquire: t0 is visible if this returns true
			b.logger.Info(
				"ippBodyStreamDone",
				slog.Int64("ippBodyBytes", b.count.Load()),
				slog.Any("err", err),
				slog.String("errClass", b.errClass.Classify(err)),
				slog.String("localAddr", b.laddr),
				slog.String("protocol", b.protocol),
				slog.String("remoteAddr", b.raddr),
				slog.String("spanID", b.spanID),
				slog.Time("t0", b.t0),
				slog.Time("t", b.timeNow()),
			)
		}
	})
	return
}

// Read implements [io.ReadCloser].
func (b *ippBodyWrapper) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.timeNow()    // write t0 BEFORE the atomic store (release)
		b.didRead.Store(true) // release: makes t0 visible to Close
		b.logger.Info(
			"ippBodyStreamStart",
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.String("spanID", b.spanID),
			slog.Time("t", b.t0),
		)
	})
	count, err := b.body.Read(buffer)
	b.count.Add(int64(count))
	return count, err
}

// Count returns the number of bytes read so far.
func (b *ippBodyWrapper) Count() int64 {
	return b.count.Load()
}
