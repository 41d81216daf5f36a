//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package gnomecups

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc].
//
// The cfg argument contains the common configuration.
//
// The server argument is the server key the connection belongs to.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewObserveConnFunc(cfg *Config, server string, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Server:        server,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a cached server connection so that its wire I/O
// shows up in the logs.
//
// Reads and writes are logged at debug level as connRead and connWrite.
// Closing emits connCloseDone with the bytes moved over the lifetime of
// the connection, which may span many requests.
//
// [*HTTPTransport] inserts it after connecting when [Config.ObserveIO]
// is set. All fields are safe to modify after construction but before
// first use.
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Server is the server key attached to every event.
	Server string

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call implements [Func].
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return &observedConn{
		Conn:   conn,
		laddr:  safeconn.LocalAddr(conn),
		op:     op,
		opened: op.TimeNow(),
		raddr:  safeconn.RemoteAddr(conn),
	}, nil
}

// observedConn is a [net.Conn] counting and logging its I/O.
type observedConn struct {
	net.Conn
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
	closeonce    sync.Once
	laddr        string
	op           *ObserveConnFunc
	opened       time.Time
	raddr        string
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed].
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		err = c.Conn.Close()
		c.op.Logger.Info(
			"connCloseDone",
			slog.Int64("connBytesRead", c.bytesRead.Load()),
			slog.Int64("connBytesWritten", c.bytesWritten.Load()),
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.String("localAddr", c.laddr),
			slog.String("remoteAddr", c.raddr),
			slog.String("server", c.op.Server),
			slog.Time("t0", c.opened),
			slog.Time("t", c.op.TimeNow()),
		)
	})
	return
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	count, err := c.Conn.Read(buf)
	c.bytesRead.Add(int64(count))
	c.logIO("connRead", count, err)
	return count, err
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	count, err := c.Conn.Write(data)
	c.bytesWritten.Add(int64(count))
	c.logIO("connWrite", count, err)
	return count, err
}

func (c *observedConn) logIO(event string, count int, err error) {
	c.op.Logger.Debug(
		event,
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.String("localAddr", c.laddr),
		slog.String("remoteAddr", c.raddr),
		slog.String("server", c.op.Server),
		slog.Time("t", c.op.TimeNow()),
	)
}
