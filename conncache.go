// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Connection is the cached, shared connection to a server.
//
// The transport handle is opened lazily by the first worker that needs
// it and is only touched while holding mu. Every outstanding record for
// the server holds one reference.
type Connection struct {
	// server is the cache key.
	server string

	// mu serializes transport calls and guards handle and lastUse.
	mu sync.Mutex

	// handle is nil until opened and after a transport failure.
	handle TransportConn

	// lastUse is when a worker last used the connection.
	lastUse time.Time

	// refs counts outstanding records.
	refs atomic.Int32
}

// Server returns the server key of the connection.
func (c *Connection) Server() string {
	return c.server
}

// connCache maps server keys to shared connections.
//
// The cache mutex is held only for map operations and never across a
// transport call.
type connCache struct {
	// mu guards conns.
	mu sync.Mutex

	// conns is keyed by server.
	conns map[string]*Connection

	// errClassifier classifies close errors.
	errClassifier ErrClassifier

	// idleTimeout is how long an unreferenced connection may stay idle.
	idleTimeout time.Duration

	// logger is the [SLogger] to use.
	logger SLogger

	// metrics receives the cache size.
	metrics Collector

	// timeNow returns the current time.
	timeNow func() time.Time
}

func newConnCache(cfg *Config, logger SLogger) *connCache {
	return &connCache{
		conns:         make(map[string]*Connection),
		errClassifier: cfg.ErrClassifier,
		idleTimeout:   cfg.ConnectionIdleTimeout,
		logger:        logger,
		metrics:       cfg.Metrics,
		timeNow:       cfg.TimeNow,
	}
}

// acquire returns the connection for server, creating it if needed, and
// takes a reference on it.
func (c *connCache) acquire(server string) *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, found := c.conns[server]
	if !found {
		conn = &Connection{server: server, lastUse: c.timeNow()}
		c.conns[server] = conn
		c.metrics.SetConnections(len(c.conns))
	}
	conn.refs.Add(1)
	return conn
}

// release drops a reference taken by acquire. It never closes.
func (c *connCache) release(conn *Connection) {
	conn.refs.Add(-1)
}

// reclaimIdle evicts the connections that nobody references and that
// have been idle for longer than the idle timeout, and returns how many
// it evicted. Connections currently locked by a worker are skipped.
func (c *connCache) reclaimIdle(now time.Time) int {
	var victims []*Connection
	c.mu.Lock()
	for server, conn := range c.conns {
		if !conn.mu.TryLock() {
			continue
		}
		// refs only grows under c.mu, which we hold
		if conn.refs.Load() == 0 && now.Sub(conn.lastUse) > c.idleTimeout {
			delete(c.conns, server)
			victims = append(victims, conn)
		}
		conn.mu.Unlock()
	}
	c.metrics.SetConnections(len(c.conns))
	c.mu.Unlock()

	for _, conn := range victims {
		c.closeConn(conn, now, "idle")
	}
	c.metrics.AddConnectionsReclaimed(len(victims))
	return len(victims)
}

// closeAll evicts and closes every connection.
func (c *connCache) closeAll() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*Connection)
	c.metrics.SetConnections(0)
	c.mu.Unlock()

	now := c.timeNow()
	for _, conn := range conns {
		c.closeConn(conn, now, "shutdown")
	}
}

// len returns the number of cached connections.
func (c *connCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *connCache) closeConn(conn *Connection, now time.Time, reason string) {
	conn.mu.Lock()
	handle := conn.handle
	conn.handle = nil
	lastUse := conn.lastUse
	conn.mu.Unlock()

	var err error
	if handle != nil {
		err = handle.Close()
	}
	c.logger.Info(
		"connectionReclaim",
		slog.Any("err", err),
		slog.String("errClass", c.errClassifier.Classify(err)),
		slog.Bool("opened", handle != nil),
		slog.String("reason", reason),
		slog.String("server", conn.server),
		slog.Time("lastUse", lastUse),
		slog.Time("t", now),
	)
}
