// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
//
// Only use it from a single goroutine; see [newConcurrentCapturingLogger].
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// capturedLog collects log records emitted from many goroutines.
type capturedLog struct {
	mu      sync.Mutex
	records []slog.Record
}

// messages returns the message of every captured record, in order.
func (c *capturedLog) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, record := range c.records {
		out = append(out, record.Message)
	}
	return out
}

// find returns the first captured record with the given message.
func (c *capturedLog) find(message string) (slog.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.records {
		if record.Message == message {
			return record, true
		}
	}
	return slog.Record{}, false
}

// newConcurrentCapturingLogger is like [newCapturingLogger] but safe to use
// from the engine worker and completion goroutines.
func newConcurrentCapturingLogger() (*slog.Logger, *capturedLog) {
	captured := &capturedLog{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			captured.mu.Lock()
			captured.records = append(captured.records, record)
			captured.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), captured
}

// recordAttr returns the value of the named attribute of record.
func recordAttr(record slog.Record, key string) (slog.Value, bool) {
	var (
		value slog.Value
		found bool
	)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value, found = attr.Value, true
			return false
		}
		return true
	})
	return value, found
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn and NameFunc returns
// "mock".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestConfig returns a config that ignores the environment, uses the
// given clock and never fires the periodic reclaimers on its own.
func newTestConfig(clock *fakeClock) *Config {
	cfg := newConfigWithEnv(func(string) string { return "" })
	cfg.TimeNow = clock.Now
	cfg.WorkerReclaimInterval = time.Hour
	cfg.ConnectionReclaimInterval = time.Hour
	return cfg
}

// funcTransport is a [Transport] backed by a function.
type funcTransport struct {
	OpenFunc func(ctx context.Context, server string, auth AuthFunc) (TransportConn, error)
}

var _ Transport = &funcTransport{}

// Open implements [Transport].
func (t *funcTransport) Open(ctx context.Context, server string, auth AuthFunc) (TransportConn, error) {
	return t.OpenFunc(ctx, server, auth)
}

// funcTransportConn is a [TransportConn] backed by functions.
type funcTransportConn struct {
	DoFunc      func(ctx context.Context, payload []byte, path string) (*Response, error)
	GetFileFunc func(ctx context.Context, path string, sink io.Writer) (int, error)
	CloseFunc   func() error
}

var _ TransportConn = &funcTransportConn{}

// Do implements [TransportConn].
func (c *funcTransportConn) Do(ctx context.Context, payload []byte, path string) (*Response, error) {
	return c.DoFunc(ctx, payload, path)
}

// GetFile implements [TransportConn].
func (c *funcTransportConn) GetFile(ctx context.Context, path string, sink io.Writer) (int, error) {
	return c.GetFileFunc(ctx, path, sink)
}

// Close implements [TransportConn].
func (c *funcTransportConn) Close() error {
	return c.CloseFunc()
}

// encodeResponse returns the wire header of an IPP/1.1 response
// followed by an end-of-attributes tag.
func encodeResponse(status Status, requestID uint32) []byte {
	raw := make([]byte, responseHeaderSize, responseHeaderSize+1)
	raw[0], raw[1] = 1, 1
	binary.BigEndian.PutUint16(raw[2:4], uint16(status))
	binary.BigEndian.PutUint32(raw[4:8], requestID)
	return append(raw, 0x03)
}

// okResponse returns a decoded successful response.
func okResponse() *Response {
	raw := encodeResponse(StatusOK, 1)
	return &Response{Major: 1, Minor: 1, Status: StatusOK, RequestID: 1, Raw: raw}
}
