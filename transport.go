// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/netip"
)

// Transport opens connections to IPP servers.
//
// The [*Engine] calls Open from a worker goroutine, holding the lock
// of the cached connection for server.
type Transport interface {
	Open(ctx context.Context, server string, auth AuthFunc) (TransportConn, error)
}

// TransportConn is an open connection to an IPP server.
//
// Calls are serialized by the owner: implementations need not be safe
// for concurrent use.
type TransportConn interface {
	// Do sends an encoded IPP request to path and returns the response.
	Do(ctx context.Context, payload []byte, path string) (*Response, error)

	// GetFile downloads path into sink and returns the bytes written.
	GetFile(ctx context.Context, path string, sink io.Writer) (int, error)

	// Close closes the connection.
	Close() error
}

// ReusableConn is optionally implemented by a [TransportConn] that knows
// whether it can carry another request.
//
// A handle whose Reusable returns false is closed after the current call
// and the next request opens a new one.
type ReusableConn interface {
	Reusable() bool
}

// NewHTTPTransport returns a new [*HTTPTransport].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPTransport(cfg *Config, logger SLogger) *HTTPTransport {
	return &HTTPTransport{Config: cfg, Logger: logger}
}

// HTTPTransport is the default [Transport]: IPP over HTTP/1.1 (or HTTP/2
// when negotiated via ALPN) on TCP or on a Unix domain socket.
//
// Opening a TCP server resolves the host, connects to the first reachable
// address and, when [Encryption.UsesTLS], performs a TLS handshake.
// Opening a Unix socket server skips resolution and TLS.
type HTTPTransport struct {
	// Config is the common configuration.
	Config *Config

	// Logger is the [SLogger] to use.
	Logger SLogger
}

var _ Transport = &HTTPTransport{}

// Open implements [Transport].
func (t *HTTPTransport) Open(ctx context.Context, server string, auth AuthFunc) (TransportConn, error) {
	dest, err := ParseDestination(server, t.Config.Port)
	if err != nil {
		return nil, err
	}

	connect := NewConnectFunc(t.Config, t.Logger)
	observe := t.observeFunc(server)
	if dest.Network == "unix" {
		return t.openUnix(ctx, dest, observe, auth)
	}

	resolve := NewResolveFunc(t.Config, t.Logger)
	if !t.Config.Encryption.UsesTLS() {
		pipeline := Compose4[Destination, []netip.AddrPort, net.Conn, net.Conn, *IPPConn](
			resolve,
			connect,
			observe,
			NewIPPConnFunc[net.Conn](t.Config, dest.URLHost(), auth, t.Logger),
		)
		return asTransportConn(pipeline.Call(ctx, dest))
	}

	pipeline := Compose4[Destination, []netip.AddrPort, net.Conn, TLSConn, *IPPConn](
		resolve,
		Compose2[[]netip.AddrPort, net.Conn, net.Conn](connect, observe),
		NewTLSHandshakeFunc(t.Config, t.tlsConfig(dest), t.Logger),
		NewIPPConnFunc[TLSConn](t.Config, dest.URLHost(), auth, t.Logger),
	)
	return asTransportConn(pipeline.Call(ctx, dest))
}

// observeFunc returns the stage that runs right after connecting.
func (t *HTTPTransport) observeFunc(server string) Func[net.Conn, net.Conn] {
	if !t.Config.ObserveIO {
		return FuncAdapter[net.Conn, net.Conn](func(ctx context.Context, conn net.Conn) (net.Conn, error) {
			return conn, nil
		})
	}
	return NewObserveConnFunc(t.Config, server, t.Logger)
}

// openUnix dials the socket at dest.Host and wraps it into an [*IPPConn].
func (t *HTTPTransport) openUnix(ctx context.Context,
	dest Destination, observe Func[net.Conn, net.Conn], auth AuthFunc) (TransportConn, error) {
	conn, err := NewConnectFunc(t.Config, t.Logger).DialUnix(ctx, dest.Host)
	if err != nil {
		return nil, err
	}
	pipeline := Compose2[net.Conn, net.Conn, *IPPConn](
		observe,
		NewIPPConnFunc[net.Conn](t.Config, dest.URLHost(), auth, t.Logger),
	)
	return asTransportConn(pipeline.Call(ctx, conn))
}

// asTransportConn avoids returning a non-nil interface holding a nil pointer.
func asTransportConn(conn *IPPConn, err error) (TransportConn, error) {
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *HTTPTransport) tlsConfig(dest Destination) *tls.Config {
	if t.Config.TLSConfig != nil {
		return t.Config.TLSConfig
	}
	return &tls.Config{
		NextProtos: []string{"http/1.1"},
		ServerName: dest.Host,
	}
}
