//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/httpslog/httpslog.go
//

package gnomecups

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// ippContentType is the media type of IPP messages.
const ippContentType = "application/ipp"

// IPPConn is an IPP-over-HTTP connection to a single server.
//
// It implements [TransportConn] and [ReusableConn]. The underlying
// connection is kept alive across requests. Once the server announces it
// is closing the connection, or a round trip fails without a response,
// [*IPPConn.Reusable] returns false and the owner must open a new
// [*IPPConn].
//
// IPPConn performs round trips with structured logging:
// ippRoundTripStart/ippRoundTripDone events are emitted around each HTTP
// exchange and response bodies streamed by [*IPPConn.GetFile] emit
// ippBodyStreamStart/ippBodyStreamDone events.
//
// Construct using [NewIPPConnFunc].
type IPPConn struct {
	// conn is the underlying connection.
	conn net.Conn

	// txp is the HTTP transport.
	txp http.RoundTripper

	// closeIdleFunc closes idle connections in the transport.
	closeIdleFunc func()

	// closing is set once the connection cannot carry more requests.
	closing atomic.Bool

	// baseURL is the scheme and host of request URLs.
	baseURL url.URL

	// Auth supplies credentials on 401. When nil, a 401 fails the request.
	Auth AuthFunc

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	TimeNow func() time.Time

	// Username is offered to Auth.
	Username string
}

var (
	_ TransportConn = &IPPConn{}
	_ ReusableConn  = &IPPConn{}
)

// Reusable implements [ReusableConn].
func (c *IPPConn) Reusable() bool {
	return !c.closing.Load()
}

// Do POSTs the encoded IPP request to path and decodes the response.
//
// A non-200 HTTP status yields [*HTTPStatusError]. The IPP status is not
// interpreted here: the caller decides whether it denotes success.
func (c *IPPConn) Do(ctx context.Context, payload []byte, path string) (*Response, error) {
	c.Logger.Debug(
		"ippRequest",
		slog.Int("ippRequestSize", len(payload)),
		slog.String("ippPath", path),
		slog.String("spanID", SpanIDFromContext(ctx)),
	)
	resp, err := c.send(ctx, http.MethodPost, path, func() io.Reader {
		return bytes.NewReader(payload)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug(
		"ippResponse",
		slog.Int("ippResponseSize", len(raw)),
		slog.String("ippPath", path),
		slog.String("spanID", SpanIDFromContext(ctx)),
	)
	return DecodeResponse(raw)
}

// GetFile GETs path and streams the body into sink.
//
// It returns the number of bytes written. A non-200 HTTP status yields
// [*HTTPStatusError] and nothing is written. Output already written when
// a transfer error occurs is left in the sink.
func (c *IPPConn) GetFile(ctx context.Context, path string, sink io.Writer) (int, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	body := ippBodyWrap(
		resp.Body,
		c.ErrClassifier,
		safeconn.LocalAddr(c.conn),
		c.Logger,
		safeconn.Network(c.conn),
		safeconn.RemoteAddr(c.conn),
		SpanIDFromContext(ctx),
		c.TimeNow,
	)
	count, err := io.Copy(sink, body)
	body.Close()
	return int(count), err
}

// send performs the request, retrying once with credentials on 401.
//
// On success the response status is 200 and the caller owns the body.
// Round trip failures wrap [ErrNoResponse].
func (c *IPPConn) send(ctx context.Context,
	method, path string, newBody func() io.Reader) (*http.Response, error) {
	var (
		user, password string
		withAuth       bool
	)
	for {
		req, err := c.newRequest(ctx, method, path, newBody)
		if err != nil {
			return nil, err
		}
		if withAuth {
			req.SetBasicAuth(user, password)
		}
		resp, err := c.RoundTrip(req)
		if err != nil {
			c.closing.Store(true)
			return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
		}
		if resp.Close {
			c.closing.Store(true)
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		// Drain so that the kept-alive connection stays usable
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized || withAuth {
			return nil, &HTTPStatusError{Code: resp.StatusCode}
		}
		if c.Auth == nil {
			c.Logger.Warn(
				"ippAuthUnavailable",
				slog.String("httpUrl", req.URL.String()),
				slog.String("spanID", SpanIDFromContext(ctx)),
			)
			return nil, &HTTPStatusError{Code: resp.StatusCode}
		}
		var ok bool
		user, password, ok = c.Auth(authPrompt(c.Username, c.baseURL.Host), c.Username)
		if !ok {
			return nil, &HTTPStatusError{Code: resp.StatusCode}
		}
		withAuth = true
	}
}

func (c *IPPConn) newRequest(ctx context.Context,
	method, path string, newBody func() io.Reader) (*http.Request, error) {
	URL := c.baseURL
	URL.Path = path
	var body io.Reader
	if newBody != nil {
		body = newBody()
	}
	req, err := http.NewRequestWithContext(ctx, method, URL.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", ippContentType)
	}
	return req, nil
}

// RoundTrip implements [http.RoundTripper].
func (c *IPPConn) RoundTrip(req *http.Request) (*http.Response, error) {
	// 1. Get the underlying connection for logging metadata
	conn := c.conn

	// 2. Log before the round trip
	t0 := c.TimeNow()
	deadline, _ := req.Context().Deadline()
	ippLogRoundTripStart(c, conn, req, t0, deadline)

	// 3. Perform the round trip
	resp, err := c.txp.RoundTrip(req)

	// 4. Log after the round trip
	ippLogRoundTripDone(c, conn, req, t0, deadline, resp, err)
	return resp, err
}

// Close cleans up the transport and closes the underlying connection.
func (c *IPPConn) Close() error {
	c.closeIdleFunc()
	return c.conn.Close()
}

// Conn returns the underlying [net.Conn] used by this [*IPPConn].
func (c *IPPConn) Conn() net.Conn {
	return c.conn
}

func ippLogRoundTripStart(c *IPPConn, conn net.Conn, req *http.Request, t0 time.Time, deadline time.Time) {
	c.Logger.Info(
		"ippRoundTripStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", SpanIDFromContext(req.Context())),
		slog.Time("t", t0),
	)
}

func ippLogRoundTripDone(c *IPPConn, conn net.Conn, req *http.Request,
	t0 time.Time, deadline time.Time, resp *http.Response, err error) {
	var statusCode int
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.Logger.Info(
		"ippRoundTripDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", c.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", SpanIDFromContext(req.Context())),
		slog.Time("t0", t0),
		slog.Time("t", c.TimeNow()),
	)
}

// IPPConnFunc wraps a connection into an [*IPPConn].
//
// This is a generic [Func] that can be composed into pipelines. It creates an
// [*IPPConn] from the input connection with ALPN-based protocol detection.
// Connections exposing a TLS connection state are addressed with https URLs.
//
// The caller is responsible for closing the returned [*IPPConn].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type IPPConnFunc[T net.Conn] struct {
	// Auth supplies credentials on 401.
	//
	// Set by [NewIPPConnFunc] to the user-provided auth function.
	Auth AuthFunc

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewIPPConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Host is the host of request URLs.
	//
	// Set by [NewIPPConnFunc] to the user-provided host.
	Host string

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewIPPConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewIPPConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time

	// Username is offered to Auth.
	//
	// Set by [NewIPPConnFunc] from [Config.Username].
	Username string
}

// NewIPPConnFunc returns a new [*IPPConnFunc].
//
// The cfg argument contains the common configuration.
//
// The host argument is the host of request URLs (e.g., "localhost:631").
//
// The auth argument may be nil.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewIPPConnFunc[T net.Conn](cfg *Config, host string, auth AuthFunc, logger SLogger) *IPPConnFunc[T] {
	return &IPPConnFunc[T]{
		Auth:          auth,
		ErrClassifier: cfg.ErrClassifier,
		Host:          host,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		Username:      cfg.Username,
	}
}

var _ Func[net.Conn, *IPPConn] = &IPPConnFunc[net.Conn]{}
var _ Func[TLSConn, *IPPConn] = &IPPConnFunc[TLSConn]{}

// Call implements [Func].
func (op *IPPConnFunc[T]) Call(ctx context.Context, conn T) (*IPPConn, error) {
	// Obtain the protocol that was negotiated
	type connectionStater interface {
		ConnectionState() tls.ConnectionState
	}
	scheme, alpn := "http", ""
	if csp, ok := any(conn).(connectionStater); ok {
		scheme, alpn = "https", csp.ConnectionState().NegotiatedProtocol
	}

	// Create a special dialer that works just once
	dialer := sud.NewSingleUseDialer(conn)

	// Create proper transport depending on ALPN
	var txp http.RoundTripper
	var closeIdleFunc func()
	switch alpn {
	case "h2":
		h2txp := &http2.Transport{
			DialTLSContext:     dialer.DialTLSContext,
			DisableCompression: false,
		}
		txp = h2txp
		closeIdleFunc = h2txp.CloseIdleConnections

	default:
		h1txp := &http.Transport{
			DialContext:         dialer.DialContext,
			DialTLSContext:      dialer.DialContext,
			DisableKeepAlives:   false,
			DisableCompression:  false,
			MaxIdleConnsPerHost: 1,
		}
		txp = h1txp
		closeIdleFunc = h1txp.CloseIdleConnections
	}

	ic := &IPPConn{
		conn:          conn,
		txp:           txp,
		closeIdleFunc: closeIdleFunc,
		baseURL:       url.URL{Scheme: scheme, Host: op.Host},
		Auth:          op.Auth,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
		Username:      op.Username,
	}
	return ic, nil
}
