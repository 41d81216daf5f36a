// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/safeconn"
	"github.com/miekg/dns"
)

// NewDNSOverUDPResolver returns a [*DNSOverUDPResolver] querying server.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDNSOverUDPResolver(cfg *Config, server netip.AddrPort, logger SLogger) *DNSOverUDPResolver {
	return &DNSOverUDPResolver{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Server:        server,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSOverUDPResolver is a [Resolver] that sends A queries to a fixed
// nameserver instead of going through the system resolver.
//
// Set it as [Config.Resolver] on hosts whose system configuration cannot
// resolve the print server name. Only IPv4 lookups are supported.
//
// All fields are safe to modify after construction but before first use.
type DNSOverUDPResolver struct {
	// Dialer creates the UDP socket.
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Server is the nameserver endpoint.
	Server netip.AddrPort

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Resolver = &DNSOverUDPResolver{}

// LookupNetIP implements [Resolver].
func (r *DNSOverUDPResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	if network != "ip" && network != "ip4" {
		return nil, errDNSUnsupportedNetwork
	}

	conn, err := r.Dialer.DialContext(ctx, "udp", r.Server.String())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := r.exchange(ctx, conn, dnscodec.NewQuery(host, dns.TypeA))
	if err != nil {
		return nil, err
	}
	records, err := resp.RecordsA()
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	for _, record := range records {
		addr, err := netip.ParseAddr(record)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (r *DNSOverUDPResolver) exchange(
	ctx context.Context, conn net.Conn, query *dnscodec.Query) (*dnscodec.Response, error) {
	laddr, raddr := safeconn.LocalAddr(conn), safeconn.RemoteAddr(conn)
	t0 := r.TimeNow()
	deadline, _ := ctx.Deadline()

	// We already own a connected socket, so the transport must never dial.
	txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	txp.ObserveRawQuery = func(rawQuery []byte) {
		r.Logger.Debug(
			"dnsQuery",
			slog.Any("dnsRawQuery", rawQuery),
			slog.String("localAddr", laddr),
			slog.String("remoteAddr", raddr),
			slog.Time("t", r.TimeNow()),
		)
	}
	txp.ObserveRawResponse = func(rawResp []byte) {
		r.Logger.Debug(
			"dnsResponse",
			slog.Any("dnsRawResponse", rawResp),
			slog.String("localAddr", laddr),
			slog.String("remoteAddr", raddr),
			slog.Time("t", r.TimeNow()),
		)
	}

	r.Logger.Info(
		"dnsExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", laddr),
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", raddr),
		slog.Time("t", t0),
	)
	resp, err := txp.ExchangeWithConn(ctx, conn, query)
	r.Logger.Info(
		"dnsExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", r.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr),
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", raddr),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
	)
	return resp, err
}

// errDNSUnsupportedNetwork is returned for lookups other than IPv4.
var errDNSUnsupportedNetwork = errors.New("gnomecups: DNS-over-UDP resolver only supports IPv4 lookups")

// dnsUnusedDialer is a [Dialer] that panics if DialContext is called.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("gnomecups: DNS transport must not dial; this is a programming error")
}
