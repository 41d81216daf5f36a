// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Destination is a parsed server key.
type Destination struct {
	// Network is "tcp" for host servers and "unix" for socket paths.
	Network string

	// Host is the host name, the IP literal or the socket path.
	Host string

	// Port is the TCP port. Zero for Unix sockets.
	Port uint16
}

// ParseDestination parses a server key such as "localhost",
// "printhost:8631", "[::1]:631" or "/run/cups/cups.sock".
//
// The defaultPort is used when the key carries no explicit port.
func ParseDestination(server string, defaultPort uint16) (Destination, error) {
	if strings.HasPrefix(server, "/") {
		return Destination{Network: "unix", Host: server}, nil
	}
	host, portString, err := net.SplitHostPort(server)
	if err != nil {
		host, portString = strings.Trim(server, "[]"), strconv.Itoa(int(defaultPort))
	}
	port, err := strconv.ParseUint(portString, 10, 16)
	if err != nil || port == 0 {
		return Destination{}, fmt.Errorf("gnomecups: invalid port in server %q", server)
	}
	if host == "" {
		return Destination{}, fmt.Errorf("gnomecups: empty host in server %q", server)
	}
	return Destination{Network: "tcp", Host: host, Port: uint16(port)}, nil
}

// URLHost returns the value to use as the host of request URLs.
func (d Destination) URLHost() string {
	if d.Network == "unix" {
		return "localhost"
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// Resolver abstracts the [*net.Resolver] behavior.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var _ Resolver = &net.Resolver{}

// NewResolveFunc returns a new [*ResolveFunc].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewResolveFunc(cfg *Config, logger SLogger) *ResolveFunc {
	return &ResolveFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Resolver:      cfg.Resolver,
		TimeNow:       cfg.TimeNow,
	}
}

// ResolveFunc maps a TCP [Destination] to the endpoints to connect to.
//
// IP literals are returned without performing any lookup.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ResolveFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Resolver performs the lookup.
	Resolver Resolver

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[Destination, []netip.AddrPort] = &ResolveFunc{}

// Call implements [Func].
func (op *ResolveFunc) Call(ctx context.Context, dest Destination) ([]netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(dest.Host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr, dest.Port)}, nil
	}

	t0 := op.TimeNow()
	op.Logger.Info(
		"dnsLookupStart",
		slog.String("dnsLookupDomain", dest.Host),
		slog.Time("t", t0),
	)

	addrs, err := op.Resolver.LookupNetIP(ctx, "ip", dest.Host)
	if err == nil && len(addrs) <= 0 {
		err = fmt.Errorf("gnomecups: no addresses for %q", dest.Host)
	}

	var endpoints []netip.AddrPort
	for _, addr := range addrs {
		endpoints = append(endpoints, netip.AddrPortFrom(addr.Unmap(), dest.Port))
	}

	op.Logger.Info(
		"dnsLookupDone",
		slog.Any("dnsResolvedAddrs", endpoints),
		slog.String("dnsLookupDomain", dest.Host),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	return endpoints, nil
}
