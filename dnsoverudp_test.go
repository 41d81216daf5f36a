// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewDNSOverUDPResolver populates all fields from Config and the provided logger.
func TestNewDNSOverUDPResolver(t *testing.T) {
	cfg := NewConfig()
	server := netip.MustParseAddrPort("8.8.8.8:53")

	r := NewDNSOverUDPResolver(cfg, server, DefaultSLogger())

	require.NotNil(t, r)
	assert.Equal(t, server, r.Server)
	assert.NotNil(t, r.Dialer)
	assert.NotNil(t, r.Logger)
	assert.NotNil(t, r.TimeNow)
	assert.NotNil(t, r.ErrClassifier)
}

// LookupNetIP refuses IPv6 lookups without dialing.
func TestDNSOverUDPResolverUnsupportedNetwork(t *testing.T) {
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.Fatal("should not dial")
			return nil, nil
		},
	}

	r := NewDNSOverUDPResolver(cfg, netip.MustParseAddrPort("8.8.8.8:53"), DefaultSLogger())
	addrs, err := r.LookupNetIP(context.Background(), "ip6", "printhost")

	require.ErrorIs(t, err, errDNSUnsupportedNetwork)
	assert.Nil(t, addrs)
}

// LookupNetIP propagates dial errors.
func TestDNSOverUDPResolverDialError(t *testing.T) {
	wantErr := errors.New("network unreachable")
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			assert.Equal(t, "udp", network)
			assert.Equal(t, "8.8.8.8:53", address)
			return nil, wantErr
		},
	}

	r := NewDNSOverUDPResolver(cfg, netip.MustParseAddrPort("8.8.8.8:53"), DefaultSLogger())
	_, err := r.LookupNetIP(context.Background(), "ip4", "printhost")

	require.ErrorIs(t, err, wantErr)
}

// newDNSServerConn returns a conn that answers the first query it receives
// with an A record for each of addrs.
func newDNSServerConn(t *testing.T, addrs ...string) (*netstub.FuncConn, *bool) {
	var (
		mu     sync.Mutex
		reply  []byte
		closed bool
	)
	ready := make(chan struct{})

	conn := newMinimalConn()
	conn.RemoteAddrFunc = func() net.Addr {
		return &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}
	}
	conn.SetDeadlineFunc = func(time.Time) error { return nil }
	conn.SetReadDeadFunc = func(time.Time) error { return nil }
	conn.SetWriteDeaFunc = func(time.Time) error { return nil }
	conn.WriteFunc = func(b []byte) (int, error) {
		query := &dns.Msg{}
		require.NoError(t, query.Unpack(b))
		resp := &dns.Msg{}
		resp.SetReply(query)
		for _, addr := range addrs {
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{
					Name:   query.Question[0].Name,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    300,
				},
				A: net.ParseIP(addr).To4(),
			})
		}
		raw, err := resp.Pack()
		require.NoError(t, err)
		mu.Lock()
		reply = raw
		mu.Unlock()
		close(ready)
		return len(b), nil
	}
	conn.ReadFunc = func(b []byte) (int, error) {
		<-ready
		mu.Lock()
		defer mu.Unlock()
		return copy(b, reply), nil
	}
	conn.CloseFunc = func() error {
		mu.Lock()
		closed = true
		mu.Unlock()
		return nil
	}
	return conn, &closed
}

// LookupNetIP returns the A records and closes the socket.
func TestDNSOverUDPResolverSuccess(t *testing.T) {
	conn, closed := newDNSServerConn(t, "192.168.1.10", "192.168.1.11")
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return conn, nil
		},
	}

	r := NewDNSOverUDPResolver(cfg, netip.MustParseAddrPort("8.8.8.8:53"), DefaultSLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addrs, err := r.LookupNetIP(ctx, "ip", "printhost.example.com")

	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.168.1.10"),
		netip.MustParseAddr("192.168.1.11"),
	}, addrs)
	assert.True(t, *closed)
}

// LookupNetIP emits the exchange events around the raw messages.
func TestDNSOverUDPResolverLogging(t *testing.T) {
	conn, _ := newDNSServerConn(t, "192.168.1.10")
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return conn, nil
		},
	}
	logger, records := newConcurrentCapturingLogger()

	r := NewDNSOverUDPResolver(cfg, netip.MustParseAddrPort("8.8.8.8:53"), logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.LookupNetIP(ctx, "ip4", "printhost.example.com")
	require.NoError(t, err)

	messages := records.messages()
	require.NotEmpty(t, messages)
	assert.Equal(t, "dnsExchangeStart", messages[0])
	assert.Equal(t, "dnsExchangeDone", messages[len(messages)-1])
	assert.Contains(t, messages, "dnsQuery")
	assert.Contains(t, messages, "dnsResponse")

	done, found := records.find("dnsExchangeDone")
	require.True(t, found)
	errClass, found := recordAttr(done, "errClass")
	require.True(t, found)
	assert.Equal(t, "", errClass.String())
}
