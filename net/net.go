// Package net dials hosts whose names are resolved by a stub resolver
// client instead of the system resolver.
package net

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"github.com/agentuity/go-stubdns/dns"
	"github.com/cockroachdb/errors"
)

const (
	DefaultDialTimeout   = 30 * time.Second
	DefaultLookupTimeout = 2 * time.Second
	DefaultUserAgent     = "go-stubdns"
)

// Resolver is the part of a dns.Client a Dialer uses.
type Resolver interface {
	HostByNameVersion(ctx context.Context, name string, v dns.IPVersion, wait time.Duration) (netip.Addr, error)
}

var _ Resolver = (*dns.Client)(nil)

type Dialer struct {
	Timeout   time.Duration
	Deadline  time.Time
	LocalAddr net.Addr
	KeepAlive time.Duration
	Control   func(network, address string, c syscall.RawConn) error

	resolver   Resolver
	lookupWait time.Duration
	preferIPv6 bool
}

type dialerOptions struct {
	lookupWait time.Duration
	preferIPv6 bool
}

type DialOption func(*dialerOptions)

// WithLookupTimeout sets the wait for the first attempt of each lookup.
func WithLookupTimeout(d time.Duration) DialOption {
	return func(opts *dialerOptions) {
		opts.lookupWait = d
	}
}

// WithIPv6First tries the AAAA answer before the A answer.
func WithIPv6First() DialOption {
	return func(opts *dialerOptions) {
		opts.preferIPv6 = true
	}
}

func New(resolver Resolver, opts ...DialOption) (*Dialer, error) {
	if resolver == nil {
		return nil, errors.New("no resolver provided")
	}
	options := &dialerOptions{
		lookupWait: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.lookupWait <= 0 {
		return nil, errors.Newf("lookup timeout must be positive, got %s", options.lookupWait)
	}
	return &Dialer{
		Timeout:    DefaultDialTimeout,
		resolver:   resolver,
		lookupWait: options.lookupWait,
		preferIPv6: options.preferIPv6,
	}, nil
}

// families returns the address families to try for network, in order.
func (d *Dialer) families(network string) ([]dns.IPVersion, error) {
	switch network {
	case "tcp4", "udp4":
		return []dns.IPVersion{dns.IPv4}, nil
	case "tcp6", "udp6":
		return []dns.IPVersion{dns.IPv6}, nil
	case "tcp", "udp":
		if d.preferIPv6 {
			return []dns.IPVersion{dns.IPv6, dns.IPv4}, nil
		}
		return []dns.IPVersion{dns.IPv4, dns.IPv6}, nil
	}
	return nil, errors.Newf("unsupported network %q", network)
}

// Resolve returns the addresses of host usable on network, in the order they
// should be tried. Address literals are returned as they are.
func (d *Dialer) Resolve(ctx context.Context, network, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	families, err := d.families(network)
	if err != nil {
		return nil, err
	}
	var (
		addrs []netip.Addr
		errs  error
	)
	for _, v := range families {
		addr, err := d.resolver.HostByNameVersion(ctx, host, v, d.lookupWait)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "IPv%d", v))
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, errors.Wrapf(errs, "resolving %s", host)
	}
	return addrs, nil
}

func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	addrs, err := d.Resolve(ctx, network, host)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{
		Timeout:   d.Timeout,
		Deadline:  d.Deadline,
		LocalAddr: d.LocalAddr,
		KeepAlive: d.KeepAlive,
		Control:   d.Control,
	}
	var errs error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}
		errs = errors.CombineErrors(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}

func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

type defaultRoundTripper struct {
	next http.RoundTripper
}

func (d *defaultRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	return d.next.RoundTrip(req)
}

// NewHTTPClient returns an HTTP client whose connections are dialed by d.
func NewHTTPClient(d *Dialer) *http.Client {
	return &http.Client{
		Transport: &defaultRoundTripper{
			next: &http.Transport{
				DialContext: d.DialContext,
			},
		},
	}
}
