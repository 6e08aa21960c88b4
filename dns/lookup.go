package dns

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
	mdns "github.com/miekg/dns"
)

// IPVersion selects the address family of a single address lookup.
type IPVersion int

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

// infoBufferSize holds several SRV answers with full length targets.
const infoBufferSize = 4 * (sizeSRV + wire.MaxNameSize + 1)

// The typed lookups below are blocking: wait must be positive. Use Lookup
// with a zero wait and Complete for non-blocking resolution.

func (c *Client) lookupSized(ctx context.Context, name string, qtype uint16, size int, wait time.Duration) (*RecordBuffer, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "record buffer size %d", size)
	}
	if wait <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "wait must be positive, got %s", wait)
	}
	buf := NewRecordBuffer(size)
	return buf, c.Lookup(ctx, name, qtype, buf, wait)
}

// firstOf treats a full buffer as success once it holds an answer.
func firstOf(err error, n int) error {
	if n > 0 && errors.Is(err, ErrNeedMoreRecordBuffer) {
		return nil
	}
	if err == nil && n == 0 {
		return errors.Wrap(ErrQueryFailed, "empty answer")
	}
	return err
}

// HostByName returns the first IPv4 address of name.
func (c *Client) HostByName(ctx context.Context, name string, wait time.Duration) (netip.Addr, error) {
	return c.HostByNameVersion(ctx, name, IPv4, wait)
}

// HostByNameVersion returns the first address of name in the given family.
func (c *Client) HostByNameVersion(ctx context.Context, name string, v IPVersion, wait time.Duration) (netip.Addr, error) {
	var (
		qtype uint16
		size  int
	)
	switch v {
	case IPv4:
		qtype, size = wire.TypeA, sizeIPv4
	case IPv6:
		qtype, size = wire.TypeAAAA, sizeIPv6
	default:
		return netip.Addr{}, errors.Wrapf(ErrInvalidAddressType, "ip version %d", v)
	}
	buf, err := c.lookupSized(ctx, name, qtype, size, wait)
	if buf == nil {
		return netip.Addr{}, err
	}
	if err := firstOf(err, len(buf.Addresses())); err != nil {
		return netip.Addr{}, err
	}
	return buf.Addresses()[0], nil
}

// IPv4AddressesByName returns the A answers for name that fit in size bytes,
// four bytes each. When more were offered the stored ones are returned with
// ErrNeedMoreRecordBuffer.
func (c *Client) IPv4AddressesByName(ctx context.Context, name string, size int, wait time.Duration) ([]netip.Addr, error) {
	buf, err := c.lookupSized(ctx, name, wire.TypeA, size, wait)
	if buf == nil {
		return nil, err
	}
	return buf.Addresses(), err
}

// IPv6AddressesByName returns the AAAA answers for name that fit in size
// bytes, sixteen bytes each.
func (c *Client) IPv6AddressesByName(ctx context.Context, name string, size int, wait time.Duration) ([]netip.Addr, error) {
	buf, err := c.lookupSized(ctx, name, wire.TypeAAAA, size, wait)
	if buf == nil {
		return nil, err
	}
	return buf.Addresses(), err
}

// ReverseName returns the in-addr.arpa or ip6.arpa name of addr.
func ReverseName(addr netip.Addr) (string, error) {
	switch {
	case !addr.IsValid():
		return "", errors.Wrap(ErrBadAddress, "missing address")
	case addr.Zone() != "":
		return "", errors.Wrapf(ErrInvalidAddressType, "scoped address %s", addr)
	}
	name, err := mdns.ReverseAddr(addr.Unmap().String())
	if err != nil {
		return "", errors.Mark(err, ErrBadAddress)
	}
	return strings.TrimSuffix(name, "."), nil
}

// HostByAddress returns the host name a PTR record gives for addr.
func (c *Client) HostByAddress(ctx context.Context, addr netip.Addr, size int, wait time.Duration) (string, error) {
	name, err := ReverseName(addr)
	if err != nil {
		return "", err
	}
	return c.singleName(ctx, name, wire.TypePTR, size, wait)
}

// CNAME returns the canonical name of name.
func (c *Client) CNAME(ctx context.Context, name string, size int, wait time.Duration) (string, error) {
	return c.singleName(ctx, name, wire.TypeCNAME, size, wait)
}

// HostText returns the first character string of the TXT record of name.
func (c *Client) HostText(ctx context.Context, name string, size int, wait time.Duration) (string, error) {
	return c.singleName(ctx, name, wire.TypeTXT, size, wait)
}

func (c *Client) singleName(ctx context.Context, name string, qtype uint16, size int, wait time.Duration) (string, error) {
	buf, err := c.lookupSized(ctx, name, qtype, size, wait)
	if buf == nil {
		return "", err
	}
	if err := firstOf(err, len(buf.Names())); err != nil {
		return "", err
	}
	return buf.Names()[0], nil
}

// NameServers returns the NS answers for name with any glue addresses.
func (c *Client) NameServers(ctx context.Context, name string, size int, wait time.Duration) ([]NSEntry, error) {
	buf, err := c.lookupSized(ctx, name, wire.TypeNS, size, wait)
	if buf == nil {
		return nil, err
	}
	return buf.NameServers(), err
}

// MailExchanges returns the MX answers for name with any glue addresses.
func (c *Client) MailExchanges(ctx context.Context, name string, size int, wait time.Duration) ([]MXEntry, error) {
	buf, err := c.lookupSized(ctx, name, wire.TypeMX, size, wait)
	if buf == nil {
		return nil, err
	}
	return buf.MailExchanges(), err
}

// Services returns the SRV answers for name with any glue addresses.
func (c *Client) Services(ctx context.Context, name string, size int, wait time.Duration) ([]SRVEntry, error) {
	buf, err := c.lookupSized(ctx, name, wire.TypeSRV, size, wait)
	if buf == nil {
		return nil, err
	}
	return buf.Services(), err
}

// AuthorityZoneStart returns the SOA record of name.
func (c *Client) AuthorityZoneStart(ctx context.Context, name string, size int, wait time.Duration) (*SOAEntry, error) {
	buf, err := c.lookupSized(ctx, name, wire.TypeSOA, size, wait)
	if buf == nil {
		return nil, err
	}
	soa := buf.ZoneStart()
	n := 0
	if soa != nil {
		n = 1
	}
	if err := firstOf(err, n); err != nil {
		return nil, err
	}
	return soa, nil
}

// InfoByName returns the IPv4 address and port of the first service in the
// SRV answer for name. When the answer carried no glue for the target, the
// target is resolved with a second lookup.
func (c *Client) InfoByName(ctx context.Context, name string, wait time.Duration) (netip.Addr, uint16, error) {
	services, err := c.Services(ctx, name, infoBufferSize, wait)
	if err := firstOf(err, len(services)); err != nil {
		return netip.Addr{}, 0, err
	}
	first := services[0]
	if first.IPv4.IsValid() {
		return first.IPv4, first.Port, nil
	}
	addr, err := c.HostByName(ctx, first.Target, wait)
	if err != nil {
		return netip.Addr{}, 0, errors.Wrapf(err, "resolving service target %s", first.Target)
	}
	return addr, first.Port, nil
}
