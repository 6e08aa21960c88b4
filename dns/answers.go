package dns

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/agentuity/go-stubdns/cache"
	"github.com/agentuity/go-stubdns/rrcache"
	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
)

// answerFromCache fills buf from the answer cache. NS, MX and SRV entries
// get their addresses from cached A and AAAA records of their hosts.
func (c *Client) answerFromCache(q query, buf *RecordBuffer) bool {
	if c.rr == nil {
		return false
	}
	now := c.clock.Seconds()
	n, err := c.rr.Find(now, q.name, q.qtype, func(a rrcache.Answer) bool {
		return addCached(buf, a) == nil
	})
	if err != nil || n == 0 {
		buf.Reset()
		return false
	}
	for i := range buf.ns {
		c.cachedGlue(now, buf.ns[i].Host, &buf.ns[i].IPv4, &buf.ns[i].IPv6)
	}
	for i := range buf.mx {
		c.cachedGlue(now, buf.mx[i].Host, &buf.mx[i].IPv4, &buf.mx[i].IPv6)
	}
	for i := range buf.srv {
		c.cachedGlue(now, buf.srv[i].Target, &buf.srv[i].IPv4, &buf.srv[i].IPv6)
	}
	c.logger.Debug("%s answered from cache with %d records", q, n)
	return true
}

func (c *Client) cachedGlue(now uint32, host string, v4, v6 *netip.Addr) {
	for rtype, dst := range map[uint16]*netip.Addr{wire.TypeA: v4, wire.TypeAAAA: v6} {
		_, _ = c.rr.Find(now, host, rtype, func(a rrcache.Answer) bool {
			if addr, ok := netip.AddrFromSlice(a.Data); ok && !dst.IsValid() {
				*dst = addr
			}
			return true
		})
	}
}

func addCached(buf *RecordBuffer, a rrcache.Answer) error {
	switch a.Type {
	case wire.TypeA, wire.TypeAAAA:
		addr, ok := netip.AddrFromSlice(a.Data)
		if !ok {
			return errors.Wrapf(ErrCacheError, "cached address of %d bytes", len(a.Data))
		}
		return buf.addAddr(addr, a.TTL)
	case wire.TypeCNAME, wire.TypePTR:
		return buf.addName(a.Target, a.TTL)
	case wire.TypeTXT:
		return buf.addName(string(a.Data), a.TTL)
	case wire.TypeNS:
		return buf.addNS(NSEntry{Host: a.Target}, a.TTL)
	case wire.TypeMX:
		pref, err := wire.Uint16(a.Data, 0)
		if err != nil {
			return errors.Mark(err, ErrCacheError)
		}
		return buf.addMX(MXEntry{Preference: pref, Host: a.Target}, a.TTL)
	case wire.TypeSRV:
		if len(a.Data) < 6 {
			return errors.Wrapf(ErrCacheError, "cached SRV data of %d bytes", len(a.Data))
		}
		e := SRVEntry{Target: a.Target}
		e.Priority, _ = wire.Uint16(a.Data, 0)
		e.Weight, _ = wire.Uint16(a.Data, 2)
		e.Port, _ = wire.Uint16(a.Data, 4)
		return buf.addSRV(e, a.TTL)
	case wire.TypeSOA:
		if len(a.Data) < soaFixedSize {
			return errors.Wrapf(ErrCacheError, "cached SOA data of %d bytes", len(a.Data))
		}
		e := SOAEntry{Host: a.Target, Mailbox: a.Mailbox}
		e.Serial, _ = wire.Uint32(a.Data, 0)
		e.Refresh, _ = wire.Uint32(a.Data, 4)
		e.Retry, _ = wire.Uint32(a.Data, 8)
		e.Expire, _ = wire.Uint32(a.Data, 12)
		e.Minimum, _ = wire.Uint32(a.Data, 16)
		return buf.setSOA(e, a.TTL)
	}
	return errors.Wrapf(ErrCacheError, "cached record of type %d", a.Type)
}

// storedHost is the stored form of an NS, MX or SRV entry.
type storedHost struct {
	Host       string `msgpack:"host"`
	Preference uint16 `msgpack:"pref,omitempty"`
	Priority   uint16 `msgpack:"prio,omitempty"`
	Weight     uint16 `msgpack:"weight,omitempty"`
	Port       uint16 `msgpack:"port,omitempty"`
	IPv4       string `msgpack:"ipv4,omitempty"`
	IPv6       string `msgpack:"ipv6,omitempty"`
}

// storedResult is a finished lookup as kept in the result store.
type storedResult struct {
	TTL   uint32       `msgpack:"ttl"`
	Addrs []string     `msgpack:"addrs,omitempty"`
	Names []string     `msgpack:"names,omitempty"`
	NS    []storedHost `msgpack:"ns,omitempty"`
	MX    []storedHost `msgpack:"mx,omitempty"`
	SRV   []storedHost `msgpack:"srv,omitempty"`
	SOA   *SOAEntry    `msgpack:"soa,omitempty"`
}

func storeKey(q query) string {
	return "dns:" + typeName(q.qtype) + ":" + strings.ToLower(strings.TrimSuffix(q.name, "."))
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func parseStored(s string) netip.Addr {
	addr, _ := netip.ParseAddr(s)
	return addr
}

func snapshot(buf *RecordBuffer) storedResult {
	res := storedResult{TTL: buf.minTTL, Names: append([]string(nil), buf.names...), SOA: buf.soa}
	for _, a := range buf.addrs {
		res.Addrs = append(res.Addrs, a.String())
	}
	for _, e := range buf.ns {
		res.NS = append(res.NS, storedHost{Host: e.Host, IPv4: addrString(e.IPv4), IPv6: addrString(e.IPv6)})
	}
	for _, e := range buf.mx {
		res.MX = append(res.MX, storedHost{Host: e.Host, Preference: e.Preference, IPv4: addrString(e.IPv4), IPv6: addrString(e.IPv6)})
	}
	for _, e := range buf.srv {
		res.SRV = append(res.SRV, storedHost{
			Host: e.Target, Priority: e.Priority, Weight: e.Weight, Port: e.Port,
			IPv4: addrString(e.IPv4), IPv6: addrString(e.IPv6),
		})
	}
	return res
}

func (res storedResult) restore(buf *RecordBuffer) error {
	for _, s := range res.Addrs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return errors.Wrapf(ErrCacheError, "stored address %q", s)
		}
		if err := buf.addAddr(addr, res.TTL); err != nil {
			return err
		}
	}
	for _, name := range res.Names {
		if err := buf.addName(name, res.TTL); err != nil {
			return err
		}
	}
	for _, h := range res.NS {
		if err := buf.addNS(NSEntry{Host: h.Host, IPv4: parseStored(h.IPv4), IPv6: parseStored(h.IPv6)}, res.TTL); err != nil {
			return err
		}
	}
	for _, h := range res.MX {
		e := MXEntry{Preference: h.Preference, Host: h.Host, IPv4: parseStored(h.IPv4), IPv6: parseStored(h.IPv6)}
		if err := buf.addMX(e, res.TTL); err != nil {
			return err
		}
	}
	for _, h := range res.SRV {
		e := SRVEntry{Priority: h.Priority, Weight: h.Weight, Port: h.Port, Target: h.Host, IPv4: parseStored(h.IPv4), IPv6: parseStored(h.IPv6)}
		if err := buf.addSRV(e, res.TTL); err != nil {
			return err
		}
	}
	if res.SOA != nil {
		return buf.setSOA(*res.SOA, res.TTL)
	}
	return nil
}

// answerFromStore fills buf from the shared result store.
func (c *Client) answerFromStore(ctx context.Context, q query, buf *RecordBuffer) bool {
	if c.store == nil {
		return false
	}
	found, res, err := cache.GetValue[storedResult](ctx, c.store, storeKey(q))
	if err != nil {
		c.logger.Debug("reading %s from result store: %v", q, err)
		return false
	}
	if !found {
		return false
	}
	if err := res.restore(buf); err != nil || buf.Count() == 0 {
		buf.Reset()
		return false
	}
	c.logger.Debug("%s answered from result store", q)
	return true
}

// storeResult shares a finished lookup for the smallest TTL among its
// records, capped at MaxResultTTL.
func (c *Client) storeResult(ctx context.Context, q query, buf *RecordBuffer) {
	if c.store == nil || buf.Count() == 0 || buf.minTTL == 0 {
		return
	}
	ttl := min(time.Duration(buf.minTTL)*time.Second, MaxResultTTL)
	if err := c.store.Set(ctx, storeKey(q), snapshot(buf), ttl); err != nil {
		c.logger.Warn("storing %s: %v", q, err)
	}
}
