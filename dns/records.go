package dns

import (
	"net/netip"

	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
)

// storage charged per entry, matching the fixed layouts of the C API
const (
	sizeIPv4 = 4
	sizeIPv6 = 16
	sizeNS   = 8
	sizeMX   = 12
	sizeSRV  = 16
	sizeSOA  = 28
)

// NSEntry is a name server with the glue addresses the response carried.
type NSEntry struct {
	Host string
	IPv4 netip.Addr
	IPv6 netip.Addr
}

// MXEntry is a mail exchange.
type MXEntry struct {
	Preference uint16
	Host       string
	IPv4       netip.Addr
	IPv6       netip.Addr
}

// SRVEntry is a service location.
type SRVEntry struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
	IPv4     netip.Addr
	IPv6     netip.Addr
}

// SOAEntry is a start of authority record.
type SOAEntry struct {
	Host    string
	Mailbox string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// RecordBuffer collects the answers of one lookup within a byte budget.
// Fixed size entries are charged from the front and strings from the back;
// an entry that would make the two meet is refused with
// ErrNeedMoreRecordBuffer and whatever was stored before stays readable.
type RecordBuffer struct {
	size  int
	front int
	back  int

	addrs []netip.Addr
	names []string
	ns    []NSEntry
	mx    []MXEntry
	srv   []SRVEntry
	soa   *SOAEntry

	minTTL uint32
}

// NewRecordBuffer returns an empty buffer with a budget of size bytes.
func NewRecordBuffer(size int) *RecordBuffer {
	return &RecordBuffer{size: max(size, 0)}
}

// Reset empties the buffer, keeping its budget.
func (b *RecordBuffer) Reset() {
	b.front, b.back = 0, 0
	b.addrs = b.addrs[:0]
	b.names = b.names[:0]
	b.ns = b.ns[:0]
	b.mx = b.mx[:0]
	b.srv = b.srv[:0]
	b.soa = nil
	b.minTTL = 0
}

// Size is the byte budget.
func (b *RecordBuffer) Size() int { return b.size }

// Free is the budget left between the two cursors.
func (b *RecordBuffer) Free() int { return b.size - b.front - b.back }

// Count is the number of stored entries.
func (b *RecordBuffer) Count() int {
	n := len(b.addrs) + len(b.names) + len(b.ns) + len(b.mx) + len(b.srv)
	if b.soa != nil {
		n++
	}
	return n
}

// Addresses returns the stored A or AAAA answers in arrival order.
func (b *RecordBuffer) Addresses() []netip.Addr { return b.addrs }

// Names returns the stored PTR, CNAME or TXT answers.
func (b *RecordBuffer) Names() []string { return b.names }

// NameServers returns the stored NS answers.
func (b *RecordBuffer) NameServers() []NSEntry { return b.ns }

// MailExchanges returns the stored MX answers.
func (b *RecordBuffer) MailExchanges() []MXEntry { return b.mx }

// Services returns the stored SRV answers.
func (b *RecordBuffer) Services() []SRVEntry { return b.srv }

// ZoneStart returns the stored SOA answer, or nil.
func (b *RecordBuffer) ZoneStart() *SOAEntry { return b.soa }

// reserve charges fixed bytes to the front and str bytes to the back.
func (b *RecordBuffer) reserve(fixed, str int) error {
	if b.front+fixed+b.back+str > b.size {
		return errors.Wrapf(ErrNeedMoreRecordBuffer, "%d bytes needed, %d free", fixed+str, b.Free())
	}
	b.front += fixed
	b.back += str
	return nil
}

func (b *RecordBuffer) observeTTL(ttl uint32) {
	if b.Count() == 1 || ttl < b.minTTL {
		b.minTTL = ttl
	}
}

func stringSize(s string) int {
	return len(s) + 1
}

func (b *RecordBuffer) addAddr(addr netip.Addr, ttl uint32) error {
	size := sizeIPv4
	if addr.Is6() {
		size = sizeIPv6
	}
	if err := b.reserve(size, 0); err != nil {
		return err
	}
	b.addrs = append(b.addrs, addr)
	b.observeTTL(ttl)
	return nil
}

func (b *RecordBuffer) addName(name string, ttl uint32) error {
	if err := b.reserve(0, stringSize(name)); err != nil {
		return err
	}
	b.names = append(b.names, name)
	b.observeTTL(ttl)
	return nil
}

func (b *RecordBuffer) addNS(e NSEntry, ttl uint32) error {
	if err := b.reserve(sizeNS, stringSize(e.Host)); err != nil {
		return err
	}
	b.ns = append(b.ns, e)
	b.observeTTL(ttl)
	return nil
}

func (b *RecordBuffer) addMX(e MXEntry, ttl uint32) error {
	if err := b.reserve(sizeMX, stringSize(e.Host)); err != nil {
		return err
	}
	b.mx = append(b.mx, e)
	b.observeTTL(ttl)
	return nil
}

func (b *RecordBuffer) addSRV(e SRVEntry, ttl uint32) error {
	if err := b.reserve(sizeSRV, stringSize(e.Target)); err != nil {
		return err
	}
	b.srv = append(b.srv, e)
	b.observeTTL(ttl)
	return nil
}

// setSOA stores the first SOA answer; later ones are ignored.
func (b *RecordBuffer) setSOA(e SOAEntry, ttl uint32) error {
	if b.soa != nil {
		return nil
	}
	if err := b.reserve(sizeSOA, stringSize(e.Host)+stringSize(e.Mailbox)); err != nil {
		return err
	}
	b.soa = &e
	b.observeTTL(ttl)
	return nil
}

// patchGlue fills the address of every NS, MX or SRV entry whose host is
// name and has no address of that family yet. It reports whether any entry
// took the address.
func (b *RecordBuffer) patchGlue(name string, addr netip.Addr) bool {
	patched := false
	set := func(v4, v6 *netip.Addr) {
		switch {
		case addr.Is4() && !v4.IsValid():
			*v4 = addr
			patched = true
		case addr.Is6() && !v6.IsValid():
			*v6 = addr
			patched = true
		}
	}
	for i := range b.ns {
		if wire.EqualNames(b.ns[i].Host, name) {
			set(&b.ns[i].IPv4, &b.ns[i].IPv6)
		}
	}
	for i := range b.mx {
		if wire.EqualNames(b.mx[i].Host, name) {
			set(&b.mx[i].IPv4, &b.mx[i].IPv6)
		}
	}
	for i := range b.srv {
		if wire.EqualNames(b.srv[i].Target, name) {
			set(&b.srv[i].IPv4, &b.srv[i].IPv6)
		}
	}
	return patched
}

// glueHosts lists hosts of stored NS, MX and SRV entries.
func (b *RecordBuffer) glueHosts() []string {
	var hosts []string
	for _, e := range b.ns {
		hosts = append(hosts, e.Host)
	}
	for _, e := range b.mx {
		hosts = append(hosts, e.Host)
	}
	for _, e := range b.srv {
		hosts = append(hosts, e.Target)
	}
	return hosts
}
