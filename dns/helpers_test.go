package dns

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-stubdns/logger"
	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

var testServer = netip.MustParseAddr("192.0.2.53")

type fakeClock struct {
	mu       sync.Mutex
	ms       uint64
	tickBase uint32
	secBase  uint32
}

func (c *fakeClock) Ticks() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickBase + uint32(c.ms)
}

func (c *fakeClock) Seconds() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secBase + uint32(c.ms/1000)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.ms += uint64(d.Milliseconds())
	c.mu.Unlock()
}

type countingPool struct {
	inner PacketPool
	out   atomic.Int64
	gets  atomic.Int64
	fail  atomic.Bool
}

func newCountingPool() *countingPool {
	return &countingPool{inner: NewPacketPool(PacketSize)}
}

func (p *countingPool) Get() (*Packet, error) {
	if p.fail.Load() {
		return nil, ErrSize
	}
	pkt, err := p.inner.Get()
	if err == nil {
		p.out.Add(1)
		p.gets.Add(1)
	}
	return pkt, err
}

func (p *countingPool) Put(pkt *Packet) {
	p.out.Add(-1)
	p.inner.Put(pkt)
}

type sentQuery struct {
	ID   uint16
	Name string
	Type uint16
	To   netip.AddrPort
}

type datagram struct {
	data []byte
	from netip.AddrPort
}

type fakeTransport struct {
	clock *fakeClock

	mu      sync.Mutex
	respond func(sentQuery) [][]byte
	sent    []sentQuery
	opened  int
	closed  int
	sendErr error
	openErr error
}

func (t *fakeTransport) Open(_ context.Context, pool PacketPool) (Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	t.opened++
	return &fakeEndpoint{t: t, pool: pool}, nil
}

func (t *fakeTransport) queries() []sentQuery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentQuery(nil), t.sent...)
}

func (t *fakeTransport) counts() (opened, closed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened, t.closed
}

type fakeEndpoint struct {
	t     *fakeTransport
	pool  PacketPool
	mu    sync.Mutex
	queue []datagram
}

func (e *fakeEndpoint) Send(_ context.Context, pkt *Packet, to netip.AddrPort) error {
	m := new(mdns.Msg)
	if err := m.Unpack(pkt.Bytes()); err != nil {
		return err
	}
	q := sentQuery{ID: m.Id, Name: m.Question[0].Name, Type: m.Question[0].Qtype, To: to}
	e.t.mu.Lock()
	err := e.t.sendErr
	if err == nil {
		e.t.sent = append(e.t.sent, q)
	}
	respond := e.t.respond
	e.t.mu.Unlock()
	if err != nil {
		return err
	}
	if respond != nil {
		e.mu.Lock()
		for _, d := range respond(q) {
			e.queue = append(e.queue, datagram{data: d, from: to})
		}
		e.mu.Unlock()
	}
	return nil
}

// Receive hands out queued datagrams one millisecond apart and otherwise
// lets the whole timeout pass on the fake clock.
func (e *fakeEndpoint) Receive(ctx context.Context, timeout time.Duration) (*Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		e.t.clock.advance(timeout)
		return nil, ErrReceiveTimeout
	}
	d := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	pkt, err := e.pool.Get()
	if err != nil {
		return nil, err
	}
	pkt.SetLength(copy(pkt.Buffer(), d.data))
	pkt.From = d.from
	e.t.clock.advance(time.Millisecond)
	return pkt, nil
}

func (e *fakeEndpoint) Close() error {
	e.t.mu.Lock()
	e.t.closed++
	e.t.mu.Unlock()
	return nil
}

// reply describes a response in zone file syntax.
type reply struct {
	answer []string
	ns     []string
	extra  []string
	rcode  int
	id     func(uint16) uint16
}

func mustRR(t testing.TB, s string) mdns.RR {
	t.Helper()
	rr, err := mdns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func (r reply) build(t testing.TB, q sentQuery) []byte {
	t.Helper()
	m := new(mdns.Msg)
	m.SetQuestion(q.Name, q.Type)
	m.Id = q.ID
	if r.id != nil {
		m.Id = r.id(q.ID)
	}
	m.Response = true
	m.RecursionAvailable = true
	m.Rcode = r.rcode
	m.Compress = true
	for _, s := range r.answer {
		m.Answer = append(m.Answer, mustRR(t, s))
	}
	for _, s := range r.ns {
		m.Ns = append(m.Ns, mustRR(t, s))
	}
	for _, s := range r.extra {
		m.Extra = append(m.Extra, mustRR(t, s))
	}
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

// replyAll answers every query with r.
func replyAll(t testing.TB, r reply) func(sentQuery) [][]byte {
	return func(q sentQuery) [][]byte {
		return [][]byte{r.build(t, q)}
	}
}

type harness struct {
	client    *Client
	transport *fakeTransport
	clock     *fakeClock
	pool      *countingPool
	log       *logger.TestLogger
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{},
		pool:  newCountingPool(),
		log:   logger.NewTestLogger(),
	}
	h.transport = &fakeTransport{clock: h.clock}
	var next atomic.Uint32
	base := []Option{
		WithTransport(h.transport),
		WithClock(h.clock),
		WithPacketPool(h.pool),
		WithRandom(func() uint16 { return uint16(next.Add(1)) }),
	}
	c, err := New(context.Background(), h.log, append(base, opts...)...)
	require.NoError(t, err)
	h.client = c
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.AddServer(testServer))
	return h
}

// settled asserts every packet went back to the pool and every endpoint was
// closed.
func (h *harness) settled(t *testing.T) {
	t.Helper()
	require.Zero(t, h.pool.out.Load(), "packets outstanding")
	opened, closed := h.transport.counts()
	require.Equal(t, opened, closed, "endpoints left open")
}
