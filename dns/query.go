package dns

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/agentuity/go-stubdns/resilience"
	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
	mdns "github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pollInterval is how long Complete listens when called with no wait.
const pollInterval = time.Millisecond

type query struct {
	name  string
	qtype uint16
}

func newQuery(name string, qtype uint16) (query, error) {
	if name == "" || name == "." {
		return query{}, errors.Wrap(ErrInvalidParameter, "empty name")
	}
	if len(name) > wire.MaxNameSize {
		return query{}, errors.Wrapf(ErrSize, "name of %d bytes", len(name))
	}
	switch qtype {
	case wire.TypeA, wire.TypeAAAA, wire.TypeCNAME, wire.TypePTR, wire.TypeTXT,
		wire.TypeNS, wire.TypeMX, wire.TypeSRV, wire.TypeSOA:
	default:
		return query{}, errors.Wrapf(ErrInvalidParameter, "unsupported record type %s", typeName(qtype))
	}
	if _, err := wire.EncodeName(name); err != nil {
		return query{}, classify(err)
	}
	return query{name: name, qtype: qtype}, nil
}

func (q query) String() string {
	return typeName(q.qtype) + " " + q.name
}

func typeName(t uint16) string {
	if s, ok := mdns.TypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", t)
}

type pendingLookup struct {
	ep   Endpoint
	q    query
	buf  *RecordBuffer
	to   netip.AddrPort
	span trace.Span
}

func (p *pendingLookup) finish(err error) {
	_ = p.ep.Close()
	endSpan(p.span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Lookup resolves name for records of qtype into buf, which is emptied
// first. wait is the time allowed for the first attempt; it doubles every
// round over the server list up to the retransmit cap. A zero wait sends
// one query to the first server and returns ErrInProgress; Complete then
// collects the answer.
//
// When the buffer fills up Lookup returns ErrNeedMoreRecordBuffer and the
// records stored so far stay in buf.
func (c *Client) Lookup(ctx context.Context, name string, qtype uint16, buf *RecordBuffer, wait time.Duration) error {
	q, err := newQuery(name, qtype)
	if err != nil {
		return err
	}
	if buf == nil {
		return errors.Wrap(ErrInvalidParameter, "nil record buffer")
	}
	if wait < 0 {
		return errors.Wrapf(ErrInvalidParameter, "negative wait %s", wait)
	}
	ctx, span := c.tracer.Start(ctx, "dns.lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dns.name", name),
			attribute.String("dns.type", typeName(qtype)),
			attribute.Bool("dns.blocking", wait > 0),
		))
	err = c.lookup(ctx, span, q, buf, wait)
	if !errors.Is(err, ErrInProgress) {
		endSpan(span, err)
	}
	return err
}

func (c *Client) lookup(ctx context.Context, span trace.Span, q query, buf *RecordBuffer, wait time.Duration) error {
	if err := c.acquire(ctx, wait); err != nil {
		return err
	}
	buf.Reset()
	if c.answerFromCache(q, buf) {
		span.SetAttributes(attribute.String("dns.source", "cache"))
		c.release()
		return nil
	}
	if c.answerFromStore(ctx, q, buf) {
		span.SetAttributes(attribute.String("dns.source", "store"))
		c.release()
		return nil
	}
	servers := c.serverList()
	if len(servers) == 0 {
		c.release()
		return errors.Wrapf(ErrNoServer, "resolving %s", q)
	}

	bctx, stop := c.bind(ctx)
	ep, err := c.transport.Open(bctx, c.pool)
	if err != nil {
		stop()
		c.release()
		c.logger.Error("opening endpoint for %s: %v", q, err)
		return c.interrupted(err)
	}
	if wait == 0 {
		defer stop()
		return c.startPending(bctx, span, ep, q, buf, servers[0])
	}

	span.SetAttributes(attribute.String("dns.source", "network"))
	err = c.resolve(bctx, span, ep, q, buf, servers, wait)
	_ = ep.Close()
	stop()
	c.release()
	if err == nil {
		c.storeResult(ctx, q, buf)
	}
	return err
}

// bind derives a context that also ends when the client is closed.
func (c *Client) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	unregister := context.AfterFunc(c.ctx, func() { cancel(ErrNotCreated) })
	return ctx, func() {
		unregister()
		cancel(nil)
	}
}

func (c *Client) interrupted(err error) error {
	if c.closed.Load() {
		return ErrNotCreated
	}
	return err
}

func (c *Client) startPending(ctx context.Context, span trace.Span, ep Endpoint, q query, buf *RecordBuffer, server netip.Addr) error {
	to := netip.AddrPortFrom(server, c.port)
	if err := c.send(ctx, ep, q, to); err != nil {
		_ = ep.Close()
		c.release()
		return c.interrupted(err)
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.closed.Load() {
		_ = ep.Close()
		c.lock.Release(1)
		return ErrNotCreated
	}
	span.SetAttributes(attribute.String("dns.server", to.String()))
	c.pending = &pendingLookup{ep: ep, q: q, buf: buf, to: to, span: span}
	return errors.Wrapf(ErrInProgress, "%s sent to %s", q, to)
}

// Complete waits up to wait, capped at the maximum retransmission timeout,
// for the answer to a lookup started with a zero wait. It returns
// ErrInProgress while the answer is outstanding, including after a
// malformed datagram; any other result ends the lookup and gives the
// instance back. Cancelling ctx abandons the lookup.
func (c *Client) Complete(ctx context.Context, wait time.Duration) error {
	if c.closed.Load() {
		return ErrNotCreated
	}
	c.pendingMu.Lock()
	p := c.pending
	if p == nil {
		c.pendingMu.Unlock()
		if c.closed.Load() {
			return ErrNotCreated
		}
		return ErrNoPending
	}
	if wait <= 0 {
		wait = pollInterval
	}
	bctx, stop := c.bind(ctx)
	err := c.await(bctx, p.ep, p.q, p.buf, min(wait, c.maxTimeout))
	stop()
	switch {
	case errors.Is(err, errNoResponse):
		c.pendingMu.Unlock()
		return errors.Wrapf(ErrInProgress, "%s awaiting %s", p.q, p.to)
	case errors.Is(err, ErrMalformedPacket):
		c.pendingMu.Unlock()
		return errors.Wrapf(ErrInProgress, "%s awaiting %s after dropping %v", p.q, p.to, err)
	}
	err = c.interrupted(err)
	c.pending = nil
	p.finish(err)
	c.pendingMu.Unlock()

	c.release()
	if err == nil {
		c.storeResult(ctx, p.q, p.buf)
	}
	return err
}

// resolve runs the retry rounds: every server in list order, then the
// next round with twice the wait.
func (c *Client) resolve(ctx context.Context, span trace.Span, ep Endpoint, q query, buf *RecordBuffer, servers []netip.Addr, wait time.Duration) error {
	policy := resilience.RetryConfig{
		MaxRetries:        c.retries - 1,
		InitialBackoff:    min(wait, c.maxTimeout),
		MaxBackoff:        c.maxTimeout,
		BackoffMultiplier: 2,
	}
	var last error
	for round, timeout := range resilience.Rounds(policy) {
		for _, server := range servers {
			to := netip.AddrPortFrom(server, c.port)
			span.AddEvent("dns.attempt", trace.WithAttributes(
				attribute.Int("dns.round", round),
				attribute.String("dns.server", to.String()),
				attribute.String("dns.wait", timeout.String()),
			))
			err := c.send(ctx, ep, q, to)
			if err == nil {
				err = c.await(ctx, ep, q, buf, timeout)
			}
			switch {
			case err == nil:
				span.SetAttributes(attribute.String("dns.server", to.String()))
				return nil
			case errors.Is(err, ErrNeedMoreRecordBuffer):
				return err
			case !resilience.DefaultRetryableErrors(err):
				return c.interrupted(err)
			}
			c.logger.Debug("%s via %s failed in round %d: %v", q, to, round, err)
			last = err
		}
	}
	return errors.Wrapf(errors.Mark(last, ErrQueryFailed), "%s: no answer after %d rounds", q, c.retries)
}

// send builds a query with a fresh transaction id and transmits it.
func (c *Client) send(ctx context.Context, ep Endpoint, q query, to netip.AddrPort) error {
	pkt, err := c.pool.Get()
	if err != nil {
		return resilience.Permanent(errors.Wrap(err, "dns: allocating query packet"))
	}
	defer c.pool.Put(pkt)
	c.txID = c.random()
	n, err := wire.BuildQuery(pkt.Buffer(), c.txID, q.name, q.qtype)
	if err != nil {
		return resilience.Permanent(classify(err))
	}
	pkt.SetLength(n)
	if err := ep.Send(ctx, pkt, to); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("sending %s to %s: %v", q, to, err)
		return resilience.Permanent(err)
	}
	c.logger.Debug("sent %s id=%d to %s", q, c.txID, to)
	return nil
}

// await reads datagrams until one for the outstanding transaction arrives
// or timeout passes. Datagrams for other transactions, and those too short
// to carry a transaction id, are dropped without extending the wait.
func (c *Client) await(ctx context.Context, ep Endpoint, q query, buf *RecordBuffer, timeout time.Duration) error {
	budget := durationToTicks(timeout)
	start := c.clock.Ticks()
	for {
		elapsed := c.clock.Ticks() - start
		if elapsed >= budget {
			return errNoResponse
		}
		pkt, err := ep.Receive(ctx, ticksToDuration(budget-elapsed))
		switch {
		case errors.Is(err, ErrReceiveTimeout):
			c.logger.Debug("no answer to %s within %s", q, timeout)
			return errNoResponse
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("receiving answer to %s: %v", q, err)
			return resilience.Permanent(err)
		}
		from := pkt.From
		if n := len(pkt.Bytes()); n < wire.HeaderSize {
			c.pool.Put(pkt)
			c.logger.Debug("discarding datagram from %s: %d bytes", from, n)
			continue
		}
		err = c.processResponse(pkt.Bytes(), q, buf)
		c.pool.Put(pkt)
		if errors.Is(err, ErrBadID) {
			c.logger.Debug("discarding datagram from %s: %v", from, err)
			continue
		}
		if err != nil {
			c.logger.Debug("answer to %s from %s rejected: %v", q, from, err)
		}
		return err
	}
}
