package dns

import (
	"context"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// Transport opens the datagram endpoints lookups run over.
type Transport interface {
	// Open binds a fresh endpoint on an ephemeral port. Received packets are
	// taken from pool.
	Open(ctx context.Context, pool PacketPool) (Endpoint, error)
}

// Endpoint is one bound datagram socket.
type Endpoint interface {
	// Send transmits the filled part of pkt to addr. The caller keeps pkt.
	Send(ctx context.Context, pkt *Packet, addr netip.AddrPort) error
	// Receive waits up to timeout for a datagram. It returns ErrReceiveTimeout
	// when none arrived and ctx's error when ctx ends first. The caller owns
	// the returned packet.
	Receive(ctx context.Context, timeout time.Duration) (*Packet, error)
	Close() error
}

type udpTransport struct {
	network string
}

// NewUDPTransport returns the transport clients use by default.
func NewUDPTransport() Transport {
	return &udpTransport{network: "udp"}
}

func (t *udpTransport) Open(ctx context.Context, pool PacketPool) (Endpoint, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, t.network, ":0")
	if err != nil {
		return nil, errors.Wrap(err, "dns: binding udp endpoint")
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, errors.Newf("dns: unexpected packet conn %T", pc)
	}
	return &udpEndpoint{conn: conn, pool: pool}, nil
}

type udpEndpoint struct {
	conn *net.UDPConn
	pool PacketPool
}

func (e *udpEndpoint) Send(ctx context.Context, pkt *Packet, addr netip.AddrPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDPAddrPort(pkt.Bytes(), addr); err != nil {
		return errors.Wrapf(err, "dns: sending to %s", addr)
	}
	return nil
}

func (e *udpEndpoint) Receive(ctx context.Context, timeout time.Duration) (*Packet, error) {
	pkt, err := e.pool.Get()
	if err != nil {
		return nil, errors.Wrap(err, "dns: allocating receive packet")
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := e.conn.SetReadDeadline(deadline); err != nil {
		e.pool.Put(pkt)
		return nil, errors.Wrap(err, "dns: setting read deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = e.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := e.conn.ReadFromUDPAddrPort(pkt.Buffer())
	if err != nil {
		e.pool.Put(pkt)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrReceiveTimeout
		}
		return nil, errors.Wrap(err, "dns: receiving")
	}
	pkt.SetLength(n)
	pkt.From = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	return pkt, nil
}

func (e *udpEndpoint) Close() error {
	return e.conn.Close()
}
