package dns

import (
	"net/netip"
	"sync"

	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
)

// minPacketSize holds the largest query the client builds.
const minPacketSize = wire.HeaderSize + wire.MaxNameSize + 2 + wire.QuestionFixedSize

// Packet is a datagram buffer owned by a PacketPool.
type Packet struct {
	data []byte
	n    int
	// From is the source of a received datagram.
	From netip.AddrPort
}

// NewPacket allocates a packet with size bytes of capacity. Pools built
// outside this package use it to fill themselves.
func NewPacket(size int) *Packet {
	return &Packet{data: make([]byte, size)}
}

// Bytes returns the filled part of the packet.
func (p *Packet) Bytes() []byte {
	return p.data[:p.n]
}

// Buffer returns the whole backing buffer for writing.
func (p *Packet) Buffer() []byte {
	return p.data
}

// SetLength records how many bytes of Buffer are filled.
func (p *Packet) SetLength(n int) {
	p.n = min(max(n, 0), len(p.data))
}

func (p *Packet) reset() {
	p.n = 0
	p.From = netip.AddrPort{}
}

// PacketPool hands out packet buffers for queries and responses. Every packet
// taken with Get is given back with Put exactly once.
type PacketPool interface {
	Get() (*Packet, error)
	Put(*Packet)
}

type packetPool struct {
	size int
	pool sync.Pool
}

// NewPacketPool returns an unbounded pool of size byte packets.
func NewPacketPool(size int) PacketPool {
	p := &packetPool{size: max(size, minPacketSize)}
	p.pool.New = func() any {
		return NewPacket(p.size)
	}
	return p
}

func (p *packetPool) Get() (*Packet, error) {
	pkt, ok := p.pool.Get().(*Packet)
	if !ok {
		return nil, errors.New("dns: packet pool returned a foreign value")
	}
	pkt.reset()
	return pkt, nil
}

func (p *packetPool) Put(pkt *Packet) {
	if pkt == nil || len(pkt.data) != p.size {
		return
	}
	p.pool.Put(pkt)
}
