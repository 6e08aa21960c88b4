package dns

import (
	"math/rand/v2"
	"time"

	"github.com/agentuity/go-stubdns/cache"
	"github.com/agentuity/go-stubdns/wire"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxServers is the number of server slots in a client.
	MaxServers = 5
	// DefaultRetries is the number of rounds over the server list.
	DefaultRetries = 3
	// DefaultPort is the destination port of every query.
	DefaultPort = 53
	// MaxRetransmitTimeout caps the per-attempt wait as it doubles.
	MaxRetransmitTimeout = 64 * time.Second
	// PacketSize is the buffer size of the default packet pool.
	PacketSize = wire.MaxMessageSize
	// MaxResultTTL caps how long a finished lookup is kept in the result store.
	MaxResultTTL = 24 * time.Hour
)

type options struct {
	retries     int
	port        uint16
	maxTimeout  time.Duration
	lockTimeout time.Duration
	transport   Transport
	pool        PacketPool
	clock       Clock
	random      func() uint16
	cacheSize   int
	store       cache.Cache
	tracer      trace.Tracer
}

func defaultOptions() options {
	return options{
		retries:    DefaultRetries,
		port:       DefaultPort,
		maxTimeout: MaxRetransmitTimeout,
		random:     func() uint16 { return uint16(rand.Uint32()) },
	}
}

// Option configures a Client.
type Option func(*options)

// WithRetries sets how many rounds over the server list a lookup makes.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithPort sets the destination port for queries.
func WithPort(port uint16) Option {
	return func(o *options) { o.port = port }
}

// WithTransport replaces the UDP transport.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithPacketPool sets the pool query and response buffers are taken from.
func WithPacketPool(p PacketPool) Option {
	return func(o *options) { o.pool = p }
}

// WithClock replaces the tick source used for timeouts and cache ageing.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRandom replaces the transaction id generator.
func WithRandom(fn func() uint16) Option {
	return func(o *options) { o.random = fn }
}

// WithCache enables the answer cache with a block of size bytes.
func WithCache(size int) Option {
	return func(o *options) { o.cacheSize = size }
}

// WithResultStore shares finished lookups through store.
func WithResultStore(store cache.Cache) Option {
	return func(o *options) { o.store = store }
}

// WithMaxRetransmitTimeout caps the per-attempt wait.
func WithMaxRetransmitTimeout(d time.Duration) Option {
	return func(o *options) { o.maxTimeout = d }
}

// WithLockTimeout bounds how long server list and cache operations wait for
// the instance. Zero waits as long as it takes.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithTracer sets the tracer resolution spans are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}
