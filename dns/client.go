// Package dns is a stub resolver client. It sends recursive queries over UDP
// to an ordered list of up to five servers, retrying round by round with a
// doubling wait, and decodes the answers into a caller sized RecordBuffer.
//
// Lookups on one client are serialized. A lookup with a zero wait returns
// ErrInProgress after sending and keeps the client until Complete picks up
// the answer.
package dns

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-stubdns/cache"
	"github.com/agentuity/go-stubdns/logger"
	"github.com/agentuity/go-stubdns/rrcache"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/agentuity/go-stubdns/dns"

// Client is a stub resolver instance.
type Client struct {
	logger logger.Logger
	tracer trace.Tracer
	lock   *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	retries     int
	port        uint16
	maxTimeout  time.Duration
	lockTimeout time.Duration
	transport   Transport
	pool        PacketPool
	clock       Clock
	random      func() uint16

	servers [MaxServers]netip.Addr
	txID    uint16

	rr        *rrcache.Cache
	cacheFull bool
	notify    func(*Client)

	store cache.Cache

	pendingMu sync.Mutex
	pending   *pendingLookup
}

// New creates a client with no servers. The client stops when ctx is done
// or Close is called.
func New(ctx context.Context, log logger.Logger, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case o.retries < 1:
		return nil, errors.Wrapf(ErrInvalidParameter, "retries must be at least 1, got %d", o.retries)
	case o.port == 0:
		return nil, errors.Wrap(ErrInvalidParameter, "port must be set")
	case o.maxTimeout <= 0:
		return nil, errors.Wrapf(ErrInvalidParameter, "max retransmit timeout %s", o.maxTimeout)
	case o.random == nil:
		return nil, errors.Wrap(ErrInvalidParameter, "random source must be set")
	}
	if log == nil {
		log = logger.NewConsoleLogger(logger.LevelInfo)
	}
	if o.transport == nil {
		o.transport = NewUDPTransport()
	}
	if o.pool == nil {
		o.pool = NewPacketPool(PacketSize)
	}
	if o.clock == nil {
		o.clock = newSystemClock()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	c := &Client{
		logger:      log.WithPrefix("[dns]"),
		tracer:      o.tracer,
		lock:        semaphore.NewWeighted(1),
		retries:     o.retries,
		port:        o.port,
		maxTimeout:  o.maxTimeout,
		lockTimeout: o.lockTimeout,
		transport:   o.transport,
		pool:        o.pool,
		clock:       o.clock,
		random:      o.random,
		store:       o.store,
	}
	if err := c.initCache(o.cacheSize); err != nil {
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Debug("client created: retries=%d port=%d cache=%d", c.retries, c.port, o.cacheSize)
	return c, nil
}

// Close releases the client. A pending non-blocking lookup is abandoned and a
// blocking one is cancelled. Every later call returns ErrNotCreated.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrNotCreated
	}
	c.cancel()

	c.pendingMu.Lock()
	if p := c.pending; p != nil {
		c.pending = nil
		p.finish(ErrNotCreated)
		c.lock.Release(1)
	}
	c.pendingMu.Unlock()

	// the lookup holding the lock sees the cancellation and lets go
	if err := c.lock.Acquire(context.Background(), 1); err != nil {
		return errors.Wrap(err, "dns: waiting for lookup to end")
	}
	c.servers = [MaxServers]netip.Addr{}
	c.rr = nil
	c.notify = nil
	c.lock.Release(1)
	c.logger.Debug("client closed")
	return nil
}

// SetPacketPool replaces the packet pool.
func (c *Client) SetPacketPool(p PacketPool) error {
	if p == nil {
		return errors.Wrap(ErrInvalidParameter, "nil packet pool")
	}
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	c.pool = p
	return nil
}

// acquire takes the instance, waiting up to wait. A zero wait never blocks
// and a negative one waits until ctx is done.
func (c *Client) acquire(ctx context.Context, wait time.Duration) error {
	if c.closed.Load() {
		return ErrNotCreated
	}
	switch {
	case c.lock.TryAcquire(1):
	case wait == 0:
		return errors.Wrap(ErrTimeout, "instance busy")
	default:
		actx := ctx
		if wait > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, wait)
			defer cancel()
		}
		if err := c.lock.Acquire(actx, 1); err != nil {
			switch {
			case c.closed.Load():
				return ErrNotCreated
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return errors.Wrapf(ErrTimeout, "instance busy for %s", wait)
		}
	}
	if c.closed.Load() {
		c.lock.Release(1)
		return ErrNotCreated
	}
	return nil
}

// acquireUpdate takes the instance for a server list or cache change.
func (c *Client) acquireUpdate() error {
	wait := c.lockTimeout
	if wait == 0 {
		wait = -1
	}
	return c.acquire(c.ctx, wait)
}

// release gives the instance back and then reports a full cache, so the
// handler may call into the client.
func (c *Client) release() {
	var notify func(*Client)
	if c.cacheFull {
		c.cacheFull = false
		notify = c.notify
	}
	c.lock.Release(1)
	if notify != nil {
		notify(c)
	}
}

// CacheInitialize replaces the answer cache with an empty one of size
// bytes. Zero disables the cache.
func (c *Client) CacheInitialize(size int) error {
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	return c.initCache(size)
}

func (c *Client) initCache(size int) error {
	switch {
	case size == 0:
		c.rr = nil
		return nil
	case size < 0:
		return errors.Wrapf(ErrInvalidParameter, "cache size %d", size)
	}
	rr, err := rrcache.New(make([]byte, size))
	if err != nil {
		return errors.Mark(err, ErrCacheSize)
	}
	rr.SetFullHandler(func() { c.cacheFull = true })
	c.rr = rr
	return nil
}

// CacheNotifySet registers fn to run after an operation that found the
// answer cache full. fn runs without the instance held.
func (c *Client) CacheNotifySet(fn func(*Client)) error {
	if fn == nil {
		return errors.Wrap(ErrInvalidParameter, "nil cache notify")
	}
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	c.notify = fn
	return nil
}

// CacheNotifyClear removes the cache full handler.
func (c *Client) CacheNotifyClear() error {
	if err := c.acquireUpdate(); err != nil {
		return err
	}
	defer c.release()
	c.notify = nil
	return nil
}

// CacheStats reports answer cache usage. It returns false when the client
// has no cache or is closed.
func (c *Client) CacheStats() (rrcache.Stats, bool) {
	if err := c.acquireUpdate(); err != nil {
		return rrcache.Stats{}, false
	}
	defer c.release()
	if c.rr == nil {
		return rrcache.Stats{}, false
	}
	return c.rr.Stats(), true
}
