package dns

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/agentuity/go-stubdns/cache"
	"github.com/agentuity/go-stubdns/rrcache"
	"github.com/agentuity/go-stubdns/wire"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheAnswersRepeatLookup(t *testing.T) {
	h := newHarness(t, WithCache(4096))
	h.transport.respond = replyAll(t, reply{answer: []string{
		"example.com. 300 IN A 192.0.2.1",
		"example.com. 300 IN A 192.0.2.2",
	}})
	ctx := context.Background()
	want := []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}

	addrs, err := h.client.IPv4AddressesByName(ctx, "example.com", 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, addrs)

	addrs, err = h.client.IPv4AddressesByName(ctx, "EXAMPLE.com.", 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, addrs)
	assert.Len(t, h.transport.queries(), 1, "second lookup served from cache")

	stats, ok := h.client.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 2, stats.Records)

	h.clock.advance(301 * time.Second)
	_, err = h.client.IPv4AddressesByName(ctx, "example.com", 64, time.Second)
	require.NoError(t, err)
	assert.Len(t, h.transport.queries(), 2, "expired answers go back to the network")
}

func TestCacheFillsGlue(t *testing.T) {
	h := newHarness(t, WithCache(4096))
	h.transport.respond = func(q sentQuery) [][]byte {
		r := reply{answer: []string{"example.com. 300 IN NS ns1.example.com."}}
		if q.Type == wire.TypeA {
			r = reply{answer: []string{"ns1.example.com. 300 IN A 192.0.2.10"}}
		}
		return [][]byte{r.build(t, q)}
	}
	ctx := context.Background()

	ns, err := h.client.NameServers(ctx, "example.com", 256, time.Second)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.False(t, ns[0].IPv4.IsValid())

	_, err = h.client.HostByName(ctx, "ns1.example.com", time.Second)
	require.NoError(t, err)

	ns, err = h.client.NameServers(ctx, "example.com", 256, time.Second)
	require.NoError(t, err)
	assert.Len(t, h.transport.queries(), 2)
	assert.Equal(t, NSEntry{Host: "ns1.example.com", IPv4: netip.MustParseAddr("192.0.2.10")}, ns[0])
}

func TestCacheFullNotify(t *testing.T) {
	h := newHarness(t, WithCache(rrcache.MinSize+32))
	h.transport.respond = func(q sentQuery) [][]byte {
		texts := map[string]string{
			"one.test.": "hello",
			"two.test.": "world",
			"big.test.": "v=spf1 include:_spf.example.net include:_spf.example.org ~all",
		}
		r := reply{answer: []string{q.Name + ` 300 IN TXT "` + texts[q.Name] + `"`}}
		return [][]byte{r.build(t, q)}
	}
	notified := make(chan rrcache.Stats, 1)
	require.NoError(t, h.client.CacheNotifySet(func(c *Client) {
		stats, ok := c.CacheStats()
		assert.True(t, ok, "handler runs with the instance free")
		notified <- stats
	}))
	ctx := context.Background()

	_, err := h.client.HostText(ctx, "one.test", 64, time.Second)
	require.NoError(t, err)
	assert.Empty(t, notified)

	text, err := h.client.HostText(ctx, "two.test", 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "world", text)
	select {
	case stats := <-notified:
		assert.Equal(t, 1, stats.Records, "older record made room")
		assert.Equal(t, uint64(1), stats.Evictions)
	default:
		t.Fatal("cache full handler not called")
	}

	text, err = h.client.HostText(ctx, "big.test", 256, time.Second)
	require.NoError(t, err, "a record the cache cannot hold never fails a lookup")
	assert.Equal(t, "v=spf1 include:_spf.example.net include:_spf.example.org ~all", text)
	warned := false
	for _, e := range h.log.Logs() {
		warned = warned || e.Severity == "WARNING"
	}
	assert.True(t, warned)

	require.NoError(t, h.client.CacheNotifyClear())
	assert.ErrorIs(t, h.client.CacheNotifySet(nil), ErrInvalidParameter)
}

func TestCacheInitialize(t *testing.T) {
	h := newHarness(t)
	_, ok := h.client.CacheStats()
	assert.False(t, ok)

	assert.ErrorIs(t, h.client.CacheInitialize(rrcache.MinSize-4), ErrCacheSize)
	require.NoError(t, h.client.CacheInitialize(1024))
	stats, ok := h.client.CacheStats()
	require.True(t, ok)
	assert.Zero(t, stats.Records)

	require.NoError(t, h.client.CacheInitialize(0))
	_, ok = h.client.CacheStats()
	assert.False(t, ok)
}

func TestCacheAllTypes(t *testing.T) {
	h := newHarness(t, WithCache(8192))
	answers := map[uint16]reply{
		wire.TypeAAAA:  {answer: []string{"example.com. 300 IN AAAA 2001:db8::1"}},
		wire.TypeCNAME: {answer: []string{"www.example.com. 300 IN CNAME example.com."}},
		wire.TypeTXT:   {answer: []string{`example.com. 300 IN TXT "hello"`}},
		wire.TypeMX:    {answer: []string{"example.com. 300 IN MX 10 mail.example.com."}},
		wire.TypeSRV:   {answer: []string{"_sip._udp.example.com. 300 IN SRV 1 2 5060 sip.example.com."}},
		wire.TypeSOA:   {answer: []string{"example.com. 300 IN SOA ns1.example.com. hostmaster.example.com. 7 7200 3600 1209600 300"}},
	}
	h.transport.respond = func(q sentQuery) [][]byte {
		return [][]byte{answers[q.Type].build(t, q)}
	}
	ctx := context.Background()

	run := func() {
		v6, err := h.client.HostByNameVersion(ctx, "example.com", IPv6, time.Second)
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("2001:db8::1"), v6)
		cname, err := h.client.CNAME(ctx, "www.example.com", 64, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "example.com", cname)
		text, err := h.client.HostText(ctx, "example.com", 64, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		mx, err := h.client.MailExchanges(ctx, "example.com", 64, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []MXEntry{{Preference: 10, Host: "mail.example.com"}}, mx)
		srv, err := h.client.Services(ctx, "_sip._udp.example.com", 64, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []SRVEntry{{Priority: 1, Weight: 2, Port: 5060, Target: "sip.example.com"}}, srv)
		soa, err := h.client.AuthorityZoneStart(ctx, "example.com", 128, time.Second)
		require.NoError(t, err)
		assert.Equal(t, &SOAEntry{
			Host: "ns1.example.com", Mailbox: "hostmaster.example.com",
			Serial: 7, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 300,
		}, soa)
	}
	run()
	assert.Len(t, h.transport.queries(), len(answers))
	run()
	assert.Len(t, h.transport.queries(), len(answers), "every type answered from cache")
}

func TestResultStoreSharedBetweenClients(t *testing.T) {
	ctx := context.Background()
	store := cache.NewInMemory(ctx)
	defer store.Close()

	first := newHarness(t, WithResultStore(store))
	first.transport.respond = replyAll(t, reply{
		answer: []string{"example.com. 300 IN MX 10 mail.example.com."},
		extra:  []string{"mail.example.com. 60 IN A 192.0.2.25"},
	})
	want := []MXEntry{{Preference: 10, Host: "mail.example.com", IPv4: netip.MustParseAddr("192.0.2.25")}}
	mx, err := first.client.MailExchanges(ctx, "example.com", 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, mx)

	second := newHarness(t, WithResultStore(store))
	mx, err = second.client.MailExchanges(ctx, "example.com", 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, mx)
	assert.Empty(t, second.transport.queries())
	second.settled(t)
}

func TestResultStoreRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	store := cache.NewRedis(rc, cache.WithPrefix("stubdns"))

	first := newHarness(t, WithResultStore(store))
	first.transport.respond = replyAll(t, reply{answer: []string{
		"example.com. 120 IN A 192.0.2.1",
		"example.com. 90 IN A 192.0.2.2",
	}})
	_, err := first.client.IPv4AddressesByName(ctx, "example.com", 64, time.Second)
	require.NoError(t, err)
	require.True(t, mr.Exists("stubdns:dns:A:example.com"))
	assert.Equal(t, 90*time.Second, mr.TTL("stubdns:dns:A:example.com"), "smallest record ttl")

	second := newHarness(t, WithResultStore(store))
	addrs, err := second.client.IPv4AddressesByName(ctx, "Example.COM", 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}, addrs)
	assert.Empty(t, second.transport.queries())

	mr.SetError("ERR injected failure")
	third := newHarness(t, WithResultStore(store))
	third.transport.respond = first.transport.respond
	_, err = third.client.IPv4AddressesByName(ctx, "example.com", 64, time.Second)
	require.NoError(t, err, "an unreachable store falls back to the network")
	assert.Len(t, third.transport.queries(), 1)
}

func TestStoreTTLCapped(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	h := newHarness(t, WithResultStore(cache.NewRedis(rc)))
	h.transport.respond = replyAll(t, reply{answer: []string{"example.com. 604800 IN A 192.0.2.1"}})
	_, err := h.client.HostByName(ctx, "example.com", time.Second)
	require.NoError(t, err)
	assert.Equal(t, MaxResultTTL, mr.TTL("dns:A:example.com"))
}
