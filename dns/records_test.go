package dns

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBufferCursors(t *testing.T) {
	buf := NewRecordBuffer(33)
	require.NoError(t, buf.addNS(NSEntry{Host: "ns1.test"}, 60))
	assert.Equal(t, 33-sizeNS-len("ns1.test")-1, buf.Free())

	require.NoError(t, buf.addAddr(netip.MustParseAddr("192.0.2.1"), 30))
	err := buf.addNS(NSEntry{Host: "ns2.test"}, 60)
	assert.ErrorIs(t, err, ErrNeedMoreRecordBuffer)
	assert.Equal(t, 2, buf.Count(), "earlier entries survive")
	assert.Equal(t, uint32(30), buf.minTTL)

	for i := range 3 {
		require.NoError(t, buf.addAddr(netip.AddrFrom4([4]byte{192, 0, 2, byte(10 + i)}), 60))
	}
	assert.Zero(t, buf.Free(), "an exact fit is accepted")
	assert.ErrorIs(t, buf.addName("", 60), ErrNeedMoreRecordBuffer)

	buf.Reset()
	assert.Zero(t, buf.Count())
	assert.Equal(t, 33, buf.Free())
}

func TestRecordBufferAddressSizes(t *testing.T) {
	buf := NewRecordBuffer(sizeIPv6)
	require.NoError(t, buf.addAddr(netip.MustParseAddr("2001:db8::1"), 60))
	assert.ErrorIs(t, buf.addAddr(netip.MustParseAddr("192.0.2.1"), 60), ErrNeedMoreRecordBuffer)

	buf = NewRecordBuffer(3 * sizeIPv4)
	for i := range 3 {
		require.NoError(t, buf.addAddr(netip.AddrFrom4([4]byte{192, 0, 2, byte(i)}), 60))
	}
	assert.ErrorIs(t, buf.addAddr(netip.MustParseAddr("192.0.2.9"), 60), ErrNeedMoreRecordBuffer)
	assert.Len(t, buf.Addresses(), 3)
}

func TestRecordBufferSOA(t *testing.T) {
	buf := NewRecordBuffer(sizeSOA + len("ns.test") + 1 + len("hm.test") + 1)
	require.NoError(t, buf.setSOA(SOAEntry{Host: "ns.test", Mailbox: "hm.test", Serial: 1}, 60))
	require.NoError(t, buf.setSOA(SOAEntry{Host: "other.test", Serial: 2}, 60), "later SOA records are ignored")
	assert.Equal(t, uint32(1), buf.ZoneStart().Serial)
	assert.Zero(t, buf.Free())
}

func TestPatchGlue(t *testing.T) {
	buf := NewRecordBuffer(512)
	require.NoError(t, buf.addMX(MXEntry{Preference: 10, Host: "mx1.test"}, 60))
	require.NoError(t, buf.addMX(MXEntry{Preference: 20, Host: "mx2.test"}, 60))
	require.NoError(t, buf.addSRV(SRVEntry{Target: "MX1.test"}, 60))

	v4 := netip.MustParseAddr("192.0.2.1")
	v6 := netip.MustParseAddr("2001:db8::1")
	assert.True(t, buf.patchGlue("mx1.test.", v4))
	assert.True(t, buf.patchGlue("mx1.test", v6))
	assert.False(t, buf.patchGlue("mx1.test", netip.MustParseAddr("192.0.2.99")), "first address wins")
	assert.False(t, buf.patchGlue("unknown.test", v4))

	assert.Equal(t, v4, buf.MailExchanges()[0].IPv4)
	assert.Equal(t, v6, buf.MailExchanges()[0].IPv6)
	assert.False(t, buf.MailExchanges()[1].IPv4.IsValid())
	assert.Equal(t, v4, buf.Services()[0].IPv4)
	assert.Equal(t, []string{"mx1.test", "mx2.test", "MX1.test"}, buf.glueHosts())
}
