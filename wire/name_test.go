package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func withHeader(body ...byte) []byte {
	return append(make([]byte, HeaderSize), body...)
}

func TestNameRoundTrip(t *testing.T) {
	names := []string{
		"example.com",
		"example.com.",
		"a.b.c.d.e.f.g",
		"1.2.0.192.in-addr.arpa",
		"_sip._tcp.example.org",
		strings.Repeat("a", 63) + ".com",
		strings.Repeat("abcdefg.", 31) + "x",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			encoded, err := EncodeName(name)
			require.NoError(t, err)
			assert.Equal(t, EncodedNameSize(name), len(encoded))
			msg := withHeader(encoded...)
			decoded, err := DecodeName(msg, HeaderSize, MaxNameSize+1)
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSuffix(name, "."), decoded)
			size, err := NameWireSize(msg, HeaderSize)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), size)
		})
	}
}

func TestEncodeNameRoot(t *testing.T) {
	for _, name := range []string{"", "."} {
		encoded, err := EncodeName(name)
		require.NoError(t, err)
		assert.Equal(t, []byte{0}, encoded)
	}
}

func TestEncodeNameRejectsBadLabels(t *testing.T) {
	_, err := EncodeName(strings.Repeat("a", 64) + ".com")
	assert.ErrorIs(t, err, ErrNameTooLong)
	_, err = EncodeName("a..com")
	assert.ErrorIs(t, err, ErrEmptyLabel)
}

func TestDecodeNameCompressed(t *testing.T) {
	b := dnsmessage.NewBuilder(make([]byte, 0, MaxMessageSize), dnsmessage.Header{ID: 7, Response: true})
	b.EnableCompression()
	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName("example.com."),
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}))
	require.NoError(t, b.StartAnswers())
	require.NoError(t, b.AResource(dnsmessage.ResourceHeader{
		Name:  dnsmessage.MustNewName("www.example.com."),
		Class: dnsmessage.ClassINET,
		TTL:   60,
	}, dnsmessage.AResource{A: [4]byte{192, 0, 2, 1}}))
	msg, err := b.Finish()
	require.NoError(t, err)

	answer := HeaderSize + len("\x07example\x03com\x00") + QuestionFixedSize
	size, err := NameWireSize(msg, answer)
	require.NoError(t, err)
	assert.Equal(t, 6, size, "one label and a pointer")

	name, err := DecodeName(msg, answer, MaxNameSize+1)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", name)
}

func TestDecodeNameRejectsSelfPointer(t *testing.T) {
	msg := withHeader(0xc0, HeaderSize)
	_, err := DecodeName(msg, HeaderSize, MaxNameSize+1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeNameRejectsForwardPointer(t *testing.T) {
	msg := withHeader(0xc0, HeaderSize+2, 0x01, 'a', 0x00)
	_, err := DecodeName(msg, HeaderSize, MaxNameSize+1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeNamePointerLoopTerminates(t *testing.T) {
	// "a" followed by a pointer back to the "a" label
	msg := withHeader(0x01, 'a', 0xc0, HeaderSize)
	_, err := DecodeName(msg, HeaderSize, 1024)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeNameTruncated(t *testing.T) {
	cases := map[string][]byte{
		"label past end":     withHeader(0x05, 'a', 'b'),
		"missing terminator": withHeader(0x01, 'a'),
		"half pointer":       withHeader(0x01, 'a', 0xc0),
		"reserved label":     withHeader(0x40, 'a', 0x00),
		"empty":              withHeader(),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeName(msg, HeaderSize, MaxNameSize+1)
			assert.ErrorIs(t, err, ErrMalformed)
			_, err = NameWireSize(msg, HeaderSize)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeNameDestinationSize(t *testing.T) {
	encoded, err := EncodeName("example.com")
	require.NoError(t, err)
	msg := withHeader(encoded...)

	_, err = DecodeName(msg, HeaderSize, len("example.com"))
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	name, err := DecodeName(msg, HeaderSize, len("example.com")+1)
	require.NoError(t, err)
	assert.Equal(t, "example.com", name)

	_, err = DecodeName(msg, HeaderSize, 0)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestEqualNames(t *testing.T) {
	assert.True(t, EqualNames("Example.COM", "example.com."))
	assert.True(t, EqualNames("", "."))
	assert.False(t, EqualNames("example.com", "example.org"))
	assert.False(t, EqualNames("example.co", "example.com"))
	// kelvin sign
	assert.False(t, EqualNames("K", "k"))
}

func FuzzDecodeName(f *testing.F) {
	f.Add(withHeader(0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00), 12)
	f.Add(withHeader(0x01, 'a', 0xc0, HeaderSize), 12)
	f.Add(withHeader(0xc0, 0x00), 12)
	f.Fuzz(func(t *testing.T, msg []byte, off int) {
		name, err := DecodeName(msg, off, MaxNameSize+1)
		if err == nil {
			assert.LessOrEqual(t, len(name), MaxNameSize)
		}
		if size, err := NameWireSize(msg, off); err == nil {
			assert.LessOrEqual(t, off+size, len(msg))
		}
	})
}
