// Package wire implements the RFC 1035 message format used by the stub
// resolver: label encoding, compressed name decoding, resource record field
// access and query construction.
//
// Every read is bounds-checked against the received length of the message.
// A field that would be read past the end of the message yields ErrMalformed
// instead of a panic, so the functions are safe to run on untrusted input.
package wire

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const (
	HeaderSize             = 12
	MaxNameSize            = 255
	MaxLabelSize           = 63
	MaxCompressionPointers = 16
	MaxMessageSize         = 512

	// RecordFixedSize is type, class, ttl and rdlength following the owner name.
	RecordFixedSize = 10
	// QuestionFixedSize is qtype and qclass following the question name.
	QuestionFixedSize = 4
)

// header field offsets
const (
	IDOffset       = 0
	FlagsOffset    = 2
	QDCountOffset  = 4
	ANCountOffset  = 6
	NSCountOffset  = 8
	ARCountOffset  = 10
	QuestionOffset = 12
)

// header flags
const (
	FlagResponse = 0x8000
	FlagAA       = 0x0400
	FlagTC       = 0x0200
	FlagRD       = 0x0100
	FlagRA       = 0x0080

	// ErrorMask matches a response carrying the server failure bit.
	ErrorMask  = 0x8002
	RCodeMask  = 0x000f
	QueryFlags = FlagRD
)

const (
	RCodeSuccess     = 0
	RCodeFormatError = 1
	RCodeServerError = 2
	RCodeNameError   = 3
	RCodeNotImpl     = 4
	RCodeRefused     = 5
)

// resource record types
const (
	TypeA     uint16 = 1
	TypeNS    uint16 = 2
	TypeCNAME uint16 = 5
	TypeSOA   uint16 = 6
	TypePTR   uint16 = 12
	TypeMX    uint16 = 15
	TypeTXT   uint16 = 16
	TypeAAAA  uint16 = 28
	TypeSRV   uint16 = 33

	ClassIN uint16 = 1
)

const (
	compressMask  = 0xc0
	compressValue = 0xc0
	pointerMask   = 0x3fff
)

var (
	// ErrMalformed is returned for any read past the message end or an
	// internally inconsistent length.
	ErrMalformed = errors.New("malformed dns message")
	// ErrNameTooLong is returned when a name or label exceeds its limit.
	ErrNameTooLong = errors.New("dns name too long")
	// ErrBufferTooSmall is returned when a destination cannot hold the result.
	ErrBufferTooSmall = errors.New("destination buffer too small")
	// ErrEmptyLabel is returned when a name contains an empty interior label.
	ErrEmptyLabel = errors.New("dns name has an empty label")
)

// Uint16 reads a big-endian 16-bit value at off.
func Uint16(msg []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(msg) {
		return 0, errors.Wrapf(ErrMalformed, "16-bit read at %d beyond %d bytes", off, len(msg))
	}
	return binary.BigEndian.Uint16(msg[off:]), nil
}

// Uint32 reads a big-endian 32-bit value at off.
func Uint32(msg []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(msg) {
		return 0, errors.Wrapf(ErrMalformed, "32-bit read at %d beyond %d bytes", off, len(msg))
	}
	return binary.BigEndian.Uint32(msg[off:]), nil
}

// PutUint16 writes v big-endian at off. The caller guarantees room.
func PutUint16(b []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(b[off:], v)
}

// PutUint32 writes v big-endian at off. The caller guarantees room.
func PutUint32(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:], v)
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}
