package wire

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// EncodedNameSize returns the number of bytes name occupies as an
// uncompressed label sequence, including the terminating zero label.
func EncodedNameSize(name string) int {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return 1
	}
	return len(name) + 2
}

// AppendName appends name to b as length-prefixed labels terminated by a zero
// length label. Compression is never used on encode.
func AppendName(b []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return append(b, 0), nil
	}
	for label := range strings.SplitSeq(name, ".") {
		if label == "" {
			return b, errors.Wrapf(ErrEmptyLabel, "name %q", name)
		}
		if len(label) > MaxLabelSize {
			return b, errors.Wrapf(ErrNameTooLong, "label of %d bytes in %q", len(label), name)
		}
		b = append(b, byte(len(label)))
		b = append(b, label...)
	}
	return append(b, 0), nil
}

// EncodeName returns name as an uncompressed label sequence.
func EncodeName(name string) ([]byte, error) {
	return AppendName(make([]byte, 0, EncodedNameSize(name)), name)
}

// DecodeName walks the label sequence at off and returns the dotted name.
//
// Compression pointers are followed only backwards, at most
// MaxCompressionPointers times. size is the capacity of the destination
// including room for a terminator, so the decoded name may be at most size-1
// bytes long; a longer name yields ErrBufferTooSmall. Any read past the end of
// msg yields ErrMalformed.
func DecodeName(msg []byte, off int, size int) (string, error) {
	if size <= 0 {
		return "", errors.Wrap(ErrBufferTooSmall, "name destination has no room")
	}
	out := make([]byte, 0, min(size, MaxNameSize+1))
	pos := off
	hops := 0
	for {
		if pos < 0 || pos >= len(msg) {
			return "", errors.Wrapf(ErrMalformed, "name label at %d beyond %d bytes", pos, len(msg))
		}
		length := int(msg[pos])
		switch {
		case length == 0:
			return string(out), nil
		case length&compressMask == compressValue:
			if pos+1 >= len(msg) {
				return "", errors.Wrapf(ErrMalformed, "truncated compression pointer at %d", pos)
			}
			target := (length<<8 | int(msg[pos+1])) & pointerMask
			if target >= pos {
				return "", errors.Wrapf(ErrMalformed, "compression pointer at %d does not point backwards (%d)", pos, target)
			}
			hops++
			if hops > MaxCompressionPointers {
				return "", errors.Wrapf(ErrMalformed, "more than %d compression pointers", MaxCompressionPointers)
			}
			pos = target
		case length&compressMask != 0:
			return "", errors.Wrapf(ErrMalformed, "reserved label type 0x%02x at %d", length, pos)
		default:
			end := pos + 1 + length
			if end > len(msg) {
				return "", errors.Wrapf(ErrMalformed, "label at %d runs past %d bytes", pos, len(msg))
			}
			if len(out) > 0 {
				out = append(out, '.')
			}
			out = append(out, msg[pos+1:end]...)
			if len(out)+1 > size {
				return "", errors.Wrapf(ErrBufferTooSmall, "decoded name exceeds %d bytes", size-1)
			}
			pos = end
		}
	}
}

// NameWireSize returns how many bytes the name starting at off occupies in
// place. A compression pointer ends the name, so at most one pointer is
// counted.
func NameWireSize(msg []byte, off int) (int, error) {
	pos := off
	for {
		if pos < 0 || pos >= len(msg) {
			return 0, errors.Wrapf(ErrMalformed, "name label at %d beyond %d bytes", pos, len(msg))
		}
		length := int(msg[pos])
		switch {
		case length == 0:
			return pos + 1 - off, nil
		case length&compressMask == compressValue:
			if pos+2 > len(msg) {
				return 0, errors.Wrapf(ErrMalformed, "truncated compression pointer at %d", pos)
			}
			return pos + 2 - off, nil
		case length&compressMask != 0:
			return 0, errors.Wrapf(ErrMalformed, "reserved label type 0x%02x at %d", length, pos)
		default:
			pos += 1 + length
			if pos-off > MaxNameSize {
				return 0, errors.Wrapf(ErrMalformed, "name at %d exceeds %d bytes", off, MaxNameSize)
			}
		}
	}
}

// EqualNames compares two names ignoring ASCII case and a trailing dot.
// Bytes outside A-Z are compared exactly.
func EqualNames(a, b string) bool {
	a = strings.TrimSuffix(a, ".")
	b = strings.TrimSuffix(b, ".")
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
