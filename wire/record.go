package wire

import "github.com/cockroachdb/errors"

// RecordType returns the type of the resource record starting at off.
func RecordType(msg []byte, off int) (uint16, error) {
	n, err := NameWireSize(msg, off)
	if err != nil {
		return 0, err
	}
	return Uint16(msg, off+n)
}

// RecordClass returns the class of the resource record starting at off.
func RecordClass(msg []byte, off int) (uint16, error) {
	n, err := NameWireSize(msg, off)
	if err != nil {
		return 0, err
	}
	return Uint16(msg, off+n+2)
}

// RecordTTL returns the time to live of the resource record starting at off.
func RecordTTL(msg []byte, off int) (uint32, error) {
	n, err := NameWireSize(msg, off)
	if err != nil {
		return 0, err
	}
	return Uint32(msg, off+n+4)
}

// RecordDataLength returns the rdlength field of the resource record starting at off.
func RecordDataLength(msg []byte, off int) (uint16, error) {
	n, err := NameWireSize(msg, off)
	if err != nil {
		return 0, err
	}
	return Uint16(msg, off+n+8)
}

// RecordDataOffset returns where the rdata of the record at off begins. The
// whole rdata must lie inside msg.
func RecordDataOffset(msg []byte, off int) (int, error) {
	h, err := ParseRecordHeader(msg, off)
	if err != nil {
		return 0, err
	}
	return h.DataOffset, nil
}

// RecordSize returns the total on-wire size of the record at off: the
// in-place name size, the fixed header and the rdata.
func RecordSize(msg []byte, off int) (int, error) {
	h, err := ParseRecordHeader(msg, off)
	if err != nil {
		return 0, err
	}
	return h.Size(), nil
}

// RecordHeader holds the decoded fixed fields of a resource record.
type RecordHeader struct {
	Offset     int
	NameSize   int
	Type       uint16
	Class      uint16
	TTL        uint32
	DataLength uint16
	DataOffset int
}

// Size is the total on-wire size of the record.
func (h RecordHeader) Size() int {
	return h.NameSize + RecordFixedSize + int(h.DataLength)
}

// Data returns the rdata bytes of the record.
func (h RecordHeader) Data(msg []byte) []byte {
	return msg[h.DataOffset : h.DataOffset+int(h.DataLength)]
}

// ParseRecordHeader decodes the fixed fields of the record starting at off and
// verifies that its rdata lies within msg.
func ParseRecordHeader(msg []byte, off int) (RecordHeader, error) {
	n, err := NameWireSize(msg, off)
	if err != nil {
		return RecordHeader{}, err
	}
	fixed := off + n
	if fixed+RecordFixedSize > len(msg) {
		return RecordHeader{}, errors.Wrapf(ErrMalformed, "record header at %d truncated", off)
	}
	h := RecordHeader{
		Offset:     off,
		NameSize:   n,
		Type:       readUint16(msg, fixed),
		Class:      readUint16(msg, fixed+2),
		TTL:        readUint32(msg, fixed+4),
		DataLength: readUint16(msg, fixed+8),
		DataOffset: fixed + RecordFixedSize,
	}
	if h.DataOffset+int(h.DataLength) > len(msg) {
		return RecordHeader{}, errors.Wrapf(ErrMalformed, "record data at %d declares %d bytes, only %d left", h.DataOffset, h.DataLength, len(msg)-h.DataOffset)
	}
	return h, nil
}

// unchecked reads for callers that already verified the range
func readUint16(msg []byte, off int) uint16 {
	return uint16(msg[off])<<8 | uint16(msg[off+1])
}

func readUint32(msg []byte, off int) uint32 {
	return uint32(msg[off])<<24 | uint32(msg[off+1])<<16 | uint32(msg[off+2])<<8 | uint32(msg[off+3])
}
