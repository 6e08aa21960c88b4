package wire

import "github.com/cockroachdb/errors"

// Header is the fixed 12 byte message header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// ParseHeader decodes the header at the start of msg.
func ParseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, errors.Wrapf(ErrMalformed, "message of %d bytes is shorter than the header", len(msg))
	}
	return Header{
		ID:      readUint16(msg, IDOffset),
		Flags:   readUint16(msg, FlagsOffset),
		QDCount: readUint16(msg, QDCountOffset),
		ANCount: readUint16(msg, ANCountOffset),
		NSCount: readUint16(msg, NSCountOffset),
		ARCount: readUint16(msg, ARCountOffset),
	}, nil
}

// Put writes the header into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	PutUint16(b, IDOffset, h.ID)
	PutUint16(b, FlagsOffset, h.Flags)
	PutUint16(b, QDCountOffset, h.QDCount)
	PutUint16(b, ANCountOffset, h.ANCount)
	PutUint16(b, NSCountOffset, h.NSCount)
	PutUint16(b, ARCountOffset, h.ARCount)
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool {
	return h.Flags&FlagResponse != 0
}

// RCode returns the response code.
func (h Header) RCode() int {
	return int(h.Flags & RCodeMask)
}

// ServerError reports whether the server flagged the data as unusable.
func (h Header) ServerError() bool {
	return h.Flags&ErrorMask == ErrorMask
}

// RecordCount is the number of answer, authority and additional records.
func (h Header) RecordCount() int {
	return int(h.ANCount) + int(h.NSCount) + int(h.ARCount)
}

// Section identifies which part of a message a record belongs to.
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

func (s Section) String() string {
	switch s {
	case SectionAnswer:
		return "answer"
	case SectionAuthority:
		return "authority"
	case SectionAdditional:
		return "additional"
	default:
		return "unknown"
	}
}

// SectionOf returns the section of the i-th record (zero based) in wire order.
func (h Header) SectionOf(i int) Section {
	switch {
	case i < int(h.ANCount):
		return SectionAnswer
	case i < int(h.ANCount)+int(h.NSCount):
		return SectionAuthority
	default:
		return SectionAdditional
	}
}

// Question is a decoded question entry.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// ParseQuestion decodes the question at off and returns it with the offset of
// the byte following it.
func ParseQuestion(msg []byte, off int) (Question, int, error) {
	name, err := DecodeName(msg, off, MaxNameSize+1)
	if err != nil {
		return Question{}, 0, err
	}
	n, err := NameWireSize(msg, off)
	if err != nil {
		return Question{}, 0, err
	}
	next := off + n
	if next+QuestionFixedSize > len(msg) {
		return Question{}, 0, errors.Wrapf(ErrMalformed, "question at %d truncated", off)
	}
	return Question{
		Name:  name,
		Type:  readUint16(msg, next),
		Class: readUint16(msg, next+2),
	}, next + QuestionFixedSize, nil
}

// BuildQuery writes a standard recursive query for name and qtype, class IN,
// into buf and returns the message length. The name must not exceed
// MaxNameSize and buf must hold the header, the encoded name and the type and
// class fields.
func BuildQuery(buf []byte, id uint16, name string, qtype uint16) (int, error) {
	if len(name) > MaxNameSize {
		return 0, errors.Wrapf(ErrNameTooLong, "%d bytes", len(name))
	}
	need := HeaderSize + EncodedNameSize(name) + QuestionFixedSize
	if len(buf) < need {
		return 0, errors.Wrapf(ErrBufferTooSmall, "query needs %d bytes, have %d", need, len(buf))
	}
	Header{ID: id, Flags: QueryFlags}.Put(buf)
	q, err := AppendName(buf[HeaderSize:HeaderSize], name)
	if err != nil {
		return 0, err
	}
	q = appendUint16(q, qtype)
	q = appendUint16(q, ClassIN)
	PutUint16(buf, QDCountOffset, 1)
	return HeaderSize + len(q), nil
}
