package dns

import (
	"net/netip"

	"github.com/agentuity/go-stubdns/rrcache"
	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
)

// response is the state of one datagram being decoded.
type response struct {
	msg     []byte
	q       query
	buf     *RecordBuffer
	now     uint32
	matched bool
}

// processResponse decodes msg as the answer to q. Records are written to buf
// only after the header shows the datagram belongs to the outstanding
// transaction.
func (c *Client) processResponse(msg []byte, q query, buf *RecordBuffer) error {
	h, err := wire.ParseHeader(msg)
	if err != nil {
		return classify(err)
	}
	if h.ID != c.txID {
		return errors.Wrapf(ErrBadID, "got %d, want %d", h.ID, c.txID)
	}
	if h.ServerError() {
		return errors.Wrapf(ErrServerAuth, "%s: rcode %d", q, h.RCode())
	}
	if !h.IsResponse() || h.RCode() != wire.RCodeSuccess || h.RecordCount() == 0 {
		return errors.Wrapf(ErrQueryFailed, "%s: rcode %d with %d records", q, h.RCode(), h.RecordCount())
	}

	buf.Reset()
	off := wire.QuestionOffset
	if h.QDCount == 1 {
		question, next, err := wire.ParseQuestion(msg, off)
		if err != nil {
			return classify(err)
		}
		if question.Type != q.qtype || question.Class != wire.ClassIN || !wire.EqualNames(question.Name, q.name) {
			return errors.Wrapf(ErrMismatchedResponse, "asked %s, answered %s %s", q, typeName(question.Type), question.Name)
		}
		off = next
	} else {
		for range h.QDCount {
			n, err := wire.NameWireSize(msg, off)
			if err != nil {
				return classify(err)
			}
			off += n + wire.QuestionFixedSize
		}
	}

	r := &response{msg: msg, q: q, buf: buf}
	if c.rr != nil {
		r.now = c.clock.Seconds()
	}
	for i := range h.RecordCount() {
		rh, err := wire.ParseRecordHeader(msg, off)
		if err != nil {
			return classify(err)
		}
		if err := c.handleRecord(r, rh, h.SectionOf(i)); err != nil {
			return err
		}
		off += rh.Size()
	}
	if !r.matched {
		return errors.Wrapf(ErrQueryFailed, "%s: no %s record in answer", q, typeName(q.qtype))
	}
	return nil
}

func (c *Client) handleRecord(r *response, rh wire.RecordHeader, section wire.Section) error {
	if rh.Class != wire.ClassIN {
		return nil
	}
	if section == wire.SectionAdditional {
		return c.handleGlue(r, rh)
	}
	if rh.Type == wire.TypeCNAME && r.q.qtype != wire.TypeCNAME {
		switch r.q.qtype {
		case wire.TypeA, wire.TypeAAAA:
			return nil
		}
		if section == wire.SectionAnswer {
			return errors.Wrapf(ErrMismatchedResponse, "CNAME answer to %s", r.q)
		}
		return nil
	}
	if rh.Type != r.q.qtype {
		return nil
	}

	var (
		entry rrcache.Entry
		err   error
	)
	switch rh.Type {
	case wire.TypeA, wire.TypeAAAA:
		entry, err = c.handleAddress(r, rh)
	case wire.TypeCNAME, wire.TypePTR:
		entry, err = c.handleName(r, rh)
	case wire.TypeTXT:
		entry, err = c.handleText(r, rh)
	case wire.TypeNS:
		entry, err = c.handleNS(r, rh)
	case wire.TypeMX:
		entry, err = c.handleMX(r, rh)
	case wire.TypeSRV:
		entry, err = c.handleSRV(r, rh)
	case wire.TypeSOA:
		entry, err = c.handleSOA(r, rh)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	r.matched = true
	c.cacheRecord(r, rh, entry)
	return nil
}

// cacheRecord keeps a copy of a stored answer. A record the cache cannot
// take is logged and otherwise ignored.
func (c *Client) cacheRecord(r *response, rh wire.RecordHeader, entry rrcache.Entry) {
	if c.rr == nil {
		return
	}
	owner, err := wire.DecodeName(r.msg, rh.Offset, wire.MaxNameSize+1)
	if err != nil {
		return
	}
	entry.Name = owner
	entry.Type = rh.Type
	entry.TTL = rh.TTL
	if err := c.rr.Add(r.now, entry); err != nil {
		c.logger.Warn("caching %s %s: %v", typeName(rh.Type), owner, err)
	}
}

// rdataName decodes a name embedded in the rdata of rh at off and checks it
// ends within the rdata.
func rdataName(msg []byte, rh wire.RecordHeader, off int) (string, int, error) {
	end := rh.DataOffset + int(rh.DataLength)
	if off >= end {
		return "", 0, errors.Wrapf(ErrMalformedPacket, "name at %d outside rdata", off)
	}
	n, err := wire.NameWireSize(msg, off)
	if err != nil {
		return "", 0, classify(err)
	}
	if off+n > end {
		return "", 0, errors.Wrapf(ErrMalformedPacket, "name at %d runs past rdata", off)
	}
	name, err := wire.DecodeName(msg, off, wire.MaxNameSize+1)
	if err != nil {
		return "", 0, classify(err)
	}
	return name, n, nil
}

func (c *Client) handleAddress(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	data := rh.Data(r.msg)
	addr, ok := netip.AddrFromSlice(data)
	if !ok || (rh.Type == wire.TypeA) != (len(data) == 4) {
		return rrcache.Entry{}, errors.Wrapf(ErrMalformedPacket, "%s rdata of %d bytes", typeName(rh.Type), len(data))
	}
	if err := r.buf.addAddr(addr, rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Data: data}, nil
}

func (c *Client) handleName(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	name, _, err := rdataName(r.msg, rh, rh.DataOffset)
	if err != nil {
		return rrcache.Entry{}, err
	}
	if err := r.buf.addName(name, rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Target: name}, nil
}

func (c *Client) handleText(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	data := rh.Data(r.msg)
	if len(data) == 0 || 1+int(data[0]) > len(data) {
		return rrcache.Entry{}, errors.Wrapf(ErrMalformedPacket, "TXT string overruns %d byte rdata", len(data))
	}
	text := data[1 : 1+int(data[0])]
	if err := r.buf.addName(string(text), rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Data: text}, nil
}

func (c *Client) handleNS(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	host, _, err := rdataName(r.msg, rh, rh.DataOffset)
	if err != nil {
		return rrcache.Entry{}, err
	}
	if err := r.buf.addNS(NSEntry{Host: host}, rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Target: host}, nil
}

func (c *Client) handleMX(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	if rh.DataLength < 3 {
		return rrcache.Entry{}, errors.Wrapf(ErrMalformedPacket, "MX rdata of %d bytes", rh.DataLength)
	}
	pref, _ := wire.Uint16(r.msg, rh.DataOffset)
	host, _, err := rdataName(r.msg, rh, rh.DataOffset+2)
	if err != nil {
		return rrcache.Entry{}, err
	}
	if err := r.buf.addMX(MXEntry{Preference: pref, Host: host}, rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Data: rh.Data(r.msg)[:2], Target: host}, nil
}

func (c *Client) handleSRV(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	if rh.DataLength < 7 {
		return rrcache.Entry{}, errors.Wrapf(ErrMalformedPacket, "SRV rdata of %d bytes", rh.DataLength)
	}
	prio, _ := wire.Uint16(r.msg, rh.DataOffset)
	weight, _ := wire.Uint16(r.msg, rh.DataOffset+2)
	port, _ := wire.Uint16(r.msg, rh.DataOffset+4)
	target, _, err := rdataName(r.msg, rh, rh.DataOffset+6)
	if err != nil {
		return rrcache.Entry{}, err
	}
	e := SRVEntry{Priority: prio, Weight: weight, Port: port, Target: target}
	if err := r.buf.addSRV(e, rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Data: rh.Data(r.msg)[:6], Target: target}, nil
}

const soaFixedSize = 20

func (c *Client) handleSOA(r *response, rh wire.RecordHeader) (rrcache.Entry, error) {
	host, n, err := rdataName(r.msg, rh, rh.DataOffset)
	if err != nil {
		return rrcache.Entry{}, err
	}
	mailbox, m, err := rdataName(r.msg, rh, rh.DataOffset+n)
	if err != nil {
		return rrcache.Entry{}, err
	}
	fixed := rh.DataOffset + n + m
	if fixed+soaFixedSize > rh.DataOffset+int(rh.DataLength) {
		return rrcache.Entry{}, errors.Wrapf(ErrMalformedPacket, "SOA rdata of %d bytes", rh.DataLength)
	}
	e := SOAEntry{Host: host, Mailbox: mailbox}
	e.Serial, _ = wire.Uint32(r.msg, fixed)
	e.Refresh, _ = wire.Uint32(r.msg, fixed+4)
	e.Retry, _ = wire.Uint32(r.msg, fixed+8)
	e.Expire, _ = wire.Uint32(r.msg, fixed+12)
	e.Minimum, _ = wire.Uint32(r.msg, fixed+16)
	if err := r.buf.setSOA(e, rh.TTL); err != nil {
		return rrcache.Entry{}, err
	}
	return rrcache.Entry{Data: r.msg[fixed : fixed+soaFixedSize], Target: host, Mailbox: mailbox}, nil
}

// handleGlue copies an additional section address into the NS, MX or SRV
// entries naming its owner. Records that cannot be decoded are skipped.
func (c *Client) handleGlue(r *response, rh wire.RecordHeader) error {
	switch r.q.qtype {
	case wire.TypeNS, wire.TypeMX, wire.TypeSRV:
	default:
		return nil
	}
	var addr netip.Addr
	switch data := rh.Data(r.msg); {
	case rh.Type == wire.TypeA && len(data) == 4:
		addr = netip.AddrFrom4([4]byte(data))
	case rh.Type == wire.TypeAAAA && len(data) == 16:
		addr = netip.AddrFrom16([16]byte(data))
	default:
		return nil
	}
	owner, err := wire.DecodeName(r.msg, rh.Offset, wire.MaxNameSize+1)
	if err != nil {
		return nil
	}
	if r.buf.patchGlue(owner, addr) {
		c.logger.Trace("glue %s for %s", addr, owner)
	}
	return nil
}
