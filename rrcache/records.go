package rrcache

import (
	"github.com/cockroachdb/errors"
)

// record types that are answered from a single cached record
const (
	typeCNAME = 5
	typeSOA   = 6
	typePTR   = 12
	typeTXT   = 16
)

func singleAnswer(rtype uint16) bool {
	switch rtype {
	case typeCNAME, typeSOA, typePTR, typeTXT:
		return true
	}
	return false
}

// Add inserts e, stamped as used at now. Strings are interned first; when
// there is no room for them or for the slot a record is reclaimed and the
// insert is retried. A record identical to an existing one only refreshes
// that record's TTL. Records with a zero TTL are not cached.
func (c *Cache) Add(now uint32, e Entry) error {
	if e.TTL == 0 {
		return nil
	}
	need := SlotSize + entrySize(len(e.Name))
	for _, n := range []int{len(e.Data), len(e.Target), len(e.Mailbox)} {
		if n > 0 {
			need += entrySize(n)
		}
	}
	if need > len(c.mem)-2*wordSize {
		return errors.Wrapf(ErrFull, "record for %q needs %d bytes", e.Name, need)
	}

	var s slot
	var err error
	if s.name, err = c.internReclaiming(now, []byte(e.Name)); err != nil {
		return err
	}
	s.data, err = c.internOptional(now, e.Data)
	if err == nil {
		s.target, err = c.internOptional(now, []byte(e.Target))
	}
	if err == nil {
		s.mailbox, err = c.internOptional(now, []byte(e.Mailbox))
	}
	if err != nil {
		c.releaseSlot(&s)
		return err
	}
	s.rtype = e.Type
	s.ttl = e.TTL
	s.used = now

	for i := range c.slots {
		old := &c.slots[i]
		if !old.free() && old.rtype == s.rtype && old.name == s.name && old.data == s.data &&
			old.target == s.target && old.mailbox == s.mailbox {
			old.ttl = s.ttl
			old.used = now
			return c.releaseSlot(&s)
		}
	}

	for {
		for i := range c.slots {
			if c.slots[i].free() {
				c.slots[i] = s
				c.records++
				return nil
			}
		}
		if c.head+SlotSize <= c.tail {
			c.slots = append(c.slots, s)
			c.head += SlotSize
			c.syncHead()
			c.records++
			return nil
		}
		if !c.reclaim(now) {
			c.releaseSlot(&s)
			return errors.Wrapf(ErrFull, "no record slot to reclaim for %q", e.Name)
		}
	}
}

func (c *Cache) internOptional(now uint32, b []byte) (StrRef, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return c.internReclaiming(now, b)
}

func (c *Cache) internReclaiming(now uint32, b []byte) (StrRef, error) {
	for {
		ref, err := c.Intern(b)
		if err == nil || !errors.Is(err, ErrFull) {
			return ref, err
		}
		if !c.reclaim(now) {
			return 0, err
		}
	}
}

// victim picks an expired record if there is one, otherwise the one unused
// for longest. It returns -1 when no record is live.
func (c *Cache) victim(now uint32) int {
	lru, oldest := -1, uint32(0)
	for i := range c.slots {
		s := &c.slots[i]
		if s.free() {
			continue
		}
		if s.expired(now) {
			return i
		}
		if age := now - s.used; lru < 0 || age > oldest {
			lru, oldest = i, age
		}
	}
	return lru
}

func (c *Cache) reclaim(now uint32) bool {
	i := c.victim(now)
	if i < 0 {
		return false
	}
	c.delete(i)
	c.evictions++
	return true
}

func (c *Cache) releaseSlot(s *slot) error {
	var errs error
	for _, ref := range []StrRef{s.name, s.data, s.target, s.mailbox} {
		if err := c.Release(ref); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	*s = slot{}
	return errs
}

// delete frees slot i and its strings, then pulls the head back over any
// free slots at the end of the slot region.
func (c *Cache) delete(i int) {
	// a failed release leaves the string pinned; the slot is freed anyway
	_ = c.releaseSlot(&c.slots[i])
	c.records--
	n := len(c.slots)
	for n > 0 && c.slots[n-1].free() {
		n--
	}
	if n != len(c.slots) {
		c.head -= (len(c.slots) - n) * SlotSize
		c.slots = c.slots[:n]
		c.syncHead()
	}
}

// Find calls fn with every live record of type rtype owned by name, compared
// without regard to ASCII case. fn returns false when it could not take the
// answer, which ends the scan. CNAME, PTR, TXT and SOA stop at the first
// answer. Expired records met during the scan are removed. Each matching
// record has its use time refreshed and its TTL reduced by the time since
// its last use.
func (c *Cache) Find(now uint32, name string, rtype uint16, fn func(Answer) bool) (int, error) {
	found := 0
	for i := 0; i < len(c.slots); i++ {
		s := &c.slots[i]
		if s.free() {
			continue
		}
		if s.expired(now) {
			c.delete(i)
			continue
		}
		if s.rtype != rtype || !equalName(c.bytesAt(s.name), name) {
			continue
		}
		s.ttl -= now - s.used
		s.used = now
		if !fn(c.answer(s)) {
			break
		}
		found++
		if singleAnswer(rtype) {
			break
		}
	}
	if found == 0 {
		return 0, errors.Wrapf(ErrNotFound, "%s type %d", name, rtype)
	}
	return found, nil
}

// Remove deletes every record of type rtype owned by name and returns how
// many were removed.
func (c *Cache) Remove(name string, rtype uint16) int {
	removed := 0
	for i := 0; i < len(c.slots); i++ {
		s := &c.slots[i]
		if !s.free() && s.rtype == rtype && equalName(c.bytesAt(s.name), name) {
			c.delete(i)
			removed++
		}
	}
	return removed
}

func (c *Cache) answer(s *slot) Answer {
	a := Answer{
		Name:    c.String(s.name),
		Type:    s.rtype,
		TTL:     s.ttl,
		Target:  c.String(s.target),
		Mailbox: c.String(s.mailbox),
	}
	if s.data != 0 {
		a.Data = append([]byte(nil), c.bytesAt(s.data)...)
	}
	return a
}

func equalName(stored []byte, name string) bool {
	if n := len(name); n > 0 && name[n-1] == '.' {
		name = name[:n-1]
	}
	if len(stored) != len(name) {
		return false
	}
	for i := range stored {
		if lower(stored[i]) != lower(name[i]) {
			return false
		}
	}
	return true
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
