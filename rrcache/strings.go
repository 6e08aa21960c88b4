package rrcache

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

func entrySize(length int) int {
	return entryHeaderSize + align4(length)
}

func (c *Cache) end() int {
	return len(c.mem) - wordSize
}

func (c *Cache) entryLen(off int) int {
	return int(binary.BigEndian.Uint16(c.mem[off:]))
}

func (c *Cache) refs(off int) int {
	return int(binary.BigEndian.Uint16(c.mem[off+2:]))
}

func (c *Cache) setRefs(off int, n int) {
	binary.BigEndian.PutUint16(c.mem[off+2:], uint16(n))
}

func (c *Cache) setEntry(off, length, refs int) {
	binary.BigEndian.PutUint16(c.mem[off:], uint16(length))
	c.setRefs(off, refs)
}

func (c *Cache) valid(ref StrRef) bool {
	off := int(ref)
	if off < c.tail || off%wordSize != 0 || off+entryHeaderSize > c.end() {
		return false
	}
	return off+entrySize(c.entryLen(off)) <= c.end()
}

func (c *Cache) bytesAt(ref StrRef) []byte {
	off := int(ref)
	return c.mem[off+entryHeaderSize : off+entryHeaderSize+c.entryLen(off)]
}

// Intern stores b in the string table, or takes another reference on an
// identical entry, and returns its offset.
func (c *Cache) Intern(b []byte) (StrRef, error) {
	if len(b) > 0xffff {
		return 0, errors.Wrapf(ErrFull, "string of %d bytes", len(b))
	}
	h := xxhash.Sum64(b)
	for _, ref := range c.index[h] {
		if !bytes.Equal(c.bytesAt(ref), b) {
			continue
		}
		n := c.refs(int(ref))
		if n >= maxRefs {
			return 0, errors.Wrapf(ErrFull, "string at %d has %d references", ref, n)
		}
		c.setRefs(int(ref), n+1)
		return ref, nil
	}

	need := entrySize(len(b))
	off, size := c.bestFit(need)
	switch {
	case off > 0:
		if rest := size - need; rest >= entryHeaderSize {
			c.setEntry(off+need, rest-entryHeaderSize, 0)
		} else {
			need = size
		}
	case c.tail-need >= c.head:
		c.tail -= need
		off = c.tail
		c.syncTail()
	default:
		if c.onFull != nil {
			c.onFull()
		}
		return 0, errors.Wrapf(ErrFull, "no room for %d byte string (%d free)", need, c.tail-c.head)
	}

	c.setEntry(off, len(b), 1)
	copy(c.mem[off+entryHeaderSize:], b)
	ref := StrRef(off)
	c.index[h] = append(c.index[h], ref)
	c.strings++
	c.strBytes += need
	return ref, nil
}

// bestFit returns the smallest unreferenced entry of at least need bytes.
func (c *Cache) bestFit(need int) (int, int) {
	best, bestSize := 0, 0
	for off := c.tail; off+entryHeaderSize <= c.end(); {
		size := entrySize(c.entryLen(off))
		if off+size > c.end() {
			break
		}
		if c.refs(off) == 0 && size >= need && (best == 0 || size < bestSize) {
			best, bestSize = off, size
			if size == need {
				break
			}
		}
		off += size
	}
	return best, bestSize
}

// Release drops one reference on ref. The entry is zeroed when the last
// reference goes, and free entries at the tail are handed back to the free
// region.
func (c *Cache) Release(ref StrRef) error {
	if ref == 0 {
		return nil
	}
	if !c.valid(ref) {
		return errors.Wrapf(ErrCorrupt, "string reference %d outside table [%d,%d)", ref, c.tail, c.end())
	}
	off := int(ref)
	n := c.refs(off)
	if n == 0 {
		return errors.Wrapf(ErrCorrupt, "string at %d released with no references", ref)
	}
	c.setRefs(off, n-1)
	if n > 1 {
		return nil
	}

	data := c.bytesAt(ref)
	c.unindex(xxhash.Sum64(data), ref)
	size := entrySize(len(data))
	clear(c.mem[off+entryHeaderSize : off+size])
	c.strings--
	c.strBytes -= size
	if off == c.tail {
		c.mergeTail()
	}
	return nil
}

func (c *Cache) mergeTail() {
	for c.tail+entryHeaderSize <= c.end() && c.refs(c.tail) == 0 {
		size := entrySize(c.entryLen(c.tail))
		if c.tail+size > c.end() {
			break
		}
		clear(c.mem[c.tail : c.tail+entryHeaderSize])
		c.tail += size
	}
	c.syncTail()
}

func (c *Cache) unindex(h uint64, ref StrRef) {
	refs := slices.DeleteFunc(c.index[h], func(r StrRef) bool { return r == ref })
	if len(refs) == 0 {
		delete(c.index, h)
		return
	}
	c.index[h] = refs
}

// RefCount returns the number of references held on ref, or zero when ref
// is not a live string.
func (c *Cache) RefCount(ref StrRef) int {
	if ref == 0 || !c.valid(ref) {
		return 0
	}
	return c.refs(int(ref))
}

// String returns the bytes stored at ref as a string.
func (c *Cache) String(ref StrRef) string {
	if ref == 0 || !c.valid(ref) {
		return ""
	}
	return string(c.bytesAt(ref))
}
