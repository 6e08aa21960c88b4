// Package rrcache is a bounded answer cache laid out in one caller-owned
// memory block.
//
// Record slots grow upward from the head of the block and a reference
// counted string table grows downward from the tail. Each string entry is
// stored as [length u16][refcount u16][data padded to 4 bytes], so a zeroed
// region reads as a run of free four byte entries. Identical byte strings are
// interned once and shared by every record that names them.
//
// When no slot or string space is left a record is reclaimed: any slot whose
// TTL has run out first, otherwise the least recently used one.
//
// A Cache is not safe for concurrent use. The owner serializes access.
package rrcache

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const (
	// SlotSize is the number of bytes a record slot takes from the block.
	SlotSize = 28
	// MinSize is the smallest block that holds the control words and one slot.
	MinSize = 2*wordSize + SlotSize

	wordSize        = 4
	entryHeaderSize = 4
	maxRefs         = 0xffff
)

var (
	// ErrNotFound is returned by Find when nothing matched.
	ErrNotFound = errors.New("rrcache: not found")
	// ErrFull is returned when the block cannot hold the record or string.
	ErrFull = errors.New("rrcache: cache full")
	// ErrCorrupt is returned when an internal reference does not resolve.
	ErrCorrupt = errors.New("rrcache: corrupt cache state")
)

// StrRef is the offset of an interned string in the block. Zero means none.
type StrRef uint32

// Entry is a record to insert. Data holds the type specific numeric or raw
// rdata; Target and Mailbox hold the names embedded in the rdata.
type Entry struct {
	Name    string
	Type    uint16
	TTL     uint32
	Data    []byte
	Target  string
	Mailbox string
}

// Answer is a matched record copied out of the cache. TTL is the time left.
type Answer struct {
	Name    string
	Type    uint16
	TTL     uint32
	Data    []byte
	Target  string
	Mailbox string
}

type slot struct {
	name    StrRef
	data    StrRef
	target  StrRef
	mailbox StrRef
	rtype   uint16
	ttl     uint32
	used    uint32
}

func (s *slot) free() bool {
	return s.name == 0
}

func (s *slot) expired(now uint32) bool {
	return now-s.used >= s.ttl
}

// Stats describes cache usage.
type Stats struct {
	Records     int
	Strings     int
	StringBytes int
	FreeBytes   int
	Evictions   uint64
}

// Cache is a fixed-size answer cache.
type Cache struct {
	mem   []byte
	head  int
	tail  int
	slots []slot
	index map[uint64][]StrRef

	records   int
	strings   int
	strBytes  int
	evictions uint64

	onFull func()
}

// New formats mem as an empty cache. The length is truncated to a multiple
// of four.
func New(mem []byte) (*Cache, error) {
	size := len(mem) &^ (wordSize - 1)
	if size < MinSize {
		return nil, errors.Wrapf(ErrFull, "cache of %d bytes is below the %d byte minimum", len(mem), MinSize)
	}
	c := &Cache{mem: mem[:size]}
	c.Reset()
	return c, nil
}

// Reset zeroes the block and drops every record and string.
func (c *Cache) Reset() {
	clear(c.mem)
	c.head = wordSize
	c.tail = len(c.mem) - wordSize
	c.slots = c.slots[:0]
	c.index = make(map[uint64][]StrRef)
	c.records, c.strings, c.strBytes = 0, 0, 0
	c.putWord(0, uint32(c.head))
	c.putWord(c.tail, uint32(c.tail))
}

// SetFullHandler registers fn to run whenever the string table runs into the
// slot region. A nil fn removes the handler.
func (c *Cache) SetFullHandler(fn func()) {
	c.onFull = fn
}

// Size is the usable size of the block.
func (c *Cache) Size() int {
	return len(c.mem)
}

// Stats returns current usage counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Records:     c.records,
		Strings:     c.strings,
		StringBytes: c.strBytes,
		FreeBytes:   c.tail - c.head,
		Evictions:   c.evictions,
	}
}

func (c *Cache) putWord(off int, v uint32) {
	binary.BigEndian.PutUint32(c.mem[off:], v)
}

func (c *Cache) syncHead() {
	c.putWord(0, uint32(c.head))
}

func (c *Cache) syncTail() {
	c.putWord(len(c.mem)-wordSize, uint32(c.tail))
}

func align4(n int) int {
	return (n + 3) &^ 3
}
