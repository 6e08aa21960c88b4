package dns

import (
	"github.com/agentuity/go-stubdns/wire"
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidParameter is a caller error detected before any I/O.
	ErrInvalidParameter = errors.New("dns: invalid parameter")
	// ErrMalformedPacket is returned when a response cannot be parsed within its bounds.
	ErrMalformedPacket = errors.New("dns: malformed packet")
	// ErrMismatchedResponse is returned when a valid response answers another question.
	ErrMismatchedResponse = errors.New("dns: response does not match query")
	// ErrBadID is returned for a response carrying another transaction id.
	ErrBadID = errors.New("dns: bad transaction id")
	// ErrServerAuth is returned when the server flags its data as unusable.
	ErrServerAuth = errors.New("dns: server authority error")
	// ErrQueryFailed is returned when no usable answer arrived from any server.
	ErrQueryFailed = errors.New("dns: query failed")
	// ErrSize is returned for an oversized name or an undersized destination.
	ErrSize = errors.New("dns: size error")
	// ErrNeedMoreRecordBuffer is returned when the record buffer filled up.
	// Records stored before it remain available.
	ErrNeedMoreRecordBuffer = errors.New("dns: need more record buffer")
	// ErrCacheError is returned for an unusable cache.
	ErrCacheError = errors.New("dns: cache error")
	// ErrCacheSize is returned when the cache region is too small.
	ErrCacheSize = errors.New("dns: cache size error")
	// ErrNoServer is returned when a lookup is issued with no server configured.
	ErrNoServer = errors.New("dns: no server configured")
	// ErrServerListFull is returned when every server slot is taken.
	ErrServerListFull = errors.New("dns: server list full")
	// ErrDuplicateEntry is returned when adding a server already in the list.
	ErrDuplicateEntry = errors.New("dns: duplicate server entry")
	// ErrServerNotFound is returned when a server is not in the list.
	ErrServerNotFound = errors.New("dns: server not found")
	// ErrInvalidAddressType is returned for an address of an unsupported kind.
	ErrInvalidAddressType = errors.New("dns: invalid address type")
	// ErrBadAddress is returned for a missing or unusable address.
	ErrBadAddress = errors.New("dns: bad address")
	// ErrTimeout is returned when the instance lock could not be taken in time.
	ErrTimeout = errors.New("dns: timed out waiting for instance")
	// ErrInProgress is returned by a non-blocking lookup whose answer is still outstanding.
	ErrInProgress = errors.New("dns: lookup in progress")
	// ErrNotCreated is returned by every operation after Close.
	ErrNotCreated = errors.New("dns: client closed")
	// ErrNoPending is returned by Complete when no non-blocking lookup is outstanding.
	ErrNoPending = errors.New("dns: no lookup pending")
	// ErrReceiveTimeout is returned by an Endpoint when no datagram arrived in time.
	ErrReceiveTimeout = errors.New("dns: receive timed out")
)

// errNoResponse ends one attempt without an answer; the engine moves on.
var errNoResponse = errors.New("dns: no response")

// classify marks codec errors with the client error they stand for.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wire.ErrMalformed):
		return errors.Mark(err, ErrMalformedPacket)
	case errors.Is(err, wire.ErrNameTooLong), errors.Is(err, wire.ErrBufferTooSmall):
		return errors.Mark(err, ErrSize)
	case errors.Is(err, wire.ErrEmptyLabel):
		return errors.Mark(err, ErrInvalidParameter)
	}
	return err
}
