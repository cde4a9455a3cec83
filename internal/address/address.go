// Package address defines the log's primary key: an absolute monotonic
// offset, optionally scoped to a stream, and the deterministic mapping
// from that offset to the segment that materializes it.
package address

import (
	"fmt"

	"github.com/google/uuid"
)

// LogAddress is the engine's primary key. A nil Stream places the address
// in the global, untagged namespace; a non-nil Stream partitions the
// on-disk namespace into a per-stream segment sequence.
type LogAddress struct {
	Stream  *uuid.UUID
	Address uint64
}

// Global builds an untagged address.
func Global(addr uint64) LogAddress {
	return LogAddress{Address: addr}
}

// Tagged builds a stream-scoped address.
func Tagged(stream uuid.UUID, addr uint64) LogAddress {
	return LogAddress{Stream: &stream, Address: addr}
}

// Tag reports the stream this address is scoped to, if any.
func (a LogAddress) Tag() (uuid.UUID, bool) {
	if a.Stream == nil {
		return uuid.UUID{}, false
	}
	return *a.Stream, true
}

// Segment computes the deterministic segment number that a record at this
// address belongs to. recordsPerSegment must be greater than zero.
func (a LogAddress) Segment(recordsPerSegment uint64) uint64 {
	return a.Address / recordsPerSegment
}

// String renders the address for logging.
func (a LogAddress) String() string {
	if a.Stream == nil {
		return fmt.Sprintf("%d", a.Address)
	}
	return fmt.Sprintf("%s/%d", a.Stream, a.Address)
}

// Equal reports whether two addresses name the same record.
func (a LogAddress) Equal(other LogAddress) bool {
	if a.Address != other.Address {
		return false
	}
	if (a.Stream == nil) != (other.Stream == nil) {
		return false
	}
	if a.Stream == nil {
		return true
	}
	return *a.Stream == *other.Stream
}
