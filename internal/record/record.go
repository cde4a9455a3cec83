// Package record defines the wire schema carried inside a frame body: the
// file header written once at the start of every segment, the log entry
// written for every append, and the trim marker written to a segment's
// pending/committed trim files.
//
// Bodies are encoded field-by-field with protobuf's wire primitives
// (google.golang.org/protobuf/encoding/protowire) rather than through generated
// message types. That gives the same tag-length-value, schema-evolving
// encoding a .proto-generated message would — unknown future fields can be
// skipped by a decoder that doesn't know them yet — without requiring a
// protoc-generated descriptor for what is, on purpose, an engine-opaque
// payload (spec: "Opaque to the engine except global_address").
package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// DataType tags the kind of payload a LogEntry carries. The engine itself
// only inspects GlobalAddress; DataType is round-tripped for the caller.
type DataType int32

const (
	DataTypeUnknown DataType = iota
	// DataRecord is an ordinary committed write.
	DataRecord
	// EmptyRecord marks a hole: an address the allocator skipped over.
	EmptyRecord
	// TrimRecord mirrors a trim decision into the data stream itself,
	// for callers that replay the log rather than consult .trimmed.
	TrimRecord
	// CheckpointRecord marks a stream checkpoint boundary.
	CheckpointRecord
	// LogicalBranchRecord records a logical-address remapping, e.g. for
	// stream merges performed above this engine.
	LogicalBranchRecord
)

func (t DataType) String() string {
	switch t {
	case DataRecord:
		return "DATA"
	case EmptyRecord:
		return "EMPTY"
	case TrimRecord:
		return "TRIM"
	case CheckpointRecord:
		return "CHECKPOINT"
	case LogicalBranchRecord:
		return "LOGICAL_BRANCH"
	default:
		return "UNKNOWN"
	}
}

// field numbers for LogEntry, stable across versions: adding a field means
// picking the next unused number, never reusing or reordering these.
const (
	fieldDataType         = 1
	fieldGlobalAddress    = 2
	fieldPayload          = 3
	fieldRank             = 4
	fieldCommit           = 5
	fieldStream           = 6 // repeated
	fieldBackpointerKey   = 7 // repeated, paired positionally with...
	fieldBackpointerVal   = 8 // ...this one
	fieldLogicalAddrKey   = 9  // repeated, paired positionally with...
	fieldLogicalAddrVal   = 10 // ...this one
)

// LogEntry is the payload of every data-file record. Only GlobalAddress is
// interpreted by the engine; everything else is caller-defined state that
// rides along unexamined.
type LogEntry struct {
	DataType         DataType
	GlobalAddress    uint64
	Payload          []byte
	Rank             int64
	Commit           bool
	Streams          map[uuid.UUID]struct{}
	Backpointers     map[uuid.UUID]int64
	LogicalAddresses map[uuid.UUID]int64
}

// Marshal encodes e as a tag-length-value byte stream.
func (e *LogEntry) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.DataType))

	b = protowire.AppendTag(b, fieldGlobalAddress, protowire.VarintType)
	b = protowire.AppendVarint(b, e.GlobalAddress)

	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)

	b = protowire.AppendTag(b, fieldRank, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Rank))

	b = protowire.AppendTag(b, fieldCommit, protowire.VarintType)
	if e.Commit {
		b = protowire.AppendVarint(b, 1)
	} else {
		b = protowire.AppendVarint(b, 0)
	}

	for id := range e.Streams {
		b = protowire.AppendTag(b, fieldStream, protowire.BytesType)
		idb, _ := id.MarshalBinary()
		b = protowire.AppendBytes(b, idb)
	}

	for id, v := range e.Backpointers {
		idb, _ := id.MarshalBinary()
		b = protowire.AppendTag(b, fieldBackpointerKey, protowire.BytesType)
		b = protowire.AppendBytes(b, idb)
		b = protowire.AppendTag(b, fieldBackpointerVal, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}

	for id, v := range e.LogicalAddresses {
		idb, _ := id.MarshalBinary()
		b = protowire.AppendTag(b, fieldLogicalAddrKey, protowire.BytesType)
		b = protowire.AppendBytes(b, idb)
		b = protowire.AppendTag(b, fieldLogicalAddrVal, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}

	return b
}

// UnmarshalLogEntry decodes bytes produced by LogEntry.Marshal. Unknown
// field numbers are skipped, so a newer writer's extra fields don't break
// an older reader — the schema-evolution property the spec's metadata
// frame requires of the format as a whole.
func UnmarshalLogEntry(b []byte) (*LogEntry, error) {
	e := &LogEntry{
		Streams:          make(map[uuid.UUID]struct{}),
		Backpointers:     make(map[uuid.UUID]int64),
		LogicalAddresses: make(map[uuid.UUID]int64),
	}

	var pendingBackpointerKey *uuid.UUID
	var pendingLogicalKey *uuid.UUID

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("record: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("record: malformed varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldDataType:
				e.DataType = DataType(v)
			case fieldGlobalAddress:
				e.GlobalAddress = v
			case fieldRank:
				e.Rank = protowire.DecodeZigZag(v)
			case fieldCommit:
				e.Commit = v != 0
			case fieldBackpointerVal:
				if pendingBackpointerKey != nil {
					e.Backpointers[*pendingBackpointerKey] = protowire.DecodeZigZag(v)
					pendingBackpointerKey = nil
				}
			case fieldLogicalAddrVal:
				if pendingLogicalKey != nil {
					e.LogicalAddresses[*pendingLogicalKey] = protowire.DecodeZigZag(v)
					pendingLogicalKey = nil
				}
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("record: malformed bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldPayload:
				e.Payload = append([]byte(nil), v...)
			case fieldStream:
				id, err := uuid.FromBytes(v)
				if err != nil {
					return nil, fmt.Errorf("record: bad stream id: %w", err)
				}
				e.Streams[id] = struct{}{}
			case fieldBackpointerKey:
				id, err := uuid.FromBytes(v)
				if err != nil {
					return nil, fmt.Errorf("record: bad backpointer key: %w", err)
				}
				pendingBackpointerKey = &id
			case fieldLogicalAddrKey:
				id, err := uuid.FromBytes(v)
				if err != nil {
					return nil, fmt.Errorf("record: bad logical address key: %w", err)
				}
				pendingLogicalKey = &id
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("record: malformed field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return e, nil
}

// TrimEntry is one line of a .pending or .trimmed file.
type TrimEntry struct {
	Checksum uint32
	Address  int64
}

const (
	trimFieldChecksum = 1
	trimFieldAddress  = 2
)

// Marshal encodes the entry body (without the outer varint length prefix —
// that is applied by the caller, see MarshalDelimited).
func (t TrimEntry) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, trimFieldChecksum, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, t.Checksum)
	b = protowire.AppendTag(b, trimFieldAddress, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(t.Address))
	return b
}

// MarshalDelimited encodes the entry prefixed with an unsigned varint
// giving the length of the entry body, per spec.md's length-delimited
// trim file format.
func (t TrimEntry) MarshalDelimited() []byte {
	body := t.Marshal()
	var b []byte
	b = protowire.AppendVarint(b, uint64(len(body)))
	b = append(b, body...)
	return b
}

// UnmarshalTrimEntry decodes a TrimEntry body (no outer length prefix).
func UnmarshalTrimEntry(b []byte) (TrimEntry, error) {
	var t TrimEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t, fmt.Errorf("record: malformed trim tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return t, fmt.Errorf("record: malformed trim fixed32: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if num == trimFieldChecksum {
				t.Checksum = v
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, fmt.Errorf("record: malformed trim varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if num == trimFieldAddress {
				t.Address = protowire.DecodeZigZag(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, fmt.Errorf("record: malformed trim field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return t, nil
}

// ReadTrimEntry reads one length-delimited TrimEntry from a .pending or
// .trimmed stream. The varint length prefix uses the same base-128
// encoding as protobuf's, so encoding/binary's reader can consume what
// protowire.AppendVarint produced. Returns io.EOF when the stream ends
// cleanly at an entry boundary.
func ReadTrimEntry(r *bufio.Reader) (TrimEntry, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return TrimEntry{}, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return TrimEntry{}, io.ErrUnexpectedEOF
	}
	return UnmarshalTrimEntry(body)
}

// FileHeader is the first record of every segment.
type FileHeader struct {
	Version        uint32
	VerifyChecksum bool
}

const (
	headerFieldVersion = 1
	headerFieldVerify  = 2
)

// Marshal encodes the file header body.
func (h FileHeader) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, headerFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Version))
	b = protowire.AppendTag(b, headerFieldVerify, protowire.VarintType)
	if h.VerifyChecksum {
		b = protowire.AppendVarint(b, 1)
	} else {
		b = protowire.AppendVarint(b, 0)
	}
	return b
}

// UnmarshalFileHeader decodes a FileHeader body.
func UnmarshalFileHeader(b []byte) (FileHeader, error) {
	var h FileHeader
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, fmt.Errorf("record: malformed header tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, fmt.Errorf("record: malformed header field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return h, fmt.Errorf("record: malformed header varint: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case headerFieldVersion:
			h.Version = uint32(v)
		case headerFieldVerify:
			h.VerifyChecksum = v != 0
		}
	}
	return h, nil
}
