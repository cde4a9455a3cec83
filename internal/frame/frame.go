// Package frame implements the on-disk record framing shared by every
// segment file: a fixed-size checksum+length metadata prefix, CRC32C over
// the body, and (for data records, not the leading file header) a 2-byte
// delimiter. A reader that meets a missing or wrong delimiter, as after a
// torn write, treats the segment as ending there; it does not search
// further for the next record.
//
// Layout of one framed record on disk:
//
//	[delimiter uint16_be]? [metadata Header] [body ...Length bytes]
//
// The delimiter is present on every record in a segment's data file except
// the very first one, the file header, which is a bare metadata+body pair.
package frame

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// MetadataSize is the serialized size, in bytes, of a Header: two
// big-endian uint32 fields. It is a compile-time constant so callers can
// pre-size buffers without round-tripping through Encode.
const MetadataSize = 8

// Delimiter precedes every record (but not the file header) in a segment's
// data file. Spelled "LE" in ASCII, big-endian on the wire.
const Delimiter uint16 = 0x4C45

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32C (Castagnoli) checksum of b.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, crc32cTable)
}

// Header is the fixed-size metadata prefix of a framed record.
type Header struct {
	Checksum uint32
	Length   uint32
}

// Encode serializes h into its deterministic MetadataSize-byte form.
func (h Header) Encode() [MetadataSize]byte {
	var b [MetadataSize]byte
	binary.BigEndian.PutUint32(b[0:4], h.Checksum)
	binary.BigEndian.PutUint32(b[4:8], h.Length)
	return b
}

// DecodeHeader parses a MetadataSize-byte buffer into a Header.
func DecodeHeader(b []byte) Header {
	return Header{
		Checksum: binary.BigEndian.Uint32(b[0:4]),
		Length:   binary.BigEndian.Uint32(b[4:8]),
	}
}

// ErrShortRead is returned when a scan ends mid-frame: an EOF before the
// delimiter, before the metadata prefix, or before the full body arrived.
// Per the framing contract this is not corruption — it is how a reader
// recognizes "no more well-formed records here", whether because the
// segment genuinely ends or because the tail was torn by a crash.
var ErrShortRead = io.ErrUnexpectedEOF

// ErrChecksumMismatch is returned when a decoded body's CRC32C does not
// match the checksum recorded in its Header.
var ErrChecksumMismatch = errChecksumMismatch{}

type errChecksumMismatch struct{}

func (errChecksumMismatch) Error() string { return "frame: checksum mismatch" }

// WriteBare writes a Header+body pair with no leading delimiter. Used for
// the single file-header record at the start of every segment.
func WriteBare(w io.Writer, body []byte) (int, error) {
	h := Header{Checksum: Checksum(body), Length: uint32(len(body))}
	enc := h.Encode()
	n, err := w.Write(enc[:])
	if err != nil {
		return n, err
	}
	m, err := w.Write(body)
	return n + m, err
}

// ReadBare reads a Header+body pair with no leading delimiter and, if
// verify is true, validates the checksum.
func ReadBare(r io.Reader, verify bool) ([]byte, error) {
	var hb [MetadataSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return nil, ErrShortRead
	}
	h := DecodeHeader(hb[:])
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, ErrShortRead
	}
	if verify && Checksum(body) != h.Checksum {
		return nil, ErrChecksumMismatch
	}
	return body, nil
}

// WriteRecord writes a delimiter-prefixed Header+body record, the form
// every record but the file header takes in a segment's data file.
func WriteRecord(w io.Writer, body []byte) (int, error) {
	var db [2]byte
	binary.BigEndian.PutUint16(db[:], Delimiter)
	n, err := w.Write(db[:])
	if err != nil {
		return n, err
	}
	m, err := WriteBare(w, body)
	return n + m, err
}

// ReadRecord reads one delimiter-prefixed record from r.
//
// A short read before or inside the delimiter, or a delimiter that does
// not match, is reported as ErrShortRead: the scan treats the stream as
// ending here, exactly as it would at a genuine EOF. This is what lets a
// linear segment scan stop cleanly at a torn tail without misreporting
// the previous, well-formed record as corrupt.
func ReadRecord(r io.Reader, verify bool) ([]byte, error) {
	var db [2]byte
	if _, err := io.ReadFull(r, db[:]); err != nil {
		return nil, ErrShortRead
	}
	if binary.BigEndian.Uint16(db[:]) != Delimiter {
		return nil, ErrShortRead
	}
	return ReadBare(r, verify)
}
