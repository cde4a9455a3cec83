package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadBareRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello segment")

	n, err := WriteBare(&buf, body)
	require.NoError(t, err)
	require.Equal(t, MetadataSize+len(body), n)

	got, err := ReadBare(&buf, true)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadBareDetectsChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteBare(&buf, []byte("payload"))
	require.NoError(t, err)

	raw := buf.Bytes()
	raw[MetadataSize] ^= 0xFF // corrupt one body byte after the header

	_, err = ReadBare(bytes.NewReader(raw), true)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReadBareSkipsVerificationWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteBare(&buf, []byte("payload"))
	require.NoError(t, err)

	raw := buf.Bytes()
	raw[MetadataSize] ^= 0xFF

	got, err := ReadBare(bytes.NewReader(raw), false)
	require.NoError(t, err)
	require.Len(t, got, len("payload"))
}

func TestReadBareShortRead(t *testing.T) {
	_, err := ReadBare(bytes.NewReader([]byte{0, 1, 2}), true)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestWriteReadRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("a log entry body")

	_, err := WriteRecord(&buf, body)
	require.NoError(t, err)

	got, err := ReadRecord(&buf, true)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadRecordRejectsBadDelimiter(t *testing.T) {
	var db [2]byte
	binary.BigEndian.PutUint16(db[:], 0xFFFF)
	buf := bytes.NewBuffer(db[:])

	h := Header{Checksum: Checksum([]byte("x")), Length: 1}
	enc := h.Encode()
	buf.Write(enc[:])
	buf.WriteByte('x')

	_, err := ReadRecord(buf, true)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestReadRecordStopsCleanlyAtTornTail(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteRecord(&buf, []byte("complete record"))
	require.NoError(t, err)

	// Simulate a crash mid-write of a second record: delimiter plus a
	// partial header only.
	var db [2]byte
	binary.BigEndian.PutUint16(db[:], Delimiter)
	buf.Write(db[:])
	buf.Write([]byte{0, 1})

	first, err := ReadRecord(&buf, true)
	require.NoError(t, err)
	require.Equal(t, []byte("complete record"), first)

	_, err = ReadRecord(&buf, true)
	require.True(t, errors.Is(err, ErrShortRead))
}

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum([]byte("repeatable"))
	b := Checksum([]byte("repeatable"))
	require.Equal(t, a, b)
}
