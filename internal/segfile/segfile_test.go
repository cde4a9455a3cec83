package segfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPathsGlobalNamespace(t *testing.T) {
	dir := "/data"
	require.Equal(t, filepath.Join(dir, "5.log"), DataPath(dir, nil, 5))
	require.Equal(t, filepath.Join(dir, "5.log.trimmed"), TrimmedPath(dir, nil, 5))
	require.Equal(t, filepath.Join(dir, "5.log.pending"), PendingPath(dir, nil, 5))
}

func TestPathsStreamScoped(t *testing.T) {
	id := uuid.New()
	dir := "/data"
	require.Equal(t, filepath.Join(dir, id.String()+"-5.log"), DataPath(dir, &id, 5))
}

func TestParseRoundTrip(t *testing.T) {
	p, err := Parse("12")
	require.NoError(t, err)
	require.Nil(t, p.Stream)
	require.Equal(t, uint64(12), p.Segment)

	id := uuid.New()
	stem := id.String() + "-7"
	p2, err := Parse(stem)
	require.NoError(t, err)
	require.NotNil(t, p2.Stream)
	require.Equal(t, id, *p2.Stream)
	require.Equal(t, uint64(7), p2.Segment)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-number")
	require.Error(t, err)
}

func TestDiscoverSortsBySegment(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"3.log", "1.log", "2.log", "1.log.trimmed", "1.log.pending"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	found, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, found, 3)
	require.Equal(t, uint64(1), found[0].Segment)
	require.Equal(t, uint64(2), found[1].Segment)
	require.Equal(t, uint64(3), found[2].Segment)
}

func TestDiscoverStreamScoped(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String()+"-0.log"), nil, 0644))

	found, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.NotNil(t, found[0].Stream)
	require.Equal(t, id, *found[0].Stream)
}
