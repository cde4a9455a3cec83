package manager

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nexus-storage/logfabric/internal/address"
	"github.com/nexus-storage/logfabric/internal/record"
)

func pendingEntry() record.TrimEntry {
	return record.TrimEntry{Checksum: 1, Address: 77}
}

func newUUID() uuid.UUID {
	return uuid.New()
}

func newTestManager(t *testing.T, recordsPerSegment uint64) *Manager {
	t.Helper()
	return New(Config{
		Dir:               t.TempDir(),
		RecordsPerSegment: recordsPerSegment,
		Version:           1,
	})
}

func TestGetOrOpenCreatesNewSegment(t *testing.T) {
	m := newTestManager(t, 100)
	h, err := m.GetOrOpen(address.Global(5))
	require.NoError(t, err)
	require.Equal(t, 0, h.Known.Len())
}

func TestGetOrOpenCachesHandle(t *testing.T) {
	m := newTestManager(t, 100)
	h1, err := m.GetOrOpen(address.Global(5))
	require.NoError(t, err)
	h2, err := m.GetOrOpen(address.Global(42))
	require.NoError(t, err)
	require.Same(t, h1, h2) // both fall in segment 0
}

func TestGetOrOpenSeparatesSegments(t *testing.T) {
	m := newTestManager(t, 10)
	h1, err := m.GetOrOpen(address.Global(5))
	require.NoError(t, err)
	h2, err := m.GetOrOpen(address.Global(15))
	require.NoError(t, err)
	require.NotSame(t, h1, h2)
}

func TestReopenVerifiesHeaderAndRescans(t *testing.T) {
	dir := t.TempDir()
	m1 := New(Config{Dir: dir, RecordsPerSegment: 100, Version: 1})
	h1, err := m1.GetOrOpen(address.Global(1))
	require.NoError(t, err)
	require.NoError(t, h1.AppendPending(pendingEntry()))
	require.NoError(t, h1.SyncAll())
	h1.Pending.Add(77)
	require.NoError(t, m1.Close())

	m2 := New(Config{Dir: dir, RecordsPerSegment: 100, Version: 1})
	h2, err := m2.GetOrOpen(address.Global(1))
	require.NoError(t, err)
	require.Equal(t, 1, h2.Pending.Len())
	require.True(t, h2.Pending.Contains(77))
}

func TestReopenRejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	m1 := New(Config{Dir: dir, RecordsPerSegment: 100, Version: 1})
	_, err := m1.GetOrOpen(address.Global(1))
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2 := New(Config{Dir: dir, RecordsPerSegment: 100, Version: 2})
	_, err = m2.GetOrOpen(address.Global(1))
	require.Error(t, err)
}

func TestStreamScopedSegmentsAreIndependent(t *testing.T) {
	m := newTestManager(t, 100)
	a := address.Tagged(newUUID(), 1)
	b := address.Tagged(newUUID(), 1)
	ha, err := m.GetOrOpen(a)
	require.NoError(t, err)
	hb, err := m.GetOrOpen(b)
	require.NoError(t, err)
	require.NotSame(t, ha, hb)
}
