// Package segment implements the handle that owns one segment's three file
// channels (data, committed-trim, pending-trim) together with the
// in-memory known/trimmed/pending address sets the log engine consults on
// every append, read, and trim.
package segment

import (
	"bufio"
	"os"
	"sync"

	"github.com/nexus-storage/logfabric/internal/frame"
	"github.com/nexus-storage/logfabric/internal/record"
	"github.com/nexus-storage/logfabric/logerr"
)

// addressSet is a concurrency-safe set of addresses. Individual inserts
// and membership checks are atomic; callers that need a compound
// check-then-insert (e.g. append's duplicate detection) must coordinate
// externally — see Handle.DataMu.
type addressSet struct {
	mu sync.RWMutex
	m  map[uint64]struct{}
}

func newAddressSet() *addressSet {
	return &addressSet{m: make(map[uint64]struct{})}
}

// Add idempotently inserts addr.
func (s *addressSet) Add(addr uint64) {
	s.mu.Lock()
	s.m[addr] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether addr has been inserted.
func (s *addressSet) Contains(addr uint64) bool {
	s.mu.RLock()
	_, ok := s.m[addr]
	s.mu.RUnlock()
	return ok
}

// Len reports the number of distinct addresses in the set.
func (s *addressSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Snapshot returns a copy of the set's contents.
func (s *addressSet) Snapshot() map[uint64]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]struct{}, len(s.m))
	for k := range s.m {
		out[k] = struct{}{}
	}
	return out
}

// Handle owns one segment's three file channels and its in-memory address
// sets. DataMu guards size_data() observation and serializes data-file
// writes; it does not protect the in-memory sets directly, which are
// individually concurrency-safe, but the append duplicate-check-then-
// insert sequence that the log engine performs is only correct if the
// caller holds DataMu across both steps.
type Handle struct {
	DataPath    string
	TrimmedPath string
	PendingPath string

	DataMu sync.Mutex
	data   *os.File
	dataSz uint64

	trimMu  sync.Mutex
	trimmed *os.File
	trimSz  uint64
	pending *os.File
	pendSz  uint64

	Known   *addressSet
	Trimmed *addressSet
	Pending *addressSet
}

// New wraps three already-open file handles into a segment Handle. It does
// not scan or populate the in-memory sets — that is the segment manager's
// job, since it requires segment-manager-wide context (e.g. the opening
// mode for a brand-new vs. pre-existing segment).
func New(data, trimmed, pending *os.File) (*Handle, error) {
	dataFi, err := data.Stat()
	if err != nil {
		return nil, logerr.NewIO(err, "stat data file")
	}
	trimFi, err := trimmed.Stat()
	if err != nil {
		return nil, logerr.NewIO(err, "stat trimmed file")
	}
	pendFi, err := pending.Stat()
	if err != nil {
		return nil, logerr.NewIO(err, "stat pending file")
	}

	return &Handle{
		DataPath:    data.Name(),
		TrimmedPath: trimmed.Name(),
		PendingPath: pending.Name(),
		data:        data,
		trimmed:     trimmed,
		pending:     pending,
		dataSz:      uint64(dataFi.Size()),
		trimSz:      uint64(trimFi.Size()),
		pendSz:      uint64(pendFi.Size()),
		Known:       newAddressSet(),
		Trimmed:     newAddressSet(),
		Pending:     newAddressSet(),
	}, nil
}

// AppendData writes an already-framed record to the data file and
// advances the cached size. The caller must hold DataMu, so that the
// duplicate check, this write, and the Known insert form one step.
// Callers are responsible for framing (frame.WriteRecord) before calling
// this.
func (h *Handle) AppendData(framed []byte) error {
	n, err := h.data.Write(framed)
	h.dataSz += uint64(n)
	if err != nil {
		return logerr.NewIO(err, "append data segment")
	}
	return nil
}

// WriteBareHeader writes the segment's file header. Must be called before
// any AppendData call, and only once, by the segment manager when a
// segment is newly created.
func (h *Handle) WriteBareHeader(body []byte) error {
	h.DataMu.Lock()
	defer h.DataMu.Unlock()
	n, err := frame.WriteBare(h.data, body)
	h.dataSz += uint64(n)
	if err != nil {
		return logerr.NewIO(err, "write segment file header")
	}
	return nil
}

// AppendPending appends a trim marker to the .pending file.
func (h *Handle) AppendPending(entry record.TrimEntry) error {
	return h.appendTrim(h.pending, &h.pendSz, entry)
}

// AppendTrimmed appends a trim marker to the .trimmed file.
func (h *Handle) AppendTrimmed(entry record.TrimEntry) error {
	return h.appendTrim(h.trimmed, &h.trimSz, entry)
}

func (h *Handle) appendTrim(f *os.File, sz *uint64, entry record.TrimEntry) error {
	h.trimMu.Lock()
	defer h.trimMu.Unlock()
	b := entry.MarshalDelimited()
	n, err := f.Write(b)
	*sz += uint64(n)
	if err != nil {
		return logerr.NewIO(err, "append trim entry")
	}
	return nil
}

// SizeData returns the data file's size as of the last completed write,
// taken under DataMu so it only reflects fully-written records.
func (h *Handle) SizeData() uint64 {
	h.DataMu.Lock()
	defer h.DataMu.Unlock()
	return h.dataSz
}

// SizeTrimmed returns the committed-trim file's size.
func (h *Handle) SizeTrimmed() uint64 {
	h.trimMu.Lock()
	defer h.trimMu.Unlock()
	return h.trimSz
}

// SizePending returns the pending-trim file's size.
func (h *Handle) SizePending() uint64 {
	h.trimMu.Lock()
	defer h.trimMu.Unlock()
	return h.pendSz
}

// SyncAll force-flushes all three channels to stable storage.
func (h *Handle) SyncAll() error {
	h.DataMu.Lock()
	err := h.data.Sync()
	h.DataMu.Unlock()
	if err != nil {
		return logerr.NewIO(err, "sync data segment")
	}

	h.trimMu.Lock()
	defer h.trimMu.Unlock()
	if err := h.pending.Sync(); err != nil {
		return logerr.NewIO(err, "sync pending trim file")
	}
	if err := h.trimmed.Sync(); err != nil {
		return logerr.NewIO(err, "sync trimmed file")
	}
	return nil
}

// Close force-flushes and closes all three channels and clears the
// in-memory sets. The handle must not be used again afterward.
func (h *Handle) Close() error {
	if err := h.SyncAll(); err != nil {
		return err
	}

	h.DataMu.Lock()
	dataErr := h.data.Close()
	h.DataMu.Unlock()

	h.trimMu.Lock()
	pendErr := h.pending.Close()
	trimErr := h.trimmed.Close()
	h.trimMu.Unlock()

	h.Known = newAddressSet()
	h.Trimmed = newAddressSet()
	h.Pending = newAddressSet()

	if dataErr != nil {
		return logerr.NewIO(dataErr, "close data segment")
	}
	if pendErr != nil {
		return logerr.NewIO(pendErr, "close pending trim file")
	}
	if trimErr != nil {
		return logerr.NewIO(trimErr, "close trimmed file")
	}
	return nil
}

// OpenDataReader opens a fresh, independent read handle on the segment's
// data file. Readers never seek on the writer's channel.
func (h *Handle) OpenDataReader() (*os.File, error) {
	f, err := os.Open(h.DataPath)
	if err != nil {
		return nil, logerr.NewIO(err, "open data file for read")
	}
	return f, nil
}

// ScanTrimFile replays a .pending or .trimmed file from the beginning,
// invoking fn for every entry. Used by the segment manager at open time.
func ScanTrimFile(f *os.File, fn func(record.TrimEntry) error) error {
	if _, err := f.Seek(0, 0); err != nil {
		return logerr.NewIO(err, "seek trim file")
	}
	br := bufio.NewReader(f)
	for {
		entry, err := record.ReadTrimEntry(br)
		if err != nil {
			break
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}
