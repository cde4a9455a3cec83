// Package engine composes the frame codec, segment handle, and segment
// manager into the public storage API: append, read, trim, compact, sync,
// and close. This is the boundary spec.md calls out as the contract the
// sequencer, wire-protocol front end, and transaction engine build on.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-storage/logfabric/internal/address"
	"github.com/nexus-storage/logfabric/internal/frame"
	"github.com/nexus-storage/logfabric/internal/manager"
	"github.com/nexus-storage/logfabric/internal/record"
	"github.com/nexus-storage/logfabric/internal/segfile"
	"github.com/nexus-storage/logfabric/internal/segment"
	"github.com/nexus-storage/logfabric/logerr"
)

// ErrClosed is returned by any operation invoked after Close, except the
// no-op Release.
var ErrClosed = errors.New("engine: closed")

// Engine is the public entry point to the storage fabric described by
// spec.md §4.4. All operations are synchronous and safe for concurrent
// use by multiple goroutines.
type Engine struct {
	opts Options
	log  *zap.SugaredLogger
	mgr  *manager.Manager

	dirtyMu sync.Mutex
	dirty   map[string]*segment.Handle

	closed atomic.Bool
}

// Open validates opts, creates Dir if absent, verifies every existing
// segment's file header (spec.md §4.3 "Startup verification"), and
// returns a ready Engine. Any functional options are applied to opts
// before validation, so a caller can start from DefaultOptions() and
// layer WithDir/WithNoVerify/etc. on top rather than filling out every
// field by hand.
func Open(opts Options, optFuncs ...Option) (*Engine, error) {
	for _, f := range optFuncs {
		f(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, logerr.NewIO(err, "create log directory")
	}

	e := &Engine{
		opts:  opts,
		log:   opts.Logger,
		dirty: make(map[string]*segment.Handle),
		mgr: manager.New(manager.Config{
			Dir:               opts.Dir,
			RecordsPerSegment: opts.RecordsPerSegment,
			Version:           opts.Version,
			NoVerify:          opts.NoVerify,
			Logger:            opts.Logger,
		}),
	}

	if err := e.verifyLogs(context.Background()); err != nil {
		return nil, err
	}

	return e, nil
}

// Verify re-runs the same segment-header check Open performs at startup,
// on demand. It is what the admin CLI's "verify" command calls.
func (e *Engine) Verify() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.verifyLogs(context.Background())
}

// verifyLogs enumerates every *.log file under opts.Dir and checks its
// file header's version and checksum, refusing to start on mismatch.
// Segments are verified concurrently since each check is an independent
// file read.
func (e *Engine) verifyLogs(ctx context.Context) error {
	segments, err := segfile.Discover(e.opts.Dir)
	if err != nil {
		return logerr.NewIO(err, "discover segment files")
	}

	g, _ := errgroup.WithContext(ctx)
	for _, s := range segments {
		s := s
		g.Go(func() error {
			path := segfile.DataPath(e.opts.Dir, s.Stream, s.Segment)
			return e.verifyHeaderFile(path)
		})
	}
	return g.Wait()
}

func (e *Engine) verifyHeaderFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return logerr.NewIO(err, "open segment for startup verification")
	}
	defer f.Close()

	body, err := frame.ReadBare(f, !e.opts.NoVerify)
	if err != nil {
		e.log.Errorw("segment header failed verification", "path", path, "error", err)
		return logerr.NewCorruption(err, "segment file header: "+path)
	}
	hdr, err := record.UnmarshalFileHeader(body)
	if err != nil {
		e.log.Errorw("segment header undecodable", "path", path, "error", err)
		return logerr.NewCorruption(err, "segment file header: "+path)
	}
	if hdr.Version != e.opts.Version {
		e.log.Errorw("segment version mismatch", "path", path, "want", e.opts.Version, "got", hdr.Version)
		return logerr.NewVersionMismatch(path, e.opts.Version, hdr.Version)
	}
	if !e.opts.NoVerify && !hdr.VerifyChecksum {
		e.log.Errorw("segment was written with verification disabled", "path", path)
		return logerr.NewVersionMismatch(path, e.opts.Version, hdr.Version)
	}
	return nil
}

func (e *Engine) checkAddress(addr address.LogAddress) error {
	_, tagged := addr.Tag()
	if tagged != e.opts.StreamScoped {
		if e.opts.StreamScoped {
			return fmt.Errorf("engine: stream-scoped engine requires a tagged address, got %s", addr)
		}
		return fmt.Errorf("engine: global engine requires an untagged address, got %s", addr)
	}
	return nil
}

// Append writes entry at addr. entry.GlobalAddress must already equal
// addr.Address — that is the caller's responsibility, not this engine's.
// Returns an *logerr.OverwriteError if addr is already known or trimmed.
func (e *Engine) Append(addr address.LogAddress, entry *record.LogEntry) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.checkAddress(addr); err != nil {
		return err
	}

	h, err := e.mgr.GetOrOpen(addr)
	if err != nil {
		return err
	}

	h.DataMu.Lock()
	defer h.DataMu.Unlock()

	if h.Known.Contains(addr.Address) || h.Trimmed.Contains(addr.Address) {
		return logerr.NewOverwrite(addr.String())
	}

	body := entry.Marshal()
	var buf bytes.Buffer
	if _, err := frame.WriteRecord(&buf, body); err != nil {
		return logerr.NewIO(err, "frame log entry")
	}
	if err := h.AppendData(buf.Bytes()); err != nil {
		return err
	}

	h.Known.Add(addr.Address)
	e.markDirty(h)
	return nil
}

// Read returns the record stored at addr, or logerr.ErrNotFound if no
// record at that address exists in its segment.
func (e *Engine) Read(addr address.LogAddress) (*record.LogEntry, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := e.checkAddress(addr); err != nil {
		return nil, err
	}

	h, err := e.mgr.GetOrOpen(addr)
	if err != nil {
		return nil, err
	}

	size := h.SizeData()

	r, err := h.OpenDataReader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Skip the file header; note its framed length so we know how many
	// bytes of the snapshot remain to scan.
	headerBody, err := frame.ReadBare(r, false)
	if err != nil {
		return nil, logerr.NewCorruption(err, "segment file header")
	}
	pos := uint64(frame.MetadataSize + len(headerBody))

	for pos < size {
		body, ferr := frame.ReadRecord(r, !e.opts.NoVerify)
		if ferr != nil {
			if errors.Is(ferr, frame.ErrShortRead) {
				// Torn tail or scan-ending short read: treat as if the
				// segment ended here, not as corruption.
				break
			}
			e.log.Errorw("corruption while reading segment", "path", h.DataPath, "error", ferr)
			return nil, logerr.NewCorruption(ferr, "segment record body")
		}

		entry, derr := record.UnmarshalLogEntry(body)
		if derr != nil {
			e.log.Errorw("corruption decoding log entry", "path", h.DataPath, "error", derr)
			return nil, logerr.NewCorruption(derr, "log entry decode")
		}

		pos += uint64(2 + frame.MetadataSize + len(body))
		if entry.GlobalAddress == addr.Address {
			return entry, nil
		}
	}

	return nil, logerr.ErrNotFound
}

// Trim records an intent to remove addr's record at the next compaction.
// It is idempotent and best-effort: an I/O failure here is logged and
// swallowed rather than surfaced, since the record remains valid, merely
// un-garbage-collected (spec.md §7).
func (e *Engine) Trim(addr address.LogAddress) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.checkAddress(addr); err != nil {
		return err
	}

	h, err := e.mgr.GetOrOpen(addr)
	if err != nil {
		return err
	}

	if h.Pending.Contains(addr.Address) || h.Trimmed.Contains(addr.Address) {
		return nil
	}

	entry := record.TrimEntry{Address: int64(addr.Address), Checksum: addressChecksum(addr.Address)}
	if err := h.AppendPending(entry); err != nil {
		e.log.Warnw("trim write failed, treating as best-effort", "address", addr.String(), "error", err)
		return nil
	}
	if err := h.SyncAll(); err != nil {
		// Flush-then-insert (spec.md §9.3's recommended resolution): the
		// in-memory set only sees the trim once it is durable.
		e.log.Warnw("trim sync failed, treating as best-effort", "address", addr.String(), "error", err)
		return nil
	}

	h.Pending.Add(addr.Address)
	return nil
}

// Sync force-flushes every segment channel written to since the last
// Sync and clears the dirty set.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.dirtyMu.Lock()
	batch := e.dirty
	e.dirty = make(map[string]*segment.Handle)
	e.dirtyMu.Unlock()

	for _, h := range batch {
		if err := h.SyncAll(); err != nil {
			return err
		}
	}
	return nil
}

// Close force-flushes and closes every open segment handle.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return e.mgr.Close()
}

// Release is a reserved no-op hook: spec.md §9.2 notes the original
// interface carries a release(log_address, log_data) method whose intent
// (cache eviction notification? reference counting?) is unspecified. It
// exists here purely so a caching layer built above this engine has a
// stable call site to hook into later; this engine does not interpret it.
func (e *Engine) Release(addr address.LogAddress, entry *record.LogEntry) error {
	_ = addr
	_ = entry
	return nil
}

func (e *Engine) markDirty(h *segment.Handle) {
	e.dirtyMu.Lock()
	e.dirty[h.DataPath] = h
	e.dirtyMu.Unlock()
}

func addressChecksum(addr uint64) uint32 {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(addr >> (8 * i))
	}
	return frame.Checksum(b[:])
}
