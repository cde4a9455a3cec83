// Package segfile names and discovers the three files that make up one
// segment: the data file, the committed-trim file, and the pending-trim
// file.
package segfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	dataSuffix    = ".log"
	trimmedSuffix = ".log.trimmed"
	pendingSuffix = ".log.pending"
)

// base returns the segment's file-name stem, without extension: either
// "<segment>" for the global namespace or "<stream>-<segment>" for a
// stream-scoped one.
func base(stream *uuid.UUID, segment uint64) string {
	if stream == nil {
		return strconv.FormatUint(segment, 10)
	}
	return fmt.Sprintf("%s-%d", stream.String(), segment)
}

// DataPath returns the path of a segment's data file under dir.
func DataPath(dir string, stream *uuid.UUID, segment uint64) string {
	return filepath.Join(dir, base(stream, segment)+dataSuffix)
}

// TrimmedPath returns the path of a segment's committed-trim file.
func TrimmedPath(dir string, stream *uuid.UUID, segment uint64) string {
	return filepath.Join(dir, base(stream, segment)+trimmedSuffix)
}

// PendingPath returns the path of a segment's pending-trim file.
func PendingPath(dir string, stream *uuid.UUID, segment uint64) string {
	return filepath.Join(dir, base(stream, segment)+pendingSuffix)
}

// Parsed is the decomposition of a data-file base name.
type Parsed struct {
	Stream  *uuid.UUID
	Segment uint64
}

// Parse recovers (stream, segment) from a data file's base name (the file
// name without the ".log" suffix, and without any of the trim suffixes).
func Parse(stem string) (Parsed, error) {
	if idx := strings.LastIndexByte(stem, '-'); idx >= 0 {
		if id, err := uuid.Parse(stem[:idx]); err == nil {
			seg, err := strconv.ParseUint(stem[idx+1:], 10, 64)
			if err != nil {
				return Parsed{}, fmt.Errorf("segfile: bad segment number in %q: %w", stem, err)
			}
			return Parsed{Stream: &id, Segment: seg}, nil
		}
	}
	seg, err := strconv.ParseUint(stem, 10, 64)
	if err != nil {
		return Parsed{}, fmt.Errorf("segfile: bad segment name %q: %w", stem, err)
	}
	return Parsed{Segment: seg}, nil
}

// Discover walks dir (non-recursively into segment files, but the
// directory itself may be scanned recursively per spec.md §4.3 / §6) for
// "*.log" data files and returns their parsed (stream, segment) pairs,
// sorted by segment number.
func Discover(dir string) ([]Parsed, error) {
	var found []Parsed
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, dataSuffix) {
			return nil
		}
		stem := strings.TrimSuffix(name, dataSuffix)
		p, perr := Parse(stem)
		if perr != nil {
			return perr
		}
		found = append(found, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Segment < found[j].Segment })
	return found, nil
}
