// Command logctl is a small operator shell over a logfabric segment
// directory. It is not a wire-protocol server: it has no listener and no
// client/server split, the same way a database's bundled shell talks
// directly to its storage engine rather than over the network.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-storage/logfabric/engine"
	"github.com/nexus-storage/logfabric/internal/address"
	"github.com/nexus-storage/logfabric/internal/record"
	"github.com/nexus-storage/logfabric/internal/segfile"
	"github.com/nexus-storage/logfabric/logerr"
)

func main() {
	dir := flag.String("dir", "", "log directory")
	noVerify := flag.Bool("no-verify", false, "disable checksum verification")
	batch := flag.String("cmd", "", "run a single command non-interactively and exit")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "logctl: -dir is required")
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logctl: logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	e, err := engine.Open(engine.DefaultOptions(),
		engine.WithDir(*dir),
		engine.WithNoVerify(*noVerify),
		engine.WithLogger(logger.Sugar()),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logctl: open:", err)
		os.Exit(1)
	}
	defer e.Close()

	if *batch != "" {
		if err := dispatch(e, *dir, *batch); err != nil {
			fmt.Fprintln(os.Stderr, "logctl:", err)
			os.Exit(1)
		}
		return
	}

	runREPL(e, *dir)
}

func runREPL(e *engine.Engine, dir string) {
	rl, err := readline.New("logctl> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logctl: readline init:", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				return
			}
			fmt.Fprintln(os.Stderr, "logctl:", err)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := dispatch(e, dir, line); err != nil {
			fmt.Fprintln(os.Stderr, "logctl:", err)
		}
	}
}

func dispatch(e *engine.Engine, dir string, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "append":
		if len(fields) < 3 {
			return fmt.Errorf("usage: append <address> <payload>")
		}
		addr, err := parseAddress(fields[1])
		if err != nil {
			return err
		}
		entry := &record.LogEntry{
			DataType:      record.DataRecord,
			GlobalAddress: addr.Address,
			Payload:       []byte(strings.Join(fields[2:], " ")),
			Commit:        true,
		}
		if err := e.Append(addr, entry); err != nil {
			return err
		}
		fmt.Printf("appended %s\n", addr)
		return nil

	case "read":
		if len(fields) != 2 {
			return fmt.Errorf("usage: read <address>")
		}
		addr, err := parseAddress(fields[1])
		if err != nil {
			return err
		}
		entry, err := e.Read(addr)
		if err != nil {
			if err == logerr.ErrNotFound {
				fmt.Println("not found")
				return nil
			}
			return err
		}
		fmt.Printf("%s: %s (%s)\n", addr, string(entry.Payload), entry.DataType)
		return nil

	case "trim":
		if len(fields) != 2 {
			return fmt.Errorf("usage: trim <address>")
		}
		addr, err := parseAddress(fields[1])
		if err != nil {
			return err
		}
		if err := e.Trim(addr); err != nil {
			return err
		}
		fmt.Printf("trimmed %s\n", addr)
		return nil

	case "compact":
		if err := e.Compact(); err != nil {
			return err
		}
		fmt.Println("compaction pass complete")
		return nil

	case "sync":
		if err := e.Sync(); err != nil {
			return err
		}
		fmt.Println("synced")
		return nil

	case "verify":
		if err := e.Verify(); err != nil {
			return err
		}
		fmt.Println("all segment headers verified")
		return nil

	case "stats":
		segs, err := segfile.Discover(dir)
		if err != nil {
			return err
		}
		fmt.Printf("%d segment(s)\n", len(segs))
		for _, s := range segs {
			if s.Stream == nil {
				fmt.Printf("  segment %d\n", s.Segment)
			} else {
				fmt.Printf("  segment %d (stream %s)\n", s.Segment, s.Stream)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (try append, read, trim, compact, sync, stats, verify, quit)", fields[0])
	}
}

func parseAddress(s string) (address.LogAddress, error) {
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		// <stream-uuid>/<address>
		streamPart, addrPart := s[:idx], s[idx+1:]
		n, err := strconv.ParseUint(addrPart, 10, 64)
		if err != nil {
			return address.LogAddress{}, fmt.Errorf("bad address %q: %w", s, err)
		}
		id, err := parseUUID(streamPart)
		if err != nil {
			return address.LogAddress{}, err
		}
		return address.Tagged(id, n), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return address.LogAddress{}, fmt.Errorf("bad address %q: %w", s, err)
	}
	return address.Global(n), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("bad stream uuid %q: %w", s, err)
	}
	return id, nil
}
