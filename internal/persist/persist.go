// Package persist implements spec §4.8's configuration persistence: a
// background poll/holdoff/backoff writer that snapshots changed CONFIG,
// ATTR and TABLE entities to disk, plus the startup replay of that file
// back through the command-processing entry point.
package persist

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/panda-fpga/pandad/internal/cmdserver"
	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/logx"
)

var log = logx.For("persist")

// persistedGroups are the change groups spec §4.8 names as triggering a
// write; BITS, POSITION, READ and METADATA are excluded (volatile or, for
// METADATA, covered separately by the *METADATA.* store itself).
var persistedGroups = []entity.ChangeGroup{entity.GroupConfig, entity.GroupAttr, entity.GroupTable}

// Intervals bundles the three durations spec §4.8 names.
type Intervals struct {
	Poll    time.Duration
	Holdoff time.Duration
	Backoff time.Duration
}

// DefaultIntervals matches the teacher's ticker granularities used
// elsewhere for periodic background work (display/render loops), scaled up
// to something sane for a disk-writing thread rather than a 60Hz refresh.
var DefaultIntervals = Intervals{
	Poll:    2 * time.Second,
	Holdoff: 200 * time.Millisecond,
	Backoff: time.Second,
}

// Writer is the background persistence thread. One per process.
type Writer struct {
	Path      string
	Entity    *entity.Entity
	Intervals Intervals

	mu         sync.Mutex
	watermarks map[entity.ChangeGroup]uint64

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Writer targeting path; ent is the live entity model polled
// for changes.
func New(path string, ent *entity.Entity, intervals Intervals) *Writer {
	return &Writer{
		Path:       path,
		Entity:     ent,
		Intervals:  intervals,
		watermarks: make(map[entity.ChangeGroup]uint64, len(persistedGroups)),
	}
}

// Replay reads path line by line and dispatches each record through
// cmdserver.DispatchEntity, exactly as spec §4.8 requires: "replayed
// line-by-line through the command-processing entry point". Table records
// span multiple lines and are consumed directly off the same scanner, so
// the blank-line terminator convention matches what persistence wrote.
// A missing file is not an error (first run, nothing persisted yet).
func Replay(ent *entity.Entity, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	n := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		resp := cmdserver.DispatchEntity(ent, line, scanner)
		n++
		if strings.HasPrefix(resp, "ERR") {
			log.Warn("replay record rejected", "line", line, "resp", strings.TrimSpace(resp))
		}
	}
	return n, scanner.Err()
}

// Start launches the poll/holdoff/backoff loop in a background goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(loopCtx)
}

// Stop cancels the background loop, waits for it to exit, then forces one
// final write regardless of whether anything changed since the last one
// (spec §4.8: "on shutdown a final write is forced").
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done

	if err := w.writeSnapshot(); err != nil {
		log.Error("final persistence write", "err", err)
	}
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.Intervals.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.hasChanges() {
				continue
			}
			select {
			case <-time.After(w.Intervals.Holdoff):
			case <-ctx.Done():
				return
			}
			if err := w.writeSnapshot(); err != nil {
				log.Error("persistence write", "err", err)
				continue
			}
			select {
			case <-time.After(w.Intervals.Backoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Writer) hasChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, g := range persistedGroups {
		entries, _ := w.Entity.ChangesSince(g, w.watermarks[g])
		if len(entries) > 0 {
			return true
		}
	}
	return false
}

// writeSnapshot rewrites Path from scratch, so every write must enumerate
// every entity ever changed in each persisted group — not just those
// touched since the previous write — or a value set once and left alone
// would silently drop out of the file the next time something else
// changes. Each group is therefore queried from baseline 0, independent of
// w.watermarks (which hasChanges alone uses, to decide whether a write is
// due at all; the two watermark uses are intentionally not the same
// baseline). The record is rendered as "name=value" or "name<\n...\n\n"
// and Path is atomically replaced via a .backup rename.
func (w *Writer) writeSnapshot() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var sb strings.Builder
	wrote := 0
	for _, g := range persistedGroups {
		entries, cur := w.Entity.ChangesSince(g, 0)
		for _, e := range entries {
			if e.IsMulti {
				lines, err := w.tableLines(e.Name)
				if err != nil {
					log.Warn("persist table read", "name", e.Name, "err", err)
					continue
				}
				sb.WriteString(e.Name)
				sb.WriteString("<\n")
				for _, l := range lines {
					sb.WriteString(l)
					sb.WriteByte('\n')
				}
				sb.WriteByte('\n')
			} else {
				sb.WriteString(e.Name)
				sb.WriteByte('=')
				sb.WriteString(e.Value)
				sb.WriteByte('\n')
			}
			wrote++
		}
		w.watermarks[g] = cur
	}
	if wrote == 0 {
		return nil
	}

	backup := w.Path + ".backup"
	if err := os.WriteFile(backup, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(backup, w.Path)
}

func (w *Writer) tableLines(name string) ([]string, error) {
	res, err := w.Entity.Resolve(name)
	if err != nil {
		return nil, err
	}
	if res.Attribute.GetMany == nil {
		return nil, nil
	}
	return res.Attribute.GetMany(res.Instance)
}
