package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is what a snapshot remembers about one directory entry.
type Entry struct {
	ModTime time.Time
	Size    int64
}

// Snapshot maps entry names in a directory to their state at one moment.
// A missing directory yields an empty snapshot.
type Snapshot map[string]Entry

func TakeSnapshot(dir string) Snapshot {
	snap := Snapshot{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return snap
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap[e.Name()] = Entry{ModTime: info.ModTime(), Size: info.Size()}
	}
	return snap
}

func (s Snapshot) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Ledger records files a run created so cleanup never touches anything else.
type Ledger struct {
	mu    sync.Mutex
	paths []string
	seen  map[string]bool
}

func NewLedger() *Ledger {
	return &Ledger{seen: map[string]bool{}}
}

func (l *Ledger) Record(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[path] {
		return
	}
	l.seen[path] = true
	l.paths = append(l.paths, path)
}

// RecordChanged records every entry of dir that is absent from before or
// whose size or modification time differs from it. A file rewritten under a
// reused name belongs to the run that rewrote it.
func (l *Ledger) RecordChanged(dir string, before Snapshot) []string {
	var added []string
	for name, now := range TakeSnapshot(dir) {
		old, ok := before[name]
		if !ok || old.Size != now.Size || !old.ModTime.Equal(now.ModTime) {
			added = append(added, filepath.Join(dir, name))
		}
	}
	sort.Strings(added)
	for _, p := range added {
		l.Record(p)
	}
	return added
}

func (l *Ledger) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// Cleanup removes every recorded path. Failures are collected and returned;
// paths that are already gone are not failures.
func (l *Ledger) Cleanup() []error {
	l.mu.Lock()
	paths := l.paths
	l.paths = nil
	l.seen = map[string]bool{}
	l.mu.Unlock()

	var errs []error
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", paths[i], err))
		}
	}
	return errs
}
