// Package ledger remembers the modification time each input file had when it was last read.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/openmined/filemover/internal/storage"
)

// Ledger maps an input file key to the mtime observed at its last successful read.
// It is owned by a single transfer engine and is not safe for concurrent use.
type Ledger struct {
	seen map[string]time.Time
}

func New() *Ledger {
	return &Ledger{seen: make(map[string]time.Time)}
}

// ShouldProcess reports whether key is unknown or was last read with a different mtime.
func (l *Ledger) ShouldProcess(key string, mtime time.Time) bool {
	prev, ok := l.seen[key]
	return !ok || !prev.Equal(mtime)
}

// Record upserts the mtime for key.
func (l *Ledger) Record(key string, mtime time.Time) {
	l.seen[key] = mtime
}

func (l *Ledger) Len() int {
	return len(l.seen)
}

// Prime marks every file currently in dir as already seen and returns how many were recorded.
// Entries that cannot be stat'ed are left out and will be picked up by the first cycle.
func (l *Ledger) Prime(ctx context.Context, b storage.Backend, dir string) (int, error) {
	names, err := b.List(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("prime ledger: %w", err)
	}

	n := 0
	for _, name := range names {
		key := storage.Join(dir, name)
		if ok, err := b.IsFile(ctx, key); err != nil || !ok {
			continue
		}
		mtime, err := b.ModTime(ctx, key)
		if err != nil {
			continue
		}
		l.Record(key, mtime)
		n++
	}
	return n, nil
}
