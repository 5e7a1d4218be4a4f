// Package mover implements the polling transfer engine: it reads new files from an input
// location, decompresses them, delivers them to an output location and keeps timestamped
// copies in an optional archive.
package mover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/filemover/internal/ledger"
	"github.com/openmined/filemover/internal/storage"
)

var (
	ErrNotDirectory = errors.New("not a valid directory")
)

// Location is a directory on a backend.
type Location struct {
	Backend storage.Backend
	Dir     string
}

type Options struct {
	Input  Location
	Output Location
	// Archive is nil when archiving is disabled.
	Archive *Location
	// ArchiveMaxAge is the retention limit for archive entries; zero keeps them forever.
	ArchiveMaxAge time.Duration
	// ClearInput removes input files once they have been read.
	ClearInput bool
	// Ignore holds glob patterns for input names that are never transferred.
	Ignore []string
	// EchoPayloads logs the contents of every delivered file.
	EchoPayloads bool
}

// Engine carries all state shared by the periodic tasks.
// It is driven by a single scheduler and is not safe for concurrent use.
type Engine struct {
	opts        Options
	ledger      *ledger.Ledger
	now         func() time.Time
	transferred int
	cycles      int
}

type Option func(*Engine)

// WithClock replaces time.Now for archive naming and retention ages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLedger makes the engine share an existing ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) {
		e.ledger = l
	}
}

func New(opts Options, options ...Option) (*Engine, error) {
	if opts.Input.Backend == nil || opts.Output.Backend == nil {
		return nil, errors.New("input and output backends are required")
	}
	if opts.Archive != nil && opts.Archive.Backend == nil {
		return nil, errors.New("archive backend is required when archiving")
	}
	for _, pattern := range opts.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	opts.Input.Dir = storage.NormalizeDir(opts.Input.Dir)
	opts.Output.Dir = storage.NormalizeDir(opts.Output.Dir)
	if opts.Archive != nil {
		archive := *opts.Archive
		archive.Dir = storage.NormalizeDir(archive.Dir)
		opts.Archive = &archive
	}

	e := &Engine{
		opts:   opts,
		ledger: ledger.New(),
		now:    time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Transferred is the running total of files delivered to the output location.
func (e *Engine) Transferred() int {
	return e.transferred
}

// Cycles is the number of completed transfer cycles.
func (e *Engine) Cycles() int {
	return e.cycles
}

// Check verifies that the input and output directories exist and are reachable.
func (e *Engine) Check(ctx context.Context) error {
	for _, loc := range []struct {
		role string
		Location
	}{
		{"input", e.opts.Input},
		{"output", e.opts.Output},
	} {
		ok, err := loc.Backend.IsDir(ctx, loc.Dir)
		if err != nil {
			return fmt.Errorf("%s location: %w", loc.role, err)
		}
		if !ok {
			return fmt.Errorf("%s location: %w", loc.role, &storage.BackendError{
				Op:   "stat",
				Path: loc.Dir,
				Kind: storage.KindNotFound,
				Err:  ErrNotDirectory,
			})
		}
	}
	return nil
}

// Prime records every file already in the input location as seen.
func (e *Engine) Prime(ctx context.Context) (int, error) {
	return e.ledger.Prime(ctx, e.opts.Input.Backend, e.opts.Input.Dir)
}

func (e *Engine) ignored(name string) bool {
	for _, pattern := range e.opts.Ignore {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ArchiveName is the archive file name for a payload delivered in a cycle started at t.
func ArchiveName(t time.Time, name string) string {
	return t.Format("2006-01-02_15-04-05") + "_" + name
}
