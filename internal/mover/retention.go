package mover

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filemover/internal/storage"
)

// Sweep deletes files in dir whose age at now is strictly greater than maxAge.
// total counts the files inspected, deleted only the successful removals.
// A missing dir is an empty sweep.
func Sweep(ctx context.Context, b storage.Backend, dir string, maxAge time.Duration, now time.Time) (total, deleted int, err error) {
	ok, err := b.IsDir(ctx, dir)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, nil
	}

	names, err := b.List(ctx, dir)
	if err != nil {
		return 0, 0, err
	}

	for _, name := range names {
		path := storage.Join(dir, name)
		if isFile, err := b.IsFile(ctx, path); err != nil || !isFile {
			continue
		}
		total++

		mtime, err := b.ModTime(ctx, path)
		if err != nil {
			slog.Warn("failed to stat archive entry", "file", path, "error", err)
			continue
		}
		if now.Sub(mtime) <= maxAge {
			continue
		}
		if err := b.Remove(ctx, path); err != nil {
			slog.Warn("failed to delete archive entry", "file", path, "error", err)
			continue
		}
		deleted++
		slog.Debug("deleted archive entry", "file", path, "modified", humanize.Time(mtime))
	}
	return total, deleted, nil
}

// SweepArchive applies the retention limit to the archive location.
func (e *Engine) SweepArchive(ctx context.Context) (total, deleted int) {
	arch := e.opts.Archive
	if arch == nil || e.opts.ArchiveMaxAge <= 0 {
		return 0, 0
	}

	total, deleted, err := Sweep(ctx, arch.Backend, arch.Dir, e.opts.ArchiveMaxAge, e.now())
	if err != nil {
		slog.Error("archive sweep failed", "dir", arch.Dir, "error", err)
		return total, deleted
	}
	slog.Info("archive sweep",
		"dir", arch.Dir,
		"files", total,
		"deleted", deleted,
		"maxAge", e.opts.ArchiveMaxAge,
	)
	return total, deleted
}
