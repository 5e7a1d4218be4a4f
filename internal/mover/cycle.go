package mover

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/filemover/internal/codec"
	"github.com/openmined/filemover/internal/storage"
)

// RunCycle transfers every new or changed input file once and returns how many files
// reached the output location. Failures are logged per file and never abort the cycle.
//
// A file is marked seen as soon as it has been read, so a later decode or write failure
// is not retried.
func (e *Engine) RunCycle(ctx context.Context) int {
	start := e.now()
	log := slog.With("cycle", uuid.NewString())

	payloads := e.collect(ctx, log)
	e.cycles++
	if payloads.Len() == 0 {
		return 0
	}

	codec.DecodeSet(payloads)

	if e.opts.Archive != nil {
		e.archive(ctx, log, start, payloads)
	}

	n := e.deliver(ctx, log, payloads)
	e.transferred += n
	log.Info("cycle done", "transferred", n, "read", payloads.Len(), "took", time.Since(start).Round(time.Millisecond))
	return n
}

// collect reads every eligible input file into a fresh payload set
func (e *Engine) collect(ctx context.Context, log *slog.Logger) *codec.PayloadSet {
	in := e.opts.Input
	set := codec.NewPayloadSet()

	names, err := in.Backend.List(ctx, in.Dir)
	if err != nil {
		log.Error("failed to list input", "dir", in.Dir, "kind", storage.KindOf(err), "error", err)
		return set
	}

	for _, name := range names {
		if e.ignored(name) {
			continue
		}
		key := storage.Join(in.Dir, name)

		isFile, err := in.Backend.IsFile(ctx, key)
		if err != nil {
			log.Warn("failed to stat input", "file", key, "error", err)
			continue
		}
		if !isFile {
			continue
		}

		mtime, err := in.Backend.ModTime(ctx, key)
		if err != nil {
			log.Warn("failed to stat input", "file", key, "error", err)
			continue
		}
		if !e.ledger.ShouldProcess(key, mtime) {
			continue
		}

		data, err := storage.ReadFile(ctx, in.Backend, key)
		if err != nil {
			log.Warn("failed to read file, will retry next cycle", "file", key, "error", err)
			continue
		}
		e.ledger.Record(key, mtime)
		log.Debug("read file", "file", key, "size", len(data))

		if e.opts.ClearInput {
			if err := in.Backend.Remove(ctx, key); err != nil {
				log.Warn("failed to delete input file", "file", key, "error", err)
			}
		}

		set.Set(name, data)
	}
	return set
}

// archive writes a timestamped copy of every payload. If the archive directory is
// missing and cannot be created, archiving is skipped for this cycle only.
func (e *Engine) archive(ctx context.Context, log *slog.Logger, start time.Time, payloads *codec.PayloadSet) {
	arch := e.opts.Archive

	ok, err := arch.Backend.IsDir(ctx, arch.Dir)
	if err != nil || !ok {
		if err := arch.Backend.Mkdir(ctx, arch.Dir); err != nil {
			log.Error("archive path not found and could not be created, skipping archive", "dir", arch.Dir, "error", err)
			return
		}
		log.Info("created archive directory", "dir", arch.Dir)
	}

	for _, p := range payloads.Items() {
		path := storage.Join(arch.Dir, ArchiveName(start, p.Name))
		if err := storage.WriteFile(ctx, arch.Backend, path, p.Data); err != nil {
			log.Warn("failed to archive file, skipping it", "file", path, "error", err)
			continue
		}
		log.Debug("archived file", "file", path)
	}
}

// deliver writes every payload to the output location and returns the number written
func (e *Engine) deliver(ctx context.Context, log *slog.Logger, payloads *codec.PayloadSet) int {
	out := e.opts.Output

	n := 0
	for _, p := range payloads.Items() {
		path := storage.Join(out.Dir, p.Name)
		if err := storage.WriteFile(ctx, out.Backend, path, p.Data); err != nil {
			log.Warn("failed to write file, skipping it", "file", path, "error", err)
			continue
		}
		n++
		log.Debug("wrote file", "file", path)
		if e.opts.EchoPayloads {
			log.Info("payload", "file", p.Name, "content", string(p.Data))
		}
	}
	return n
}
