package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/filemover/internal/config"
	"github.com/openmined/filemover/internal/lockfile"
	"github.com/openmined/filemover/internal/mover"
	"github.com/openmined/filemover/internal/scheduler"
	"github.com/openmined/filemover/internal/storage"
)

// run starts the service and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, storageOpts storage.Options) error {
	cfg.LogSettings()

	if cfg.LockFile != "" {
		lock := lockfile.New(cfg.LockFile)
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("failed to release lock", "path", lock.Path(), "error", err)
			}
		}()
	}

	backends := newBackendSet(storageOpts)
	defer backends.Close()

	engine, err := newEngine(ctx, cfg, backends)
	if err != nil {
		return err
	}
	if err := engine.Check(ctx); err != nil {
		return err
	}

	if cfg.SkipExisting {
		n, err := engine.Prime(ctx)
		if err != nil {
			return fmt.Errorf("skip existing files: %w", err)
		}
		slog.Info("existing files will not be transferred", "count", n)
	}

	s := scheduler.New()
	err = engine.Schedule(s, mover.Intervals{
		Transfer:  cfg.SleepTime,
		Sweep:     cfg.ArchiveSweep,
		Heartbeat: cfg.Heartbeat,
	})
	if err != nil {
		return err
	}

	slog.Info("filemover started", "interval", cfg.SleepTime, "tasks", s.Len())
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newEngine(ctx context.Context, cfg *config.Config, backends *backendSet) (*mover.Engine, error) {
	input, err := backends.location(ctx, cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("input location: %w", err)
	}
	output, err := backends.location(ctx, cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("output location: %w", err)
	}

	opts := mover.Options{
		Input:         input,
		Output:        output,
		ArchiveMaxAge: cfg.ArchiveMaxAge,
		ClearInput:    cfg.ClearInput,
		Ignore:        cfg.Ignore,
		EchoPayloads:  cfg.MegaVerbose,
	}
	if cfg.Archive {
		archive, err := backends.location(ctx, cfg.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("archive location: %w", err)
		}
		opts.Archive = &archive
	}

	return mover.New(opts)
}

// backendSet opens at most one backend per kind so locations on the same
// server share its sessions.
type backendSet struct {
	opts   storage.Options
	byName map[string]storage.Backend
}

func newBackendSet(opts storage.Options) *backendSet {
	return &backendSet{opts: opts, byName: make(map[string]storage.Backend)}
}

func (b *backendSet) location(ctx context.Context, path string) (mover.Location, error) {
	backend, err := storage.Open(ctx, path, b.opts)
	if err != nil {
		return mover.Location{}, err
	}
	if existing, ok := b.byName[backend.Name()]; ok {
		_ = backend.Close()
		backend = existing
	} else {
		b.byName[backend.Name()] = backend
	}
	return mover.Location{Backend: backend, Dir: path}, nil
}

func (b *backendSet) Close() {
	for name, backend := range b.byName {
		if err := backend.Close(); err != nil {
			slog.Warn("failed to close backend", "backend", name, "error", err)
		}
	}
}
