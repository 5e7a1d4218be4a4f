package mover

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/openmined/filemover/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var cycleTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

var errInjected = errors.New("injected failure")

// faultyBackend wraps a backend and fails selected operations
type faultyBackend struct {
	storage.Backend
	failReads   map[string]bool
	failWrites  map[string]bool
	failRemoves map[string]bool
	failMkdir   bool
}

func newFaulty(b storage.Backend) *faultyBackend {
	return &faultyBackend{
		Backend:     b,
		failReads:   map[string]bool{},
		failWrites:  map[string]bool{},
		failRemoves: map[string]bool{},
	}
}

func injected(op, path string) error {
	return &storage.BackendError{Op: op, Path: path, Kind: storage.KindTransient, Err: errInjected}
}

func (f *faultyBackend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if f.failReads[path] {
		return nil, injected("open", path)
	}
	return f.Backend.OpenRead(ctx, path)
}

func (f *faultyBackend) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	if f.failWrites[path] {
		return nil, injected("create", path)
	}
	return f.Backend.OpenWrite(ctx, path)
}

func (f *faultyBackend) Remove(ctx context.Context, path string) error {
	if f.failRemoves[path] {
		return injected("remove", path)
	}
	return f.Backend.Remove(ctx, path)
}

func (f *faultyBackend) Mkdir(ctx context.Context, path string) error {
	if f.failMkdir {
		return injected("mkdir", path)
	}
	return f.Backend.Mkdir(ctx, path)
}

type testEnv struct {
	fs      afero.Fs
	backend *faultyBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/in", 0755))
	require.NoError(t, fs.MkdirAll("/out", 0755))
	return &testEnv{fs: fs, backend: newFaulty(storage.NewLocal(fs))}
}

func (env *testEnv) options(archive bool) Options {
	opts := Options{
		Input:  Location{Backend: env.backend, Dir: "/in"},
		Output: Location{Backend: env.backend, Dir: "/out"},
	}
	if archive {
		opts.Archive = &Location{Backend: env.backend, Dir: "/out/archive"}
	}
	return opts
}

func (env *testEnv) engine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts, WithClock(func() time.Time { return cycleTime }))
	require.NoError(t, err)
	return e
}

func (env *testEnv) write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(env.fs, path, data, 0644))
}

func (env *testEnv) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(env.fs, path)
	require.NoError(t, err)
	return string(data)
}

func (env *testEnv) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(env.fs, path)
	require.NoError(t, err)
	return ok
}

func (env *testEnv) touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, env.fs.Chtimes(path, mtime, mtime))
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
