package mover

import (
	"context"
	"testing"
	"time"

	"github.com/openmined/filemover/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCycleScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("hello"))
	env.write(t, "/in/b.txt.gz", gzipBytes(t, "world"))
	env.write(t, "/in/c.txt", []byte("old"))

	e := env.engine(t, env.options(false))
	mtime, err := env.backend.ModTime(ctx, "/in/c.txt")
	require.NoError(t, err)
	e.Ledger().Record("/in/c.txt", mtime)

	n := e.RunCycle(ctx)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hello", env.read(t, "/out/a.txt"))
	assert.Equal(t, "world", env.read(t, "/out/b.txt"))
	assert.False(t, env.exists(t, "/out/c.txt"))
	assert.False(t, env.exists(t, "/out/b.txt.gz"))
	assert.Equal(t, 2, e.Transferred())
}

func TestRunCycleDedup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("v1"))
	e := env.engine(t, env.options(false))

	assert.Equal(t, 1, e.RunCycle(ctx))
	assert.Equal(t, 0, e.RunCycle(ctx))

	// same content, new mtime: transferred again
	env.write(t, "/in/a.txt", []byte("v2"))
	env.touch(t, "/in/a.txt", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, e.RunCycle(ctx))
	assert.Equal(t, "v2", env.read(t, "/out/a.txt"))
	assert.Equal(t, 0, e.RunCycle(ctx))

	assert.Equal(t, 2, e.Transferred())
	assert.Equal(t, 4, e.Cycles())
}

func TestRunCycleEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, env.options(true))

	assert.Equal(t, 0, e.RunCycle(context.Background()))
	// nothing to archive, so the archive dir is not even created
	assert.False(t, env.exists(t, "/out/archive"))
}

func TestRunCycleMissingInputDir(t *testing.T) {
	env := newTestEnv(t)
	opts := env.options(false)
	opts.Input.Dir = "/gone"
	e := env.engine(t, opts)

	assert.Equal(t, 0, e.RunCycle(context.Background()))
}

func TestRunCycleArchiveCompleteness(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("hello"))
	env.write(t, "/in/b.txt.gz", gzipBytes(t, "world"))
	e := env.engine(t, env.options(true))

	require.Equal(t, 2, e.RunCycle(ctx))

	names, err := env.backend.List(ctx, "/out/archive/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"2024-03-05_14-07-09_a.txt",
		"2024-03-05_14-07-09_b.txt",
	}, names)

	for _, name := range []string{"a.txt", "b.txt"} {
		archived := env.read(t, "/out/archive/"+ArchiveName(cycleTime, name))
		assert.Equal(t, env.read(t, "/out/"+name), archived)
	}
}

func TestRunCycleArchiveDirCreationFails(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("hello"))
	env.backend.failMkdir = true
	e := env.engine(t, env.options(true))

	assert.Equal(t, 1, e.RunCycle(context.Background()))
	assert.Equal(t, "hello", env.read(t, "/out/a.txt"))
	assert.False(t, env.exists(t, "/out/archive"))
}

func TestRunCycleArchiveWriteFailureKeepsDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("hello"))
	env.backend.failWrites["/out/archive/"+ArchiveName(cycleTime, "a.txt")] = true
	e := env.engine(t, env.options(true))

	assert.Equal(t, 1, e.RunCycle(context.Background()))
	assert.Equal(t, "hello", env.read(t, "/out/a.txt"))
}

func TestRunCyclePartialWriteFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/1.txt", []byte("one"))
	env.write(t, "/in/2.txt", []byte("two"))
	env.write(t, "/in/3.txt", []byte("three"))
	env.backend.failWrites["/out/2.txt"] = true
	e := env.engine(t, env.options(false))

	assert.Equal(t, 2, e.RunCycle(ctx))
	assert.Equal(t, "one", env.read(t, "/out/1.txt"))
	assert.Equal(t, "three", env.read(t, "/out/3.txt"))
	assert.False(t, env.exists(t, "/out/2.txt"))

	// all three were read, so all three are marked seen and the failed one is not retried
	for _, name := range []string{"1.txt", "2.txt", "3.txt"} {
		mtime, err := env.backend.ModTime(ctx, "/in/"+name)
		require.NoError(t, err)
		assert.False(t, e.Ledger().ShouldProcess("/in/"+name, mtime), name)
	}
	delete(env.backend.failWrites, "/out/2.txt")
	assert.Equal(t, 0, e.RunCycle(ctx))
	assert.False(t, env.exists(t, "/out/2.txt"))
}

func TestRunCycleReadFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("a"))
	env.write(t, "/in/b.txt", []byte("b"))
	env.backend.failReads["/in/b.txt"] = true
	e := env.engine(t, env.options(false))

	assert.Equal(t, 1, e.RunCycle(ctx))
	assert.False(t, env.exists(t, "/out/b.txt"))

	delete(env.backend.failReads, "/in/b.txt")
	assert.Equal(t, 1, e.RunCycle(ctx))
	assert.Equal(t, "b", env.read(t, "/out/b.txt"))
}

func TestRunCycleCorruptGzipIsDroppedAndNotRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/bad.txt.gz", []byte("this is not gzip"))
	env.write(t, "/in/good.txt", []byte("ok"))
	e := env.engine(t, env.options(false))

	assert.Equal(t, 1, e.RunCycle(ctx))
	assert.False(t, env.exists(t, "/out/bad.txt"))
	assert.False(t, env.exists(t, "/out/bad.txt.gz"))
	assert.Equal(t, 0, e.RunCycle(ctx))
}

// A raw file and a compressed file that decode to the same name collapse into one output,
// the decompressed one winning.
func TestRunCycleDecodedNameCollision(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "/in/b.txt", []byte("raw"))
	env.write(t, "/in/b.txt.gz", gzipBytes(t, "decoded"))
	e := env.engine(t, env.options(false))

	assert.Equal(t, 1, e.RunCycle(context.Background()))
	assert.Equal(t, "decoded", env.read(t, "/out/b.txt"))
}

func TestRunCycleClearInput(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "/in/a.txt", []byte("a"))
	env.write(t, "/in/b.txt", []byte("b"))
	env.backend.failRemoves["/in/b.txt"] = true

	opts := env.options(false)
	opts.ClearInput = true
	e := env.engine(t, opts)

	assert.Equal(t, 2, e.RunCycle(context.Background()))
	assert.False(t, env.exists(t, "/in/a.txt"))
	// removal failure is not fatal: the file is still delivered
	assert.True(t, env.exists(t, "/in/b.txt"))
	assert.Equal(t, "b", env.read(t, "/out/b.txt"))
	assert.Equal(t, 0, e.RunCycle(context.Background()))
}

func TestRunCycleSkipsDirectoriesAndIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.fs.MkdirAll("/in/sub", 0755))
	env.write(t, "/in/sub/nested.txt", []byte("n"))
	env.write(t, "/in/a.txt", []byte("a"))
	env.write(t, "/in/a.txt.part", []byte("partial"))
	env.write(t, "/in/.hidden", []byte("h"))

	opts := env.options(false)
	opts.Ignore = []string{"*.part", ".*"}
	e := env.engine(t, opts)

	assert.Equal(t, 1, e.RunCycle(context.Background()))
	assert.True(t, env.exists(t, "/out/a.txt"))
	assert.False(t, env.exists(t, "/out/sub"))
	assert.False(t, env.exists(t, "/out/nested.txt"))
	assert.False(t, env.exists(t, "/out/a.txt.part"))
	assert.False(t, env.exists(t, "/out/.hidden"))
}

func TestPrimeSkipsExistingFiles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "/in/old.txt", []byte("old"))
	e := env.engine(t, env.options(false))

	n, err := e.Prime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env.write(t, "/in/new.txt", []byte("new"))
	assert.Equal(t, 1, e.RunCycle(ctx))
	assert.True(t, env.exists(t, "/out/new.txt"))
	assert.False(t, env.exists(t, "/out/old.txt"))
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	e := env.engine(t, env.options(false))
	require.NoError(t, e.Check(ctx))

	opts := env.options(false)
	opts.Output.Dir = "/missing"
	e = env.engine(t, opts)
	err := e.Check(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotDirectory)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))
	assert.Contains(t, err.Error(), "output")

	env.write(t, "/file", []byte("x"))
	opts = env.options(false)
	opts.Input.Dir = "/file"
	e = env.engine(t, opts)
	assert.ErrorIs(t, e.Check(ctx), ErrNotDirectory)
}

func TestNewValidatesOptions(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(Options{})
	assert.Error(t, err)

	opts := env.options(false)
	opts.Ignore = []string{"[unclosed"}
	_, err = New(opts)
	assert.Error(t, err)

	opts = env.options(false)
	opts.Archive = &Location{Dir: "/out/archive"}
	_, err = New(opts)
	assert.Error(t, err)
}

func TestArchiveName(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 58, 0, time.UTC)
	assert.Equal(t, "2023-12-31_23-59-58_report.csv", ArchiveName(ts, "report.csv"))

	// names sort by cycle time
	earlier := ArchiveName(ts, "z.txt")
	later := ArchiveName(ts.Add(time.Second), "a.txt")
	assert.Less(t, earlier, later)
}
