// Package storage is the uniform file access layer used by the transfer engine.
// Paths are opaque strings handed through unchanged to the selected backend.
package storage

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Backend is the capability set the engine is written against.
// List is non-recursive and returns names, not paths; callers filter directories with IsFile.
// IsFile and IsDir report false without error for paths that do not exist.
type Backend interface {
	Name() string
	List(ctx context.Context, dir string) ([]string, error)
	IsFile(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
	ModTime(ctx context.Context, path string) (time.Time, error)
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)
	Remove(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
	Close() error
}

// Options carries backend specific settings. Only the block matching the selected backend is used.
type Options struct {
	SMB SMBConfig
	S3  S3Config
	// Fs overrides the local filesystem, mostly for tests.
	Fs afero.Fs
}

// Open selects the backend for location once, based on its prefix.
func Open(ctx context.Context, location string, opts Options) (Backend, error) {
	switch {
	case IsSMBPath(location):
		if _, _, _, err := parseUNC(location); err != nil {
			return nil, newError("open", location, err)
		}
		return NewSMB(opts.SMB), nil
	case IsS3Path(location):
		if _, _, err := parseS3(location); err != nil {
			return nil, newError("open", location, err)
		}
		return NewS3(ctx, opts.S3)
	default:
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewLocal(fs), nil
	}
}

// NormalizeDir makes sure dir ends with a separator of the same convention the path uses.
func NormalizeDir(dir string) string {
	if dir == "" {
		return dir
	}
	sep := separator(dir)
	if strings.HasSuffix(dir, sep) {
		return dir
	}
	return dir + sep
}

// Join appends name to a directory path produced by NormalizeDir.
func Join(dir, name string) string {
	return NormalizeDir(dir) + name
}

func separator(p string) string {
	if strings.HasPrefix(p, `\`) {
		return `\`
	}
	if !strings.Contains(p, "/") && strings.Contains(p, `\`) {
		return `\`
	}
	return "/"
}

// ReadFile reads the whole file at path. The handle is closed before returning.
func ReadFile(ctx context.Context, b Backend, path string) ([]byte, error) {
	r, err := b.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newError("read", path, err)
	}
	return data, nil
}

// WriteFile replaces the file at path with data. The handle is closed before returning,
// and a failed close is reported since it may mean the data never reached the backend.
func WriteFile(ctx context.Context, b Backend, path string, data []byte) (err error) {
	w, err := b.OpenWrite(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = newError("close", path, cerr)
		}
	}()

	if _, err := w.Write(data); err != nil {
		return newError("write", path, err)
	}
	return nil
}
