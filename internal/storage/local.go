package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

const (
	filePerm = 0644
	dirPerm  = 0755
)

// Local is a backend over an afero filesystem, normally the OS filesystem.
type Local struct {
	fs afero.Fs
}

func NewLocal(fs afero.Fs) *Local {
	return &Local{fs: fs}
}

func (l *Local) Name() string {
	return "local"
}

func (l *Local) List(_ context.Context, dir string) ([]string, error) {
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, newError("list", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (l *Local) IsFile(_ context.Context, path string) (bool, error) {
	info, err := l.stat(path)
	if err != nil || info == nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) IsDir(_ context.Context, path string) (bool, error) {
	info, err := l.stat(path)
	if err != nil || info == nil {
		return false, err
	}
	return info.IsDir(), nil
}

// stat returns a nil info and no error when path does not exist,
// including when a parent component is a regular file
func (l *Local) stat(path string) (os.FileInfo, error) {
	info, err := l.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, nil
	}
	if err != nil {
		return nil, newError("stat", path, err)
	}
	return info, nil
}

func (l *Local) ModTime(_ context.Context, path string) (time.Time, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return time.Time{}, newError("stat", path, err)
	}
	return info.ModTime(), nil
}

func (l *Local) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, newError("open", path, err)
	}
	return f, nil
}

func (l *Local) OpenWrite(_ context.Context, path string) (io.WriteCloser, error) {
	f, err := l.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, newError("create", path, err)
	}
	return f, nil
}

func (l *Local) Remove(_ context.Context, path string) error {
	return newError("remove", path, l.fs.Remove(path))
}

func (l *Local) Mkdir(_ context.Context, path string) error {
	return newError("mkdir", path, l.fs.Mkdir(path, dirPerm))
}

func (l *Local) Close() error {
	return nil
}
