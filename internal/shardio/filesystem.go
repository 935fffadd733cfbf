package shardio

import (
	"io"
	"os"
)

// FileSystem is the capability seam the engine writes crash
// reproducers and telemetry dumps through, instead of calling os.*
// directly everywhere. Grounded on original_source/remote_file.h's
// RemoteFileOpen/RemoteMkdir split: this package only ships the local
// realization of that seam (a remote backend is explicitly out of
// scope), but keeping the seam means a future backend only has to
// satisfy this interface.
type FileSystem interface {
	OpenForWrite(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
}

// LocalFileSystem implements FileSystem directly against the local
// disk.
type LocalFileSystem struct{}

func (LocalFileSystem) OpenForWrite(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func (LocalFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}
