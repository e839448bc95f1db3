//go:build unix

package rpc

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// stdinReader returns a non-blocking duplicate of stdin registered with the
// runtime poller, so that closing it wakes a Read blocked on an idle pipe.
func stdinReader() io.ReadCloser {
	fd, err := unix.Dup(unix.Stdin)
	if err != nil {
		return os.Stdin
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return os.Stdin
	}
	return &stdinFile{File: os.NewFile(uintptr(fd), "stdin")}
}

type stdinFile struct {
	*os.File
}

// Close also puts the shared open file description back into blocking mode.
func (f *stdinFile) Close() error {
	err := f.File.Close()
	unix.SetNonblock(unix.Stdin, false)
	return err
}
