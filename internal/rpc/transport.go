package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
)

// ErrPeerMismatch means the process at the other end of a socket belongs to
// another user.
var ErrPeerMismatch = errors.New("rpc: peer belongs to a different user")

type stdio struct {
	io.ReadCloser
	io.Writer
}

// Stdio serves requests read from stdin and writes responses to stdout.
// Closing it interrupts a pending read.
func Stdio() io.ReadWriteCloser {
	return stdio{ReadCloser: stdinReader(), Writer: os.Stdout}
}

// Listen creates a unix socket at path, accepts a single client and checks
// that it runs as the current user. The socket file is removed once the
// client is accepted.
func Listen(ctx context.Context, path string) (net.Conn, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	defer os.Remove(path)

	if err := os.Chmod(path, 0o600); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := checkPeer(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Dial connects to the controlling application's socket and checks that it
// runs as the current user.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	if err := checkPeer(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
