//go:build !unix

package rpc

import (
	"io"
	"os"
)

func stdinReader() io.ReadCloser { return os.Stdin }
