// Package rpc carries facedetect calls over a byte stream.
//
// Every message is a frame: a big-endian uint32 payload length followed by a
// msgpack-encoded Request or Response.
package rpc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	MethodLoadNet     = "loadNet"
	MethodDetectFaces = "detectFaces"
	MethodFaceToVec   = "faceToVec"
	MethodTerminate   = "terminate"
)

// MaxFrameSize bounds the payload a peer may announce.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("rpc: frame too large")

type Request struct {
	ID         uint64  `msgpack:"id"`
	Method     string  `msgpack:"method"`
	SearchPath string  `msgpack:"search_path,omitempty"`
	Image      string  `msgpack:"image,omitempty"`
	Scale      float64 `msgpack:"scale,omitempty"`
	Infer      bool    `msgpack:"infer,omitempty"`
}

type Response struct {
	ID     uint64             `msgpack:"id"`
	OK     bool               `msgpack:"ok"`
	Loaded bool               `msgpack:"loaded,omitempty"`
	Faces  []types.FaceRegion `msgpack:"faces,omitempty"`
	Vec    []float64          `msgpack:"vec,omitempty"`
	Error  string             `msgpack:"error,omitempty"`
}

// WriteFrame writes one length-prefixed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload. A clean end of stream before
// the header is reported as io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// Conn sends and receives msgpack messages over a stream. Send and Receive
// may be used from different goroutines.
type Conn struct {
	r  *bufio.Reader
	w  *bufio.Writer
	c  io.Closer
	wm sync.Mutex
}

func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{r: bufio.NewReader(rwc), w: bufio.NewWriter(rwc), c: rwc}
}

func (c *Conn) Send(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: encode: %w", err)
	}
	c.wm.Lock()
	defer c.wm.Unlock()
	if err := WriteFrame(c.w, payload); err != nil {
		return err
	}
	return c.w.Flush()
}

// Receive reads the next frame into v. A frame that is not valid msgpack is
// consumed and reported as a *DecodeError so the stream stays usable.
func (c *Conn) Receive(v any) error {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

func (c *Conn) Close() error { return c.c.Close() }

type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "rpc: decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
