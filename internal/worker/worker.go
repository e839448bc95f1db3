package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/facedetectd/internal/rpc"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/utils" // Using the SafeCommand wrapper
)

// Worker is a client of a facedetect service, usually a child process
// started with NewDetectWorker.
type Worker struct {
	ID   int
	Cmd  *utils.SafeCommand
	conn *rpc.Conn

	mu     sync.Mutex
	nextID uint64
}

// pipes joins the child's stdout and stdin into one stream.
type pipes struct {
	io.ReadCloser
	stdin io.WriteCloser
}

func (p pipes) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p pipes) Close() error {
	return errors.Join(p.stdin.Close(), p.ReadCloser.Close())
}

// NewDetectWorker starts `<exe> serve` with the given extra arguments and
// talks to it over its stdin and stdout.
func NewDetectWorker(id int, args ...string) (*Worker, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	child := utils.NewSafeCommand(exe, append([]string{"serve"}, args...)...)

	stdin, err := child.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		stdin.Close() // Prevent FD leak
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := child.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	w := NewWorker(id, pipes{ReadCloser: stdout, stdin: stdin})
	w.Cmd = child
	return w, nil
}

// NewWorker wraps an already connected stream.
func NewWorker(id int, rwc io.ReadWriteCloser) *Worker {
	return &Worker{ID: id, conn: rpc.NewConn(rwc)}
}

// Call sends one request and waits for its response.
func (w *Worker) Call(req rpc.Request) (rpc.Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	req.ID = w.nextID
	if err := w.conn.Send(req); err != nil {
		return rpc.Response{}, fmt.Errorf("worker %d: send %s: %w", w.ID, req.Method, err)
	}

	var resp rpc.Response
	if err := w.conn.Receive(&resp); err != nil {
		return rpc.Response{}, fmt.Errorf("worker %d: receive %s: %w", w.ID, req.Method, err) // This is where we catch a crashed child
	}
	if resp.ID != req.ID {
		return rpc.Response{}, fmt.Errorf("worker %d: response id %d for request %d", w.ID, resp.ID, req.ID)
	}
	if !resp.OK {
		return resp, fmt.Errorf("facedetect worker error: %s", resp.Error)
	}
	return resp, nil
}

func (w *Worker) LoadNet(searchPath string) (bool, error) {
	resp, err := w.Call(rpc.Request{Method: rpc.MethodLoadNet, SearchPath: searchPath})
	return resp.Loaded, err
}

func (w *Worker) DetectFaces(req types.DetectRequest) ([]types.FaceRegion, error) {
	resp, err := w.Call(rpc.Request{
		Method: rpc.MethodDetectFaces,
		Image:  req.ImagePath,
		Scale:  req.Scale,
		Infer:  req.Infer,
	})
	return resp.Faces, err
}

func (w *Worker) FaceToVec(path string) ([]float64, error) {
	resp, err := w.Call(rpc.Request{Method: rpc.MethodFaceToVec, Image: path})
	return resp.Vec, err
}

func (w *Worker) Terminate() error {
	_, err := w.Call(rpc.Request{Method: rpc.MethodTerminate})
	return err
}

// Close asks the service to terminate, closes the stream and reaps the child.
func (w *Worker) Close() error {
	termErr := w.Terminate()
	closeErr := w.conn.Close()
	if w.Cmd != nil {
		if err := w.Cmd.Wait(); err != nil {
			return fmt.Errorf("worker %d exited: %w", w.ID, err)
		}
	}
	if termErr != nil {
		return termErr
	}
	return closeErr
}
