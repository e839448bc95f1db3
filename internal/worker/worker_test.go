package worker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andresmejia3/facedetectd/internal/rpc"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// MockStream joins two in-memory buffers into a stream: the worker reads
// canned responses from Replies and writes its requests to Sent.
type MockStream struct {
	Replies *bytes.Buffer
	Sent    *bytes.Buffer
}

func (m *MockStream) Read(p []byte) (int, error)  { return m.Replies.Read(p) }
func (m *MockStream) Write(p []byte) (int, error) { return m.Sent.Write(p) }
func (m *MockStream) Close() error                { return nil }

func newMockStream(t *testing.T, replies ...rpc.Response) *MockStream {
	t.Helper()
	m := &MockStream{Replies: new(bytes.Buffer), Sent: new(bytes.Buffer)}
	for _, r := range replies {
		payload, err := msgpack.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		if err := rpc.WriteFrame(m.Replies, payload); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func sentRequests(t *testing.T, m *MockStream) []rpc.Request {
	t.Helper()
	var reqs []rpc.Request
	for m.Sent.Len() > 0 {
		payload, err := rpc.ReadFrame(m.Sent)
		if err != nil {
			t.Fatal(err)
		}
		var req rpc.Request
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			t.Fatal(err)
		}
		reqs = append(reqs, req)
	}
	return reqs
}

func TestDetectFaces(t *testing.T) {
	vec := types.ZeroVec()
	vec[0] = 0.5
	stream := newMockStream(t,
		rpc.Response{ID: 1, OK: true, Loaded: true},
		rpc.Response{ID: 2, OK: true, Faces: []types.FaceRegion{{
			Rect: types.Rect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
			Vec:  vec,
		}}},
	)
	w := NewWorker(1, stream)

	ok, err := w.LoadNet("/models")
	if err != nil || !ok {
		t.Fatalf("LoadNet = %v, %v", ok, err)
	}

	faces, err := w.DetectFaces(types.DetectRequest{ImagePath: "a.jpg", Scale: 1.3, Infer: true})
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if len(faces[0].Vec) != types.EmbeddingDim || faces[0].Vec[0] != 0.5 {
		t.Errorf("Unexpected vector %v", faces[0].Vec)
	}

	// Verify what the worker sent
	reqs := sentRequests(t, stream)
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(reqs))
	}
	want := rpc.Request{ID: 2, Method: rpc.MethodDetectFaces, Image: "a.jpg", Scale: 1.3, Infer: true}
	if reqs[1] != want {
		t.Errorf("Sent %+v, want %+v", reqs[1], want)
	}
}

func TestCall_Error(t *testing.T) {
	stream := newMockStream(t, rpc.Response{ID: 1, Error: "unknown method rotate"})
	w := NewWorker(1, stream)

	_, err := w.Call(rpc.Request{Method: "rotate"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "facedetect worker error: unknown method rotate" {
		t.Errorf("Unexpected error message '%v'", err)
	}
}

func TestCall_MismatchedID(t *testing.T) {
	stream := newMockStream(t, rpc.Response{ID: 9, OK: true})
	w := NewWorker(3, stream)

	if _, err := w.FaceToVec("f.png"); err == nil || !strings.Contains(err.Error(), "response id 9") {
		t.Errorf("Expected id mismatch error, got %v", err)
	}
}

func TestCall_CrashedChild(t *testing.T) {
	// No replies: the stream ends as if the child died.
	w := NewWorker(2, newMockStream(t))

	if _, err := w.LoadNet("/models"); err == nil {
		t.Fatal("Expected error from a closed stream")
	}
}
