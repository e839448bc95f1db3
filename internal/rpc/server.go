package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler is the face service as seen by the dispatch loop.
type Handler interface {
	LoadNet(searchPath string) bool
	DetectFaces(req types.DetectRequest) []types.FaceRegion
	FaceToVec(path string) []float64
	Terminate()
}

// Server answers calls from a single client, one at a time.
type Server struct {
	h       Handler
	log     *logrus.Entry
	Session string
}

func NewServer(h Handler, log *logrus.Logger) *Server {
	session := uuid.NewString()
	return &Server{h: h, log: log.WithField("session", session[:8]), Session: session}
}

// Serve runs the dispatch loop until the client calls terminate, the stream
// ends or ctx is cancelled. Every case except a broken stream ends with a
// nil error; the handler is always terminated on return.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := NewConn(rwc)
	defer conn.Close()
	defer s.h.Terminate()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.log.Debug("Dispatch loop started")
	for {
		var req Request
		err := conn.Receive(&req)

		var decodeErr *DecodeError
		switch {
		case err == nil:
		case errors.As(err, &decodeErr):
			s.log.WithField("error", err).Warn("Malformed request")
			if err := conn.Send(Response{Error: "malformed request"}); err != nil {
				return s.closed(ctx, err)
			}
			continue
		default:
			return s.closed(ctx, err)
		}

		resp := s.dispatch(req)
		if err := conn.Send(resp); err != nil {
			return s.closed(ctx, err)
		}
		if req.Method == MethodTerminate {
			s.log.Info("Terminate requested")
			return nil
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	log := s.log.WithFields(logrus.Fields{"id": req.ID, "method": req.Method})
	log.Debug("Call")

	resp := Response{ID: req.ID, OK: true}
	switch req.Method {
	case MethodLoadNet:
		resp.Loaded = s.h.LoadNet(req.SearchPath)
	case MethodDetectFaces:
		resp.Faces = s.h.DetectFaces(types.DetectRequest{ImagePath: req.Image, Scale: req.Scale, Infer: req.Infer})
	case MethodFaceToVec:
		resp.Vec = s.h.FaceToVec(req.Image)
	case MethodTerminate:
		s.h.Terminate()
	default:
		log.Warn("Unknown method")
		resp.OK = false
		resp.Error = "unknown method " + req.Method
	}
	return resp
}

// closed classifies a stream error. Loss of the transport is a normal way for
// the service to end.
func (s *Server) closed(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		s.log.Info("Shutting down")
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed):
		s.log.Info("Transport closed")
		return nil
	}
	s.log.WithField("error", err).Error("Transport failed")
	return err
}
