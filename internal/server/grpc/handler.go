package grpc

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// downloadFrameSize bounds the payload of a single DownloadFrame.
const downloadFrameSize = 256 << 10

func (s *GRPCServer) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionReply, error) {
	id, err := s.svc.CreateSession(ctx, services.CreateSessionRequest{
		FileName:     req.FileName,
		TotalChunks:  req.TotalChunks,
		DeclaredSize: req.DeclaredSize,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateSessionReply{SessionID: id}, nil
}

func (s *GRPCServer) UploadChunk(stream grpc.ClientStreamingServer[ChunkFrame, UploadChunkReply]) error {
	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "empty upload stream")
	}
	if err != nil {
		return err
	}

	r := &frameReader{stream: stream, buf: first.Data}
	n, err := s.svc.UploadChunk(stream.Context(), first.SessionID, first.Index, r, blob.UnknownSize)
	if err != nil {
		if r.err != nil {
			return r.err
		}
		return toStatus(err)
	}
	return stream.SendAndClose(&UploadChunkReply{Index: first.Index, Bytes: n})
}

// frameReader flattens the Data of consecutive ChunkFrames into a byte stream.
type frameReader struct {
	stream grpc.ClientStreamingServer[ChunkFrame, UploadChunkReply]
	buf    []byte
	err    error
	done   bool
}

func (f *frameReader) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if f.done {
			return 0, io.EOF
		}
		frame, err := f.stream.Recv()
		if errors.Is(err, io.EOF) {
			f.done = true
			continue
		}
		if err != nil {
			f.err = err
			return 0, err
		}
		f.buf = frame.Data
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func (s *GRPCServer) FinishSession(ctx context.Context, req *FinishSessionRequest) (*FinishSessionReply, error) {
	res, err := s.svc.FinishSession(ctx, services.FinishSessionRequest{SessionID: req.SessionID, Password: req.Password})
	if err != nil {
		return nil, toStatus(err)
	}
	return &FinishSessionReply{SessionID: res.SessionID, Status: res.Status, Bytes: res.Bytes}, nil
}

func (s *GRPCServer) DownloadArtifact(req *DownloadRequest, stream grpc.ServerStreamingServer[DownloadFrame]) error {
	dl, err := s.svc.DownloadArtifact(stream.Context(), req.SessionID, password(stream.Context(), req.Password))
	if err != nil {
		return toStatus(err)
	}
	defer dl.Body.Close()

	if err := stream.Send(&DownloadFrame{FileName: dl.FileName, ContentType: dl.ContentType, Size: dl.Size}); err != nil {
		return err
	}

	buf := make([]byte, downloadFrameSize)
	for {
		n, err := dl.Body.Read(buf)
		if n > 0 {
			if err := stream.Send(&DownloadFrame{Data: buf[:n]}); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			s.logger.Error(stream.Context(), "artifact read failed", "id", req.SessionID, "error", err)
			return status.Error(codes.Internal, "internal error")
		}
	}
}

func (s *GRPCServer) SessionStatus(ctx context.Context, req *StatusRequest) (*services.StatusView, error) {
	if req.SessionID == "" {
		return nil, toStatus(common.NewValidationError("fileId", "is required"))
	}
	view, err := s.svc.SessionStatus(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return view, nil
}

// password prefers the request field and falls back to the
// x-artifact-password metadata entry.
func password(ctx context.Context, fromRequest string) string {
	if fromRequest != "" {
		return fromRequest
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(common.PasswordHeaderName); len(v) > 0 {
		return v[0]
	}
	return ""
}
