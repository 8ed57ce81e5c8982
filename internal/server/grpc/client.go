package grpc

import (
	"context"

	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"google.golang.org/grpc"
)

// TransferClient calls TransferService over an existing connection.
type TransferClient struct {
	cc grpc.ClientConnInterface
}

func NewTransferClient(cc grpc.ClientConnInterface) *TransferClient {
	return &TransferClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

func (c *TransferClient) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionReply, error) {
	out := new(CreateSessionReply)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CreateSession", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TransferClient) UploadChunk(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[ChunkFrame, UploadChunkReply], error) {
	stream, err := c.cc.NewStream(ctx, &transferServiceDesc.Streams[0], "/"+serviceName+"/UploadChunk", withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ChunkFrame, UploadChunkReply]{ClientStream: stream}, nil
}

func (c *TransferClient) FinishSession(ctx context.Context, in *FinishSessionRequest, opts ...grpc.CallOption) (*FinishSessionReply, error) {
	out := new(FinishSessionReply)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/FinishSession", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TransferClient) DownloadArtifact(ctx context.Context, in *DownloadRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[DownloadFrame], error) {
	stream, err := c.cc.NewStream(ctx, &transferServiceDesc.Streams[1], "/"+serviceName+"/DownloadArtifact", withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[DownloadRequest, DownloadFrame]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *TransferClient) SessionStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*services.StatusView, error) {
	out := new(services.StatusView)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/SessionStatus", in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
