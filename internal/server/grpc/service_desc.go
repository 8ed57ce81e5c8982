package grpc

import (
	"context"

	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"google.golang.org/grpc"
)

const serviceName = "gophdrop.transfer.TransferService"

// TransferServer is implemented by GRPCServer.
type TransferServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionReply, error)
	UploadChunk(grpc.ClientStreamingServer[ChunkFrame, UploadChunkReply]) error
	FinishSession(context.Context, *FinishSessionRequest) (*FinishSessionReply, error)
	DownloadArtifact(*DownloadRequest, grpc.ServerStreamingServer[DownloadFrame]) error
	SessionStatus(context.Context, *StatusRequest) (*services.StatusView, error)
}

func unaryHandler[Req any](call func(TransferServer, context.Context, *Req) (any, error), method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TransferServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(TransferServer), ctx, req.(*Req))
			})
		},
	}
}

var transferServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransferServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(func(s TransferServer, ctx context.Context, in *CreateSessionRequest) (any, error) {
			return s.CreateSession(ctx, in)
		}, "CreateSession"),
		unaryHandler(func(s TransferServer, ctx context.Context, in *FinishSessionRequest) (any, error) {
			return s.FinishSession(ctx, in)
		}, "FinishSession"),
		unaryHandler(func(s TransferServer, ctx context.Context, in *StatusRequest) (any, error) {
			return s.SessionStatus(ctx, in)
		}, "SessionStatus"),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "UploadChunk",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(TransferServer).UploadChunk(&grpc.GenericServerStream[ChunkFrame, UploadChunkReply]{ServerStream: stream})
			},
			ClientStreams: true,
		},
		{
			StreamName: "DownloadArtifact",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(DownloadRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(TransferServer).DownloadArtifact(in, &grpc.GenericServerStream[DownloadRequest, DownloadFrame]{ServerStream: stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "gophdrop/transfer",
}

// RegisterTransferServer attaches srv to s.
func RegisterTransferServer(s grpc.ServiceRegistrar, srv TransferServer) {
	s.RegisterService(&transferServiceDesc, srv)
}
