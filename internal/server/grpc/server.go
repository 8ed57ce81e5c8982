// Package grpc exposes the transfer operations as a gRPC service with a JSON
// wire codec.
package grpc

import (
	"context"
	"io"
	"net"

	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"google.golang.org/grpc"
)

// Transfer is the service surface the handlers need.
type Transfer interface {
	CreateSession(ctx context.Context, req services.CreateSessionRequest) (string, error)
	UploadChunk(ctx context.Context, sessionID string, index int, r io.Reader, size int64) (int64, error)
	FinishSession(ctx context.Context, req services.FinishSessionRequest) (*services.FinishResult, error)
	DownloadArtifact(ctx context.Context, sessionID, password string) (*services.Download, error)
	SessionStatus(ctx context.Context, sessionID string) (*services.StatusView, error)
}

type GRPCServer struct {
	address string
	svc     Transfer
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, svc Transfer, m *metrics.Metrics) *GRPCServer {
	return &GRPCServer{
		address: a,
		svc:     svc,
		metrics: m,
		logger:  l.With("module", "grpc_server"),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.observeUnary),
		grpc.ChainStreamInterceptor(s.observeStream),
	)
	RegisterTransferServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on listen until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
