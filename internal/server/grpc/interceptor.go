package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) observe(ctx context.Context, method string, start time.Time, err error) {
	code := status.Code(err)
	s.metrics.ObserveRequest(method, code.String(), time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn(ctx, "rpc failed", "method", method, "code", code.String(), "error", err)
		return
	}
	s.logger.Debug(ctx, "rpc", "method", method, "duration", time.Since(start))
}

func (s *GRPCServer) observeUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.observe(ctx, info.FullMethod, start, err)
	return resp, err
}

func (s *GRPCServer) observeStream(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.observe(ss.Context(), info.FullMethod, start, err)
	return err
}
