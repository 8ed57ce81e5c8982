package grpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/cryptox"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/merge"
	"github.com/dmitrijs2005/gophdrop/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophdrop/internal/server/retrieval"
	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"github.com/dmitrijs2005/gophdrop/internal/server/staging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTransfer(t *testing.T, limits services.Limits) *services.TransferService {
	t.Helper()
	store, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	repo := sessions.NewInMemoryRepository()
	hasher := cryptox.NewHasher(cryptox.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 8, KeyLen: 16})
	stager := staging.New(store)
	return services.NewTransferService(services.Deps{
		Repo:   repo,
		Stager: stager,
		Engine: merge.NewEngine(repo, stager, store, logging.Discard()),
		Gate:   retrieval.NewGate(repo, store, hasher, logging.Discard()),
		Hasher: hasher,
		Limits: limits,
		Logger: logging.Discard(),
	})
}

// dial starts srv on an in-memory listener and returns a connected client.
func dial(t *testing.T, svc Transfer, m *metrics.Metrics) *TransferClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", logging.Discard(), svc, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return NewTransferClient(conn)
}

func sendChunk(t *testing.T, c *TransferClient, id string, index int, frames ...string) (*UploadChunkReply, error) {
	t.Helper()
	stream, err := c.UploadChunk(context.Background())
	require.NoError(t, err)
	for i, f := range frames {
		frame := &ChunkFrame{Data: []byte(f)}
		if i == 0 {
			frame.SessionID, frame.Index = id, index
		}
		if err := stream.Send(frame); err != nil {
			break
		}
	}
	return stream.CloseAndRecv()
}

func newSession(name string, total int) *CreateSessionRequest {
	return &CreateSessionRequest{FileName: name, TotalChunks: &total, DeclaredSize: lo.ToPtr[int64](0)}
}

func TestTransferService_CreateSessionRequiresCounts(t *testing.T) {
	c := dial(t, newTransfer(t, services.Limits{MaxTotalChunks: 10}), nil)
	ctx := context.Background()

	_, err := c.CreateSession(ctx, &CreateSessionRequest{FileName: "a.txt", DeclaredSize: lo.ToPtr[int64](3)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "totalChunks")

	_, err = c.CreateSession(ctx, &CreateSessionRequest{FileName: "a.txt", TotalChunks: lo.ToPtr(1)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	created, err := c.CreateSession(ctx, &CreateSessionRequest{FileName: "empty.txt", TotalChunks: lo.ToPtr(0), DeclaredSize: lo.ToPtr[int64](0)})
	require.NoError(t, err)
	assert.NotEmpty(t, created.SessionID)
}

func readDownload(t *testing.T, stream grpc.ServerStreamingClient[DownloadFrame]) (*DownloadFrame, []byte, error) {
	t.Helper()
	head, err := stream.Recv()
	if err != nil {
		return nil, nil, err
	}
	var body bytes.Buffer
	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return head, body.Bytes(), nil
		}
		if err != nil {
			return head, body.Bytes(), err
		}
		body.Write(f.Data)
	}
}

func TestTransferService_RoundTrip(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := dial(t, newTransfer(t, services.Limits{MaxTotalChunks: 10}), metrics.New(reg))
	ctx := context.Background()

	created, err := c.CreateSession(ctx, newSession("notes.txt", 2))
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)

	rep, err := sendChunk(t, c, created.SessionID, 1, "wor", "ld")
	require.NoError(t, err)
	assert.Equal(t, UploadChunkReply{Index: 1, Bytes: 5}, *rep)
	_, err = sendChunk(t, c, created.SessionID, 0, "hello ")
	require.NoError(t, err)

	view, err := c.SessionStatus(ctx, &StatusRequest{SessionID: created.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 2, view.StagedChunks)
	assert.Empty(t, view.MissingChunks)

	fin, err := c.FinishSession(ctx, &FinishSessionRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, fin.Status)
	assert.EqualValues(t, 11, fin.Bytes)

	stream, err := c.DownloadArtifact(ctx, &DownloadRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)
	head, body, err := readDownload(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", head.FileName)
	assert.EqualValues(t, 11, head.Size)
	assert.Equal(t, "hello world", string(body))

	count, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, count)
}

func TestTransferService_LargeDownloadIsFramed(t *testing.T) {
	c := dial(t, newTransfer(t, services.Limits{MaxTotalChunks: 10}), nil)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, newSession("big.bin", 1))
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("0123456789"), downloadFrameSize/4)
	_, err = sendChunk(t, c, created.SessionID, 0, string(payload))
	require.NoError(t, err)
	_, err = c.FinishSession(ctx, &FinishSessionRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)

	stream, err := c.DownloadArtifact(ctx, &DownloadRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)
	_, body, err := readDownload(t, stream)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestTransferService_ErrorCodes(t *testing.T) {
	c := dial(t, newTransfer(t, services.Limits{MaxTotalChunks: 10, MaxChunkBytes: 4}), nil)
	ctx := context.Background()

	_, err := c.CreateSession(ctx, &CreateSessionRequest{TotalChunks: lo.ToPtr(1), DeclaredSize: lo.ToPtr[int64](0)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	created, err := c.CreateSession(ctx, newSession("a", 2))
	require.NoError(t, err)

	_, err = sendChunk(t, c, created.SessionID, 5, "x")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = sendChunk(t, c, created.SessionID, 0, "toolarge")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = sendChunk(t, c, "nope", 0, "x")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.FinishSession(ctx, &FinishSessionRequest{SessionID: created.SessionID, Password: "pw"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "missing chunk 0")

	_, err = c.SessionStatus(ctx, &StatusRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	stream, err := c.DownloadArtifact(ctx, &DownloadRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)
	_, _, err = readDownload(t, stream)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestTransferService_WrongPassword(t *testing.T) {
	c := dial(t, newTransfer(t, services.Limits{MaxTotalChunks: 10}), nil)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, newSession("a", 1))
	require.NoError(t, err)
	_, err = sendChunk(t, c, created.SessionID, 0, "x")
	require.NoError(t, err)
	_, err = c.FinishSession(ctx, &FinishSessionRequest{SessionID: created.SessionID, Password: "right"})
	require.NoError(t, err)

	stream, err := c.DownloadArtifact(ctx, &DownloadRequest{SessionID: created.SessionID, Password: "wrong"})
	require.NoError(t, err)
	_, _, err = readDownload(t, stream)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestTransferService_PasswordFromMetadata(t *testing.T) {
	c := dial(t, newTransfer(t, services.Limits{MaxTotalChunks: 10}), nil)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, newSession("a.txt", 1))
	require.NoError(t, err)
	_, err = sendChunk(t, c, created.SessionID, 0, "meta")
	require.NoError(t, err)
	_, err = c.FinishSession(ctx, &FinishSessionRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)

	mdCtx := metadata.AppendToOutgoingContext(ctx, common.PasswordHeaderName, "pw")
	stream, err := c.DownloadArtifact(mdCtx, &DownloadRequest{SessionID: created.SessionID})
	require.NoError(t, err)
	_, body, err := readDownload(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "meta", string(body))

	mdCtx = metadata.AppendToOutgoingContext(ctx, common.PasswordHeaderName, "nope")
	stream, err = c.DownloadArtifact(mdCtx, &DownloadRequest{SessionID: created.SessionID, Password: "pw"})
	require.NoError(t, err)
	_, _, err = readDownload(t, stream)
	require.NoError(t, err, "request field wins over metadata")
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{common.NewValidationError("f", "bad"), codes.InvalidArgument},
		{common.ErrChunkOutOfRange, codes.InvalidArgument},
		{common.ErrorNotFound, codes.NotFound},
		{common.ErrForbidden, codes.PermissionDenied},
		{&common.IncompleteUploadError{MissingIndex: 2}, codes.FailedPrecondition},
		{common.ErrAlreadyCompleted, codes.FailedPrecondition},
		{common.ErrSessionFailed, codes.FailedPrecondition},
		{common.ErrMergeInProgress, codes.Aborted},
		{common.ErrUploadInProgress, codes.Aborted},
		{common.ErrArtifactMissing, codes.Internal},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
	assert.Equal(t, "internal error", status.Convert(toStatus(errors.New("secret path"))).Message())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.Discard(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Discard(), nil, nil)
	require.Error(t, srv.Run(context.Background()))
}
