package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/cryptox"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/httpapi"
	"github.com/dmitrijs2005/gophdrop/internal/server/merge"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophdrop/internal/server/retrieval"
	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"github.com/dmitrijs2005/gophdrop/internal/server/staging"
	"github.com/dmitrijs2005/gophdrop/internal/xorstream"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	artifacts *blob.FSStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	repo := sessions.NewInMemoryRepository()
	hasher := cryptox.NewHasher(cryptox.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 8, KeyLen: 16})
	stager := staging.New(store)
	svc := services.NewTransferService(services.Deps{
		Repo:   repo,
		Stager: stager,
		Engine: merge.NewEngine(repo, stager, store, logging.Discard()),
		Gate:   retrieval.NewGate(repo, store, hasher, logging.Discard()),
		Hasher: hasher,
		Limits: services.Limits{MaxChunkBytes: 1 << 20, MaxTotalChunks: 1000},
		Logger: logging.Discard(),
	})
	router := httpapi.NewRouter(httpapi.NewHandler(svc, logging.Discard()), httpapi.RouterOptions{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, artifacts: store}
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestUploadDownload_RoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	data := randomBytes(t, 10_000)
	src := writeTemp(t, "photo.raw", data)

	var calls atomic.Int32
	id, err := c.UploadFile(ctx, src, "p4ss", TransferOptions{
		ChunkSize:   777,
		Parallelism: 5,
		Progress:    func(int, int) { calls.Add(1) },
	})
	require.NoError(t, err)
	assert.EqualValues(t, 13, calls.Load())

	// the stored artifact is the transform of the whole file
	rc, err := srv.artifacts.Open(ctx, "final/"+id+".raw")
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	want, err := xorstream.Bytes(data, []byte("p4ss"))
	require.NoError(t, err)
	assert.Equal(t, want, stored)

	dir := t.TempDir()
	path, err := c.DownloadFile(ctx, id, "p4ss", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photo.raw"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	again, err := c.DownloadFile(ctx, id, "p4ss", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photo (1).raw"), again, "earlier download is kept")
}

func TestUploadFile_Empty(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)

	id, err := c.UploadFile(context.Background(), writeTemp(t, "empty.txt", nil), "pw", TransferOptions{})
	require.NoError(t, err)

	path, err := c.DownloadFile(context.Background(), id, "pw", t.TempDir())
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDownloadFile_WrongPassword(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	id, err := c.UploadFile(ctx, writeTemp(t, "a.txt", []byte("secret")), "right", TransferOptions{})
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = c.DownloadFile(ctx, id, "wrong", dir)
	assert.ErrorIs(t, err, common.ErrForbidden)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)

	_, err = c.DownloadFile(ctx, id, "", dir)
	assert.ErrorIs(t, err, xorstream.ErrEmptyKey)
}

func TestResumeFile(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	data := randomBytes(t, 50)
	src := writeTemp(t, "doc.bin", data)
	opts := TransferOptions{ChunkSize: 10}

	// simulate an interrupted upload: only chunks 0 and 3 arrive
	id, err := c.StartUpload(ctx, "doc.bin", 5, int64(len(data)))
	require.NoError(t, err)
	for _, i := range []int{0, 3} {
		enc := make([]byte, 10)
		xorstream.Apply(enc, data[i*10:i*10+10], []byte("pw"), int64(i*10))
		require.NoError(t, c.UploadChunk(ctx, id, i, bytes.NewReader(enc)))
	}

	err = c.FinishUpload(ctx, id, "pw")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.MissingIndex)
	assert.Equal(t, 1, *apiErr.MissingIndex)
	assert.ErrorIs(t, err, common.ErrIncompleteUpload)

	st, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, st.MissingChunks)

	require.NoError(t, c.ResumeFile(ctx, id, src, "pw", opts))

	path, err := c.DownloadFile(ctx, id, "pw", t.TempDir())
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	err = c.ResumeFile(ctx, id, src, "pw", opts)
	assert.ErrorContains(t, err, "is completed")
}

func TestResumeFile_ChunkCountMismatch(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	id, err := c.StartUpload(ctx, "x", 3, 0)
	require.NoError(t, err)
	err = c.ResumeFile(ctx, id, writeTemp(t, "x", []byte("12345")), "pw", TransferOptions{ChunkSize: 10})
	assert.ErrorContains(t, err, "session expects 3")
}

func TestClient_ErrorsMapToSentinels(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.Status(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = c.StartUpload(ctx, "", 1, 0)
	assert.ErrorIs(t, err, common.ErrorValidation)

	err = c.UploadChunk(ctx, "missing", 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.False(t, IsRetryable(err))
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Status(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(url).Status(ctx, "x")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDownload_HeaderFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pw", r.URL.Query().Get("password"))
		w.Header().Set("Content-Disposition", `attachment; filename="r_sum_.pdf"; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`)
		_, _ = w.Write([]byte("x"))
	}))
	t.Cleanup(srv.Close)

	dl, err := New(srv.URL, WithHTTPClient(srv.Client())).Download(context.Background(), "id", "pw")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, "résumé.pdf", dl.FileName)
	assert.EqualValues(t, 1, dl.Size)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{StatusCode: http.StatusConflict, Code: "merge_in_progress"}))
	assert.True(t, IsRetryable(&APIError{StatusCode: http.StatusConflict, Code: "upload_in_progress"}))
	assert.True(t, IsRetryable(&APIError{StatusCode: http.StatusInternalServerError}))
	assert.False(t, IsRetryable(&APIError{StatusCode: http.StatusConflict, Code: "already_completed"}))
	assert.False(t, IsRetryable(errors.New("x")))
}
