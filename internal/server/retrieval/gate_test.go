package retrieval

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/cryptox"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var hasher = cryptox.NewHasher(cryptox.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 8, KeyLen: 16})

type gateFixture struct {
	repo  *sessions.InMemoryRepository
	store *blob.FSStore
	gate  *Gate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	store, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	repo := sessions.NewInMemoryRepository()
	return &gateFixture{repo: repo, store: store, gate: NewGate(repo, store, hasher, logging.Discard())}
}

func (f *gateFixture) session(t *testing.T, status models.Status, password, content string) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.repo.Create(ctx, models.UploadSession{OriginalName: "../secret report.pdf", TotalChunks: 1})
	require.NoError(t, err)
	if status == models.StatusPending {
		return id
	}

	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	patch := models.SessionPatch{Status: &status, PasswordHash: &hash}
	if status == models.StatusCompleted {
		ref := models.ArtifactKey(id, "x.pdf")
		patch.FinalArtifactRef = &ref
		_, err := f.store.Put(ctx, ref, strings.NewReader(content), int64(len(content)))
		require.NoError(t, err)
	}
	require.NoError(t, f.repo.Update(ctx, id, patch))
	return id
}

func TestFetch_Success(t *testing.T) {
	f := newGateFixture(t)
	id := f.session(t, models.StatusCompleted, "pw", "ciphertext")

	a, err := f.gate.Fetch(context.Background(), id, "pw")
	require.NoError(t, err)
	defer a.Body.Close()

	b, err := io.ReadAll(a.Body)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(b))
	assert.EqualValues(t, 10, a.Size)
	assert.Equal(t, "secret report.pdf", a.DisplayName)
}

func TestFetch_NotCompletedIsNotFoundRegardlessOfPassword(t *testing.T) {
	f := newGateFixture(t)
	pending := f.session(t, models.StatusPending, "", "")
	failed := f.session(t, models.StatusFailed, "pw", "")

	for _, id := range []string{pending, failed} {
		for _, pw := range []string{"pw", "wrong", ""} {
			_, err := f.gate.Fetch(context.Background(), id, pw)
			assert.ErrorIs(t, err, common.ErrorNotFound)
		}
	}

	_, err := f.gate.Fetch(context.Background(), "never-existed", "pw")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFetch_WrongPasswordIsForbidden(t *testing.T) {
	f := newGateFixture(t)
	id := f.session(t, models.StatusCompleted, "pw", "data")

	a, err := f.gate.Fetch(context.Background(), id, "PW")
	assert.ErrorIs(t, err, common.ErrForbidden)
	assert.Nil(t, a)
}

func TestFetch_ArtifactMissing(t *testing.T) {
	f := newGateFixture(t)
	id := f.session(t, models.StatusCompleted, "pw", "data")
	require.NoError(t, f.store.Delete(context.Background(), models.ArtifactKey(id, "x.pdf")))

	_, err := f.gate.Fetch(context.Background(), id, "pw")
	assert.ErrorIs(t, err, common.ErrArtifactMissing)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestFetch_EmptyArtifact(t *testing.T) {
	f := newGateFixture(t)
	id := f.session(t, models.StatusCompleted, "pw", "")

	a, err := f.gate.Fetch(context.Background(), id, "pw")
	require.NoError(t, err)
	defer a.Body.Close()
	assert.EqualValues(t, 0, a.Size)
}

func TestFetch_RepositoryErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	store, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	gate := NewGate(repo, store, hasher, logging.Discard())

	repo.EXPECT().Get(gomock.Any(), "id").Return(nil, errors.New("connection reset"))
	_, err = gate.Fetch(context.Background(), "id", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)

	repo.EXPECT().Get(gomock.Any(), "id").Return(&models.UploadSession{
		ID: "id", Status: models.StatusCompleted, PasswordHash: "cleartext",
	}, nil)
	_, err = gate.Fetch(context.Background(), "id", "cleartext")
	assert.ErrorIs(t, err, cryptox.ErrInvalidHash)

	hash, err := hasher.Hash("pw")
	require.NoError(t, err)
	repo.EXPECT().Get(gomock.Any(), "id").Return(&models.UploadSession{
		ID: "id", Status: models.StatusCompleted, PasswordHash: hash,
	}, nil)
	_, err = gate.Fetch(context.Background(), "id", "pw")
	assert.ErrorIs(t, err, common.ErrArtifactMissing)
}
