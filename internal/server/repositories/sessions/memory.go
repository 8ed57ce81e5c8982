package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
)

// InMemoryRepository keeps sessions in a map. It is the default store for
// single-process deployments and tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]models.UploadSession
	refs     map[string]string // final artifact ref -> session id
	now      func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[string]models.UploadSession),
		refs:     make(map[string]string),
		now:      time.Now,
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, s models.UploadSession) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prepareNew(&s, r.now().UTC())
	if _, ok := r.sessions[s.ID]; ok {
		return "", common.NewValidationError("id", "already exists")
	}
	if s.FinalArtifactRef != "" {
		if _, taken := r.refs[s.FinalArtifactRef]; taken {
			return "", common.ErrArtifactRefConflict
		}
		r.refs[s.FinalArtifactRef] = s.ID
	}
	r.sessions[s.ID] = s
	return s.ID, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &s, nil
}

func (r *InMemoryRepository) Update(ctx context.Context, id string, patch models.SessionPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return common.ErrorNotFound
	}
	if s.Status == models.StatusCompleted {
		return common.ErrAlreadyCompleted
	}

	if patch.FinalArtifactRef != nil && *patch.FinalArtifactRef != "" {
		if owner, taken := r.refs[*patch.FinalArtifactRef]; taken && owner != id {
			return common.ErrArtifactRefConflict
		}
	}

	oldRef := s.FinalArtifactRef
	patch.Apply(&s, r.now().UTC())
	if oldRef != s.FinalArtifactRef {
		delete(r.refs, oldRef)
		if s.FinalArtifactRef != "" {
			r.refs[s.FinalArtifactRef] = id
		}
	}
	r.sessions[id] = s
	return nil
}

func (r *InMemoryRepository) Close() error { return nil }
