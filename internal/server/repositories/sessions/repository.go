//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// Package sessions is the session store: durable upload session records
// keyed by session id.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/google/uuid"
)

// Repository is the narrow CRUD surface the transfer core needs.
//
// Get returns common.ErrorNotFound for unknown ids. Update returns
// common.ErrorNotFound for unknown ids, common.ErrAlreadyCompleted once the
// session is Completed and common.ErrArtifactRefConflict when the patch sets a
// FinalArtifactRef already held by another session.
type Repository interface {
	Create(ctx context.Context, s models.UploadSession) (string, error)
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	Update(ctx context.Context, id string, patch models.SessionPatch) error
	Close() error
}

// prepareNew fills the fields a repository owns on creation.
func prepareNew(s *models.UploadSession, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == 0 {
		s.Status = models.StatusPending
	}
	s.CreatedAt = now
	s.UpdatedAt = now
}
