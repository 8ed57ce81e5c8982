// Package retrieval decides whether a completed artifact may be released and
// opens it for streaming.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
)

// PasswordVerifier checks a password against its stored hash.
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
}

// Artifact is an open final artifact. The caller closes Body.
type Artifact struct {
	Body        io.ReadCloser
	Size        int64
	DisplayName string
	Ref         string
}

type Gate struct {
	sessions  sessions.Repository
	artifacts blob.Store
	verifier  PasswordVerifier
	logger    logging.Logger
}

func NewGate(repo sessions.Repository, artifacts blob.Store, v PasswordVerifier, l logging.Logger) *Gate {
	return &Gate{sessions: repo, artifacts: artifacts, verifier: v, logger: l.With("module", "retrieval")}
}

// Fetch checks, in order: the session exists and is Completed (else
// common.ErrorNotFound, without saying which), the password matches (else
// common.ErrForbidden) and the artifact is present (else
// common.ErrArtifactMissing).
func (g *Gate) Fetch(ctx context.Context, sessionID, password string) (*Artifact, error) {
	s, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.Status != models.StatusCompleted {
		return nil, common.ErrorNotFound
	}

	ok, err := g.verifier.Verify(password, s.PasswordHash)
	if err != nil {
		g.logger.Error(ctx, "stored password hash unreadable", "session_id", s.ID, "error", err)
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, common.ErrForbidden
	}

	if s.FinalArtifactRef == "" {
		g.logger.Error(ctx, "completed session has no artifact reference", "session_id", s.ID)
		return nil, common.ErrArtifactMissing
	}
	info, err := g.artifacts.Stat(ctx, s.FinalArtifactRef)
	if err != nil {
		return nil, g.missing(ctx, s, err)
	}
	body, err := g.artifacts.Open(ctx, s.FinalArtifactRef)
	if err != nil {
		return nil, g.missing(ctx, s, err)
	}

	return &Artifact{
		Body:        body,
		Size:        info.Size,
		DisplayName: models.SanitizeFileName(s.OriginalName),
		Ref:         s.FinalArtifactRef,
	}, nil
}

func (g *Gate) missing(ctx context.Context, s *models.UploadSession, err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		g.logger.Error(ctx, "artifact missing from storage", "session_id", s.ID, "artifact", s.FinalArtifactRef)
		return common.ErrArtifactMissing
	}
	return fmt.Errorf("open artifact: %w", err)
}
