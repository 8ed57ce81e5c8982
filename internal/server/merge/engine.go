// Package merge concatenates a session's staged chunks, in index order, into
// its final artifact.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/actionlog"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophdrop/internal/server/staging"
	"github.com/samber/lo"
)

// Result describes a completed merge.
type Result struct {
	SessionID   string
	ArtifactRef string
	Bytes       int64
}

type Engine struct {
	sessions  sessions.Repository
	stager    *staging.Stager
	artifacts blob.Store
	locks     *LockTable
	sink      actionlog.Sink
	metrics   *metrics.Metrics
	logger    logging.Logger
}

type Option func(*Engine)

func WithActionLog(s actionlog.Sink) Option { return func(e *Engine) { e.sink = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func NewEngine(repo sessions.Repository, stager *staging.Stager, artifacts blob.Store, l logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		sessions:  repo,
		stager:    stager,
		artifacts: artifacts,
		locks:     NewLockTable(),
		sink:      actionlog.NopSink{},
		logger:    l.With("module", "merge"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Busy reports whether a merge for sessionID is running.
func (e *Engine) Busy(sessionID string) bool {
	return e.locks.Held(sessionID)
}

// HoldUpload reserves sessionID for a chunk write until release is called.
// While any hold is outstanding Merge refuses to start; while a merge runs
// HoldUpload fails with common.ErrMergeInProgress.
func (e *Engine) HoldUpload(sessionID string) (release func(), err error) {
	if !e.locks.TryRLock(sessionID) {
		return nil, common.ErrMergeInProgress
	}
	return func() { e.locks.RUnlock(sessionID) }, nil
}

// Merge builds the final artifact for sessionID and marks the session
// Completed, storing passwordHash in the same update.
//
// Only one merge per session runs at a time; a concurrent caller gets
// common.ErrMergeInProgress, a caller racing an in-flight chunk write gets
// common.ErrUploadInProgress and a caller arriving after success gets
// common.ErrAlreadyCompleted. A missing chunk yields
// *common.IncompleteUploadError and leaves staging and the session untouched.
// An I/O failure after chunks were consumed removes the partial artifact and
// marks the session Failed.
func (e *Engine) Merge(ctx context.Context, sessionID, passwordHash string) (Result, error) {
	if !e.locks.TryLock(sessionID) {
		if e.locks.Shared(sessionID) > 0 {
			return Result{}, common.ErrUploadInProgress
		}
		return Result{}, common.ErrMergeInProgress
	}
	defer e.locks.Unlock(sessionID)

	start := time.Now()
	done := e.metrics.MergeStarted()
	res, outcome, err := e.merge(ctx, sessionID, passwordHash)
	done(outcome, time.Since(start).Seconds(), res.Bytes)
	return res, err
}

func (e *Engine) merge(ctx context.Context, sessionID, passwordHash string) (Result, string, error) {
	log := e.logger.With("session_id", sessionID)

	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return Result{}, outcomeFor(err), fmt.Errorf("get session: %w", err)
	}
	switch s.Status {
	case models.StatusCompleted:
		return Result{}, metrics.OutcomeConflict, common.ErrAlreadyCompleted
	case models.StatusFailed:
		return Result{}, metrics.OutcomeConflict, common.ErrSessionFailed
	case models.StatusPending:
	default:
		return Result{}, metrics.OutcomeError, fmt.Errorf("session %s has unknown status %d", sessionID, s.Status)
	}

	total, err := e.checkStaged(ctx, s)
	if err != nil {
		var inc *common.IncompleteUploadError
		if errors.As(err, &inc) {
			log.Info(ctx, "merge refused, chunk missing", "missing_index", inc.MissingIndex, "total_chunks", s.TotalChunks)
			return Result{}, metrics.OutcomeIncomplete, err
		}
		return Result{}, metrics.OutcomeError, err
	}

	ref := models.ArtifactKey(s.ID, s.OriginalName)
	log.Debug(ctx, "merging", "total_chunks", s.TotalChunks, "bytes", total, "artifact", ref)

	written, consumed, err := e.stream(ctx, s, ref, total)
	if err != nil {
		e.abort(ctx, s, ref, passwordHash, consumed > 0, err)
		return Result{Bytes: written}, metrics.OutcomeError, fmt.Errorf("merge %s: %w", sessionID, err)
	}

	if s.DeclaredSize != written {
		log.Warn(ctx, "merged size differs from declared size", "declared", s.DeclaredSize, "bytes", written)
		e.sink.Record(ctx, actionlog.Event{
			Kind:      actionlog.SizeMismatch,
			SessionID: s.ID,
			Message:   fmt.Sprintf("Size mismatch for ID %s: declared %d, merged %d", s.ID, s.DeclaredSize, written),
		})
	}

	if err := e.stager.RemoveAll(ctx, s.ID); err != nil {
		log.Warn(ctx, "failed to remove staging area", "error", err)
	}

	err = e.sessions.Update(ctx, s.ID, models.SessionPatch{
		Status:           lo.ToPtr(models.StatusCompleted),
		PasswordHash:     lo.ToPtr(passwordHash),
		FinalArtifactRef: lo.ToPtr(ref),
	})
	if errors.Is(err, common.ErrAlreadyCompleted) {
		// another merge completed it first and owns the artifact now
		log.Warn(ctx, "session completed concurrently", "artifact", ref)
		return Result{}, metrics.OutcomeConflict, common.ErrAlreadyCompleted
	}
	if err != nil {
		e.abort(ctx, s, ref, passwordHash, true, err)
		return Result{Bytes: written}, outcomeFor(err), fmt.Errorf("complete session: %w", err)
	}

	log.Info(ctx, "merge completed", "bytes", written, "artifact", ref)
	e.sink.Record(ctx, actionlog.Event{
		Kind:      actionlog.UploadCompleted,
		SessionID: s.ID,
		Message:   fmt.Sprintf("File merged and completed for ID: %s", s.ID),
	})
	return Result{SessionID: s.ID, ArtifactRef: ref, Bytes: written}, metrics.OutcomeOK, nil
}

// checkStaged verifies every index is present, in order, and returns the
// total byte count.
func (e *Engine) checkStaged(ctx context.Context, s *models.UploadSession) (int64, error) {
	var total int64
	for i := 0; i < s.TotalChunks; i++ {
		info, err := e.stager.Stat(ctx, s.ID, i)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return 0, &common.IncompleteUploadError{MissingIndex: i}
			}
			return 0, fmt.Errorf("stat chunk %d: %w", i, err)
		}
		total += info.Size
	}
	return total, nil
}

// stream copies chunk 0..N-1 through a pipe into the artifact store and
// deletes each chunk once it has been copied. It returns the bytes written
// and the number of chunks already released.
func (e *Engine) stream(ctx context.Context, s *models.UploadSession, ref string, total int64) (int64, int64, error) {
	pr, pw := io.Pipe()
	var consumed atomic.Int64
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for i := 0; i < s.TotalChunks; i++ {
			if err := ctx.Err(); err != nil {
				pw.CloseWithError(err)
				return
			}
			if err := e.copyChunk(ctx, pw, s.ID, i); err != nil {
				pw.CloseWithError(err)
				return
			}
			consumed.Add(1)
			if err := e.stager.Remove(ctx, s.ID, i); err != nil {
				e.logger.Warn(ctx, "failed to release chunk", "session_id", s.ID, "chunk_index", i, "error", err)
			}
		}
		pw.Close()
	}()

	n, err := e.artifacts.Put(ctx, ref, pr, total)
	if err != nil {
		pr.CloseWithError(err)
	}
	<-finished
	return n, consumed.Load(), err
}

func (e *Engine) copyChunk(ctx context.Context, w io.Writer, sessionID string, index int) error {
	rc, err := e.stager.Open(ctx, sessionID, index)
	if err != nil {
		return fmt.Errorf("open chunk %d: %w", index, err)
	}
	defer rc.Close()
	if _, err := blob.Copy(w, rc); err != nil {
		return fmt.Errorf("copy chunk %d: %w", index, err)
	}
	return nil
}

// abort removes a partial artifact and, when staged data was already lost,
// moves the session to Failed.
func (e *Engine) abort(ctx context.Context, s *models.UploadSession, ref, passwordHash string, lost bool, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With("session_id", s.ID)

	if err := e.artifacts.Delete(ctx, ref); err != nil {
		log.Error(ctx, "failed to delete partial artifact", "artifact", ref, "error", err)
	}
	log.Error(ctx, "merge failed", "error", cause, "chunks_lost", lost)

	if lost {
		err := e.sessions.Update(ctx, s.ID, models.SessionPatch{
			Status:       lo.ToPtr(models.StatusFailed),
			PasswordHash: lo.ToPtr(passwordHash),
		})
		if err != nil {
			log.Error(ctx, "failed to mark session failed", "error", err)
		}
	}
	e.sink.Record(ctx, actionlog.Event{
		Kind:      actionlog.UploadFailed,
		SessionID: s.ID,
		Message:   fmt.Sprintf("finishing upload for ID %s", s.ID),
		Err:       cause,
	})
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, common.ErrArtifactRefConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
