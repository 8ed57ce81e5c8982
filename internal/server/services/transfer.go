// Package services contains server-side business logic. TransferService
// ties the session store, chunk staging, the merge engine and the retrieval
// gate together behind the operations the transports expose.
package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/actionlog"
	"github.com/dmitrijs2005/gophdrop/internal/server/merge"
	"github.com/dmitrijs2005/gophdrop/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophdrop/internal/server/retrieval"
	"github.com/dmitrijs2005/gophdrop/internal/server/staging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const sniffLen = 512

// PasswordHasher turns a clear password into its stored form.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// CreateSessionRequest uses pointers so an absent count or size is told
// apart from an explicit zero.
type CreateSessionRequest struct {
	FileName     string `json:"fileName" validate:"required,max=1024"`
	TotalChunks  *int   `json:"totalChunks" validate:"required,gte=0"`
	DeclaredSize *int64 `json:"size" validate:"required,gte=0"`
}

type FinishSessionRequest struct {
	SessionID string `json:"fileId" validate:"required,max=128"`
	Password  string `json:"password" validate:"required,max=1024"`
}

type FinishResult struct {
	SessionID string
	Status    models.Status
	Bytes     int64
}

// Download is an open artifact ready to stream. The caller closes Body.
type Download struct {
	Body        io.ReadCloser
	Size        int64
	FileName    string
	ContentType string
}

// StatusView is the public view of a session; it never carries the password
// hash or the storage location.
type StatusView struct {
	SessionID     string        `json:"fileId"`
	FileName      string        `json:"fileName"`
	Status        models.Status `json:"status"`
	TotalChunks   int           `json:"totalChunks"`
	DeclaredSize  int64         `json:"size"`
	StagedChunks  int           `json:"stagedChunks"`
	MissingChunks []int         `json:"missingChunks"`
	Merging       bool          `json:"merging"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Limits struct {
	MaxChunkBytes  int64
	MaxTotalChunks int
}

type TransferService struct {
	repo     sessions.Repository
	stager   *staging.Stager
	engine   *merge.Engine
	gate     *retrieval.Gate
	hasher   PasswordHasher
	validate *validator.Validate
	limits   Limits
	sink     actionlog.Sink
	metrics  *metrics.Metrics
	logger   logging.Logger
}

type Deps struct {
	Repo    sessions.Repository
	Stager  *staging.Stager
	Engine  *merge.Engine
	Gate    *retrieval.Gate
	Hasher  PasswordHasher
	Limits  Limits
	Sink    actionlog.Sink
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

func NewTransferService(d Deps) *TransferService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &TransferService{
		repo:     d.Repo,
		stager:   d.Stager,
		engine:   d.Engine,
		gate:     d.Gate,
		hasher:   d.Hasher,
		validate: v,
		limits:   d.Limits,
		sink:     lo.Ternary[actionlog.Sink](d.Sink != nil, d.Sink, actionlog.NopSink{}),
		metrics:  d.Metrics,
		logger:   d.Logger.With("module", "transfer"),
	}
}

func (s *TransferService) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return common.NewValidationError(fe.Field(), describeTag(fe))
	}
	return common.NewValidationError("", err.Error())
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	default:
		return "failed " + fe.Tag()
	}
}

// CreateSession registers a new Pending session and returns its id.
func (s *TransferService) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	if err := s.check(req); err != nil {
		return "", err
	}
	total, declared := *req.TotalChunks, *req.DeclaredSize
	if s.limits.MaxTotalChunks > 0 && total > s.limits.MaxTotalChunks {
		return "", common.NewValidationError("totalChunks", fmt.Sprintf("must be <= %d", s.limits.MaxTotalChunks))
	}

	id, err := s.repo.Create(ctx, models.UploadSession{
		OriginalName: req.FileName,
		TotalChunks:  total,
		DeclaredSize: declared,
		Status:       models.StatusPending,
	})
	if err != nil {
		s.sink.Record(ctx, actionlog.Event{
			Kind:    actionlog.UploadStarted,
			Message: fmt.Sprintf("starting upload for %s", models.SanitizeFileName(req.FileName)),
			Err:     err,
		})
		return "", fmt.Errorf("create session: %w", err)
	}

	s.metrics.SessionCreated()
	s.logger.Info(ctx, "session created", "session_id", id, "total_chunks", total, "declared", declared)
	s.sink.Record(ctx, actionlog.Event{
		Kind:      actionlog.UploadStarted,
		SessionID: id,
		Message:   fmt.Sprintf("Upload started for %s with ID: %s", models.SanitizeFileName(req.FileName), id),
	})
	return id, nil
}

// UploadChunk stages one chunk. Re-uploading an index replaces it. size may
// be blob.UnknownSize.
//
// The session is held for the whole write, so a merge cannot start while
// the chunk is in flight and the status check below cannot go stale.
func (s *TransferService) UploadChunk(ctx context.Context, sessionID string, index int, r io.Reader, size int64) (int64, error) {
	release, err := s.engine.HoldUpload(sessionID)
	if err != nil {
		return 0, err
	}
	defer release()

	sess, err := s.pendingSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if err := staging.CheckIndex(index, sess.TotalChunks); err != nil {
		return 0, err
	}
	if limit := s.limits.MaxChunkBytes; limit > 0 {
		if size > limit {
			return 0, chunkTooLarge(limit)
		}
		r = &maxBytesReader{r: r, limit: limit}
	}

	n, err := s.stager.Put(ctx, sessionID, index, sess.TotalChunks, r, size)
	if err != nil {
		var tooLarge *common.ValidationError
		if errors.As(err, &tooLarge) {
			return 0, tooLarge
		}
		return 0, fmt.Errorf("upload chunk: %w", err)
	}

	s.metrics.ChunkStaged(n)
	s.logger.Debug(ctx, "chunk staged", "session_id", sessionID, "chunk_index", index, "bytes", n)
	s.sink.Record(ctx, actionlog.Event{
		Kind:      actionlog.ChunkReceived,
		SessionID: sessionID,
		Message:   fmt.Sprintf("Received chunk %d for file ID: %s", index, sessionID),
	})
	return n, nil
}

func (s *TransferService) pendingSession(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	switch sess.Status {
	case models.StatusPending:
	case models.StatusCompleted:
		return nil, common.ErrAlreadyCompleted
	case models.StatusFailed:
		return nil, common.ErrSessionFailed
	default:
		return nil, fmt.Errorf("session %s has unknown status %d", sessionID, sess.Status)
	}
	return sess, nil
}

// FinishSession stores the password and runs the merge.
func (s *TransferService) FinishSession(ctx context.Context, req FinishSessionRequest) (*FinishResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	res, err := s.engine.Merge(ctx, req.SessionID, hash)
	if err != nil {
		return nil, err
	}
	return &FinishResult{SessionID: res.SessionID, Status: models.StatusCompleted, Bytes: res.Bytes}, nil
}

// DownloadArtifact releases a completed artifact when password matches.
func (s *TransferService) DownloadArtifact(ctx context.Context, sessionID, password string) (*Download, error) {
	a, err := s.gate.Fetch(ctx, sessionID, password)
	if err != nil {
		s.metrics.Download(downloadOutcome(err), 0)
		s.sink.Record(ctx, actionlog.Event{
			Kind:      actionlog.DownloadRejected,
			SessionID: sessionID,
			Message:   fmt.Sprintf("during download for ID %s", sessionID),
			Err:       err,
		})
		return nil, err
	}

	body, ctype, err := detectContentType(a.Body, a.DisplayName)
	if err != nil {
		_ = a.Body.Close()
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	s.metrics.Download(metrics.OutcomeOK, a.Size)
	s.sink.Record(ctx, actionlog.Event{
		Kind:      actionlog.DownloadServed,
		SessionID: sessionID,
		Message:   fmt.Sprintf("Successful download for file: %s", a.DisplayName),
	})
	return &Download{Body: body, Size: a.Size, FileName: a.DisplayName, ContentType: ctype}, nil
}

// SessionStatus reports progress, including which indices still need
// uploading.
func (s *TransferService) SessionStatus(ctx context.Context, sessionID string) (*StatusView, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	view := &StatusView{
		SessionID:     sess.ID,
		FileName:      models.SanitizeFileName(sess.OriginalName),
		Status:        sess.Status,
		TotalChunks:   sess.TotalChunks,
		DeclaredSize:  sess.DeclaredSize,
		MissingChunks: []int{},
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
	}
	if sess.Status != models.StatusPending {
		return view, nil
	}

	staged, err := s.stager.Staged(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list staged chunks: %w", err)
	}
	staged = lo.Filter(staged, func(i int, _ int) bool { return i < sess.TotalChunks })
	view.StagedChunks = len(staged)
	view.MissingChunks, _ = lo.Difference(lo.Range(sess.TotalChunks), staged)
	view.Merging = s.engine.Busy(sess.ID)
	return view, nil
}

func detectContentType(body io.ReadCloser, name string) (io.ReadCloser, string, error) {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return body, ct, nil
	}
	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", err
	}
	ctype := mimetype.Detect(head).String()
	return struct {
		io.Reader
		io.Closer
	}{br, body}, ctype, nil
}

func downloadOutcome(err error) string {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, common.ErrForbidden):
		return metrics.OutcomeForbidden
	default:
		return metrics.OutcomeError
	}
}

func chunkTooLarge(limit int64) error {
	return common.NewValidationError("chunk", fmt.Sprintf("exceeds %d bytes", limit))
}

// maxBytesReader fails the read that would exceed limit.
type maxBytesReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (m *maxBytesReader) Read(p []byte) (int, error) {
	if m.read > m.limit {
		return 0, chunkTooLarge(m.limit)
	}
	if rem := m.limit - m.read + 1; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := m.r.Read(p)
	m.read += int64(n)
	if m.read > m.limit {
		return 0, chunkTooLarge(m.limit)
	}
	return n, err
}
