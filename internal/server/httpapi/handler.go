// Package httpapi exposes the transfer operations over HTTP using gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"github.com/gin-gonic/gin"
)

// Transfer is the service surface the handlers need.
type Transfer interface {
	CreateSession(ctx context.Context, req services.CreateSessionRequest) (string, error)
	UploadChunk(ctx context.Context, sessionID string, index int, r io.Reader, size int64) (int64, error)
	FinishSession(ctx context.Context, req services.FinishSessionRequest) (*services.FinishResult, error)
	DownloadArtifact(ctx context.Context, sessionID, password string) (*services.Download, error)
	SessionStatus(ctx context.Context, sessionID string) (*services.StatusView, error)
}

// Handler wires HTTP routes to the transfer service.
type Handler struct {
	svc    Transfer
	logger logging.Logger
}

func NewHandler(svc Transfer, l logging.Logger) *Handler {
	return &Handler{svc: svc, logger: l.With("module", "http")}
}

// RegisterRoutes attaches the file routes to router.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	files := router.Group("/api/files")
	files.POST("/start-upload", h.startUpload)
	files.POST("/upload-chunk/:fileId", h.uploadChunk)
	files.POST("/finish-upload", h.finishUpload)
	files.GET("/download/:fileId", h.download)
	files.GET("/status/:fileId", h.status)
}

func (h *Handler) startUpload(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "Missing required fields."})
		return
	}
	id, err := h.svc.CreateSession(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"fileId": id})
}

// uploadChunk streams the "chunk" part of a multipart body into staging. The
// index comes from the "chunkIndex" query parameter or from a "chunkIndex"
// form field sent before the file part.
func (h *Handler) uploadChunk(c *gin.Context) {
	id := c.Param("fileId")

	mr, err := c.Request.MultipartReader()
	if err != nil {
		h.writeError(c, common.NewValidationError("body", "must be multipart/form-data"))
		return
	}

	indexText, hasIndex := c.GetQuery("chunkIndex")
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			h.writeError(c, common.NewValidationError("chunk", "is required"))
			return
		}
		if err != nil {
			h.writeError(c, common.NewValidationError("body", "malformed multipart"))
			return
		}

		switch part.FormName() {
		case "chunkIndex":
			b, err := io.ReadAll(io.LimitReader(part, 32))
			_ = part.Close()
			if err != nil {
				h.writeError(c, common.NewValidationError("chunkIndex", "unreadable"))
				return
			}
			indexText, hasIndex = strings.TrimSpace(string(b)), true
		case "chunk":
			h.stagePart(c, id, indexText, hasIndex, part)
			return
		default:
			_ = part.Close()
		}
	}
}

func (h *Handler) stagePart(c *gin.Context, id, indexText string, hasIndex bool, part *multipart.Part) {
	defer part.Close()
	if !hasIndex {
		h.writeError(c, common.NewValidationError("chunkIndex", "is required before the chunk part"))
		return
	}
	index, err := strconv.Atoi(indexText)
	if err != nil {
		h.writeError(c, common.NewValidationError("chunkIndex", "must be an integer"))
		return
	}

	if _, err := h.svc.UploadChunk(c.Request.Context(), id, index, part, blob.UnknownSize); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Chunk %d uploaded successfully.", index)})
}

func (h *Handler) finishUpload(c *gin.Context) {
	var req services.FinishSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "File ID and password are required."})
		return
	}
	res, err := h.svc.FinishSession(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "File uploaded and merged successfully!",
		"fileId":  res.SessionID,
		"status":  res.Status,
	})
}

func (h *Handler) download(c *gin.Context) {
	dl, err := h.svc.DownloadArtifact(c.Request.Context(), c.Param("fileId"), c.Query("password"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer dl.Body.Close()

	c.DataFromReader(http.StatusOK, dl.Size, dl.ContentType, dl.Body, map[string]string{
		"Content-Disposition": contentDisposition(dl.FileName),
	})
}

func (h *Handler) status(c *gin.Context) {
	view, err := h.svc.SessionStatus(c.Request.Context(), c.Param("fileId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// contentDisposition renders an attachment header with an ASCII fallback name
// and an RFC 5987 encoded original.
func contentDisposition(name string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	v := fmt.Sprintf("attachment; filename=%q", fallback)
	if fallback != name {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}
