package grpc

import "github.com/dmitrijs2005/gophdrop/internal/server/models"

// CreateSessionRequest leaves TotalChunks and DeclaredSize nil when the
// caller omitted them; both are required.
type CreateSessionRequest struct {
	FileName     string `json:"fileName"`
	TotalChunks  *int   `json:"totalChunks,omitempty"`
	DeclaredSize *int64 `json:"size,omitempty"`
}

type CreateSessionReply struct {
	SessionID string `json:"fileId"`
}

// ChunkFrame is one message of an UploadChunk stream. SessionID and Index are
// read from the first frame only.
type ChunkFrame struct {
	SessionID string `json:"fileId,omitempty"`
	Index     int    `json:"chunkIndex"`
	Data      []byte `json:"data,omitempty"`
}

type UploadChunkReply struct {
	Index int   `json:"chunkIndex"`
	Bytes int64 `json:"bytes"`
}

type FinishSessionRequest struct {
	SessionID string `json:"fileId"`
	Password  string `json:"password"`
}

type FinishSessionReply struct {
	SessionID string        `json:"fileId"`
	Status    models.Status `json:"status"`
	Bytes     int64         `json:"bytes"`
}

type DownloadRequest struct {
	SessionID string `json:"fileId"`
	Password  string `json:"password"`
}

// DownloadFrame is one message of a DownloadArtifact stream. The first frame
// carries the metadata and no data.
type DownloadFrame struct {
	FileName    string `json:"fileName,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

type StatusRequest struct {
	SessionID string `json:"fileId"`
}
