// Package client talks to the GophDrop HTTP API. Client wraps the individual
// endpoints; Uploader and Downloader build whole-file transfers on top of it
// with the keystream transform applied on the client side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Status mirrors the server's session status view.
type Status struct {
	SessionID     string    `json:"fileId"`
	FileName      string    `json:"fileName"`
	Status        string    `json:"status"`
	TotalChunks   int       `json:"totalChunks"`
	DeclaredSize  int64     `json:"size"`
	StagedChunks  int       `json:"stagedChunks"`
	MissingChunks []int     `json:"missingChunks"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Download is an open artifact body. The caller closes Body.
type Download struct {
	Body     io.ReadCloser
	FileName string
	Size     int64
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error        string `json:"error"`
		Message      string `json:"message"`
		MissingIndex *int   `json:"missingIndex"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &APIError{
		StatusCode:   resp.StatusCode,
		Code:         body.Error,
		Message:      body.Message,
		MissingIndex: body.MissingIndex,
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, nil), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// StartUpload creates a session and returns its id.
func (c *Client) StartUpload(ctx context.Context, fileName string, totalChunks int, size int64) (string, error) {
	var out struct {
		FileID string `json:"fileId"`
	}
	in := map[string]any{"fileName": fileName, "totalChunks": totalChunks, "size": size}
	if err := c.postJSON(ctx, "/api/files/start-upload", in, &out); err != nil {
		return "", err
	}
	if out.FileID == "" {
		return "", errors.New("server returned an empty file id")
	}
	return out.FileID, nil
}

// UploadChunk streams r as chunk index of session id. The body is produced
// while it is sent, so r is never buffered whole.
func (c *Client) UploadChunk(ctx context.Context, id string, index int, r io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeChunkBody(mw, index, r)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.url("/api/files/upload-chunk/"+url.PathEscape(id), nil), pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(req, nil)
	_ = pr.Close()
	return err
}

// writeChunkBody emits chunkIndex before the file part, the order the server
// needs to stream the part.
func writeChunkBody(mw *multipart.Writer, index int, r io.Reader) error {
	if err := mw.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("chunk", "blob")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// FinishUpload asks the server to merge the staged chunks.
func (c *Client) FinishUpload(ctx context.Context, id, password string) error {
	return c.postJSON(ctx, "/api/files/finish-upload", map[string]string{"fileId": id, "password": password}, nil)
}

func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/files/status/"+url.PathEscape(id), nil), nil)
	if err != nil {
		return nil, err
	}
	var out Status
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download opens the artifact of session id.
func (c *Client) Download(ctx context.Context, id, password string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.url("/api/files/download/"+url.PathEscape(id), url.Values{"password": {password}}), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return &Download{Body: resp.Body, FileName: name, Size: resp.ContentLength}, nil
}
