package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/filex"
	"github.com/dmitrijs2005/gophdrop/internal/xorstream"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize matches the browser client.
const DefaultChunkSize = common.DefaultChunkSize

type TransferOptions struct {
	ChunkSize   int64
	Parallelism int
	// Progress, if set, is called after each chunk is accepted. It may be
	// called from several goroutines.
	Progress func(index, total int)
}

func (o TransferOptions) withDefaults() TransferOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	return o
}

// UploadFile sends the file at path as a new session and finishes it with
// password. Each chunk is XORed with the password at its offset in the file,
// so the merged artifact is the transform of the whole file.
func (c *Client) UploadFile(ctx context.Context, path, password string, opts TransferOptions) (string, error) {
	if password == "" {
		return "", xorstream.ErrEmptyKey
	}
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	chunks, err := filex.SplitChunks(fi.Size(), opts.ChunkSize)
	if err != nil {
		return "", err
	}

	id, err := c.StartUpload(ctx, filepath.Base(path), len(chunks), fi.Size())
	if err != nil {
		return "", fmt.Errorf("start upload: %w", err)
	}
	if err := c.sendChunks(ctx, f, id, password, chunks, opts); err != nil {
		return id, err
	}
	if err := c.FinishUpload(ctx, id, password); err != nil {
		return id, fmt.Errorf("finish upload: %w", err)
	}
	return id, nil
}

// ResumeFile uploads the chunks the server is still missing for session id
// and finishes it. path and opts.ChunkSize must match the original upload.
func (c *Client) ResumeFile(ctx context.Context, id, path, password string, opts TransferOptions) error {
	if password == "" {
		return xorstream.ErrEmptyKey
	}
	opts = opts.withDefaults()

	st, err := c.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if st.Status != "pending" {
		return fmt.Errorf("session %s is %s", id, st.Status)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	chunks, err := filex.SplitChunks(fi.Size(), opts.ChunkSize)
	if err != nil {
		return err
	}
	if len(chunks) != st.TotalChunks {
		return fmt.Errorf("file splits into %d chunks, session expects %d", len(chunks), st.TotalChunks)
	}

	missing := make([]filex.Chunk, 0, len(st.MissingChunks))
	for _, i := range st.MissingChunks {
		if i >= 0 && i < len(chunks) {
			missing = append(missing, chunks[i])
		}
	}
	if err := c.sendChunks(ctx, f, id, password, missing, opts); err != nil {
		return err
	}
	if err := c.FinishUpload(ctx, id, password); err != nil {
		return fmt.Errorf("finish upload: %w", err)
	}
	return nil
}

func (c *Client) sendChunks(ctx context.Context, f io.ReaderAt, id, password string, chunks []filex.Chunk, opts TransferOptions) error {
	key := []byte(password)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for _, ch := range chunks {
		g.Go(func() error {
			r, err := xorstream.NewReader(ch.Section(f), key, ch.Offset)
			if err != nil {
				return err
			}
			if err := c.UploadChunk(ctx, id, ch.Index, r); err != nil {
				return fmt.Errorf("upload chunk %d: %w", ch.Index, err)
			}
			if opts.Progress != nil {
				opts.Progress(ch.Index, len(chunks))
			}
			return nil
		})
	}
	return g.Wait()
}

// DownloadFile fetches session id, reverses the transform and writes the
// result into dir under the server-provided name. An existing file of that
// name is replaced only once the download has fully succeeded.
func (c *Client) DownloadFile(ctx context.Context, id, password, dir string) (string, error) {
	if password == "" {
		return "", xorstream.ErrEmptyKey
	}
	dl, err := c.Download(ctx, id, password)
	if err != nil {
		return "", err
	}
	defer dl.Body.Close()

	name := filepath.Base(dl.FileName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = id
	}
	dst, err := filex.FreeName(dir, name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".gophdrop-*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	r, err := xorstream.NewReader(dl.Body, []byte(password), 0)
	if err != nil {
		_ = tmp.Close()
		return "", err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	if dl.Size >= 0 && n != dl.Size {
		return "", fmt.Errorf("short download: got %d of %d bytes", n, dl.Size)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

// IsRetryable reports whether re-issuing the failed call may succeed.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == "merge_in_progress" || apiErr.Code == "upload_in_progress" || apiErr.StatusCode >= 500
	}
	return errors.Is(err, ErrUnavailable)
}
