// Package blob is a flat key to blob store used for staged chunks and final
// artifacts. Keys are slash separated relative paths; backends map them onto a
// directory tree or an S3 bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
)

// UnknownSize tells Put that the length of the reader is not known up front.
const UnknownSize int64 = -1

// Info describes a stored blob.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is implemented by FSStore and S3Store.
//
// Put replaces any existing blob under key; readers never observe a partially
// written blob. Open and Stat return an error matching common.ErrorNotFound
// for missing keys. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Info, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if key == "" {
		return common.NewValidationError("key", "is empty")
	}
	if strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return common.NewValidationError("key", fmt.Sprintf("%q is not a relative path", key))
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return common.NewValidationError("key", fmt.Sprintf("%q has an invalid segment", key))
		}
	}
	return nil
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return common.NewValidationError("prefix", "is empty")
	}
	return ValidateKey(strings.TrimSuffix(prefix, "/"))
}

const copyBufferSize = 256 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// Copy is io.CopyBuffer with a pooled buffer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	bp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bp)
	return io.CopyBuffer(dst, src, *bp)
}
