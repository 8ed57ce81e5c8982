// Package xorstream implements the repeating-key XOR transform applied by
// clients before upload and after download. The transform is its own
// inverse. It offers no confidentiality worth the name.
//
// The Go client keys every chunk at its global file offset, so a stored
// artifact is the transform of the whole file. The browser client restarts
// the key at offset 0 in every chunk. The two agree only when the chunk size
// is a multiple of the key length; otherwise an artifact uploaded by one
// cannot be decoded by the other. Apply with offset 0 per chunk reproduces
// the browser behaviour.
package xorstream

import (
	"errors"
	"io"
)

var ErrEmptyKey = errors.New("xorstream: empty key")

// Apply writes src XOR key into dst, treating src as starting at byte
// offset of the logical stream, so that
// dst[i] = src[i] ^ key[(offset+i) % len(key)].
// dst and src may be the same slice. dst must be at least len(src) long.
func Apply(dst, src, key []byte, offset int64) {
	n := int64(len(key))
	k := int(offset % n)
	for i, b := range src {
		dst[i] = b ^ key[k]
		k++
		if k == len(key) {
			k = 0
		}
	}
}

// Bytes returns a transformed copy of data, keyed from stream offset 0.
func Bytes(data, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	out := make([]byte, len(data))
	Apply(out, data, key, 0)
	return out, nil
}

// Reader transforms everything read from the underlying reader.
type Reader struct {
	r      io.Reader
	key    []byte
	offset int64
}

// NewReader wraps r; offset is the logical stream position of r's first byte.
func NewReader(r io.Reader, key []byte, offset int64) (*Reader, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return &Reader{r: r, key: key, offset: offset}, nil
}

func (x *Reader) Read(p []byte) (int, error) {
	n, err := x.r.Read(p)
	if n > 0 {
		Apply(p[:n], p[:n], x.key, x.offset)
		x.offset += int64(n)
	}
	return n, err
}

// Writer transforms everything written before passing it on. It does not
// modify the caller's buffer.
type Writer struct {
	w      io.Writer
	key    []byte
	offset int64
	buf    []byte
}

func NewWriter(w io.Writer, key []byte, offset int64) (*Writer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return &Writer{w: w, key: key, offset: offset}, nil
}

func (x *Writer) Write(p []byte) (int, error) {
	if cap(x.buf) < len(p) {
		x.buf = make([]byte, len(p))
	}
	buf := x.buf[:len(p)]
	Apply(buf, p, x.key, x.offset)

	n, err := x.w.Write(buf)
	x.offset += int64(n)
	return n, err
}
