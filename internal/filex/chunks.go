package filex

import (
	"errors"
	"io"
)

// Chunk is one fixed-size window of a file.
type Chunk struct {
	Index  int
	Offset int64
	Size   int64
}

// SplitChunks cuts size bytes into chunkSize windows; the last one may be
// shorter. An empty file has no chunks.
func SplitChunks(size, chunkSize int64) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if size < 0 {
		return nil, errors.New("size must not be negative")
	}
	n := int((size + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, n)
	for i := range chunks {
		off := int64(i) * chunkSize
		chunks[i] = Chunk{Index: i, Offset: off, Size: min(chunkSize, size-off)}
	}
	return chunks, nil
}

// Section returns a reader over c within r.
func (c Chunk) Section(r io.ReaderAt) *io.SectionReader {
	return io.NewSectionReader(r, c.Offset, c.Size)
}
