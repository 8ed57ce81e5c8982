// Package actionlog records user-visible transfer events (upload started,
// chunk received, merge finished, download served) to an append-only sink.
// It is separate from diagnostic logging.
package actionlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/logging"
)

type Kind string

const (
	UploadStarted    Kind = "upload_started"
	ChunkReceived    Kind = "chunk_received"
	UploadCompleted  Kind = "upload_completed"
	UploadFailed     Kind = "upload_failed"
	SizeMismatch     Kind = "size_mismatch"
	DownloadServed   Kind = "download_served"
	DownloadRejected Kind = "download_rejected"
)

type Event struct {
	Kind      Kind
	SessionID string
	Message   string
	Err       error
}

// Line renders the event as it appears in the file log.
func (e Event) Line() string {
	if e.Err != nil {
		return fmt.Sprintf("ERROR %s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Sink receives events. Implementations must not fail the caller; errors are
// reported on the side.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

// SlogSink forwards events to a Logger.
type SlogSink struct {
	logger logging.Logger
}

func NewSlogSink(l logging.Logger) *SlogSink {
	return &SlogSink{logger: l.With("module", "actionlog")}
}

func (s *SlogSink) Record(ctx context.Context, e Event) {
	args := []any{"kind", string(e.Kind), "session_id", e.SessionID}
	if e.Err != nil {
		s.logger.Warn(ctx, e.Message, append(args, "error", e.Err)...)
		return
	}
	s.logger.Info(ctx, e.Message, args...)
}

// FileSink appends "<ISO-8601 timestamp> - <message>" lines.
type FileSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
	logger logging.Logger
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string, l logging.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	s := NewWriterSink(f, l)
	s.closer = f
	return s, nil
}

func NewWriterSink(w io.Writer, l logging.Logger) *FileSink {
	return &FileSink{w: w, now: time.Now, logger: l.With("module", "actionlog")}
}

func (s *FileSink) Record(ctx context.Context, e Event) {
	line := fmt.Sprintf("%s - %s\n", s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"), e.Line())

	s.mu.Lock()
	_, err := io.WriteString(s.w, line)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error(ctx, "failed to write action log", "error", err)
	}
}

func (s *FileSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}
