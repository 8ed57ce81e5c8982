// Package staging stores uploaded chunks per session until they are merged.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
)

const (
	rootPrefix  = "staging"
	chunkPrefix = "chunk_"
)

// Stager maps (sessionID, index) onto blob keys of the form
// staging/<sessionID>/chunk_<index>. Writes to distinct indices are
// independent; a write to one index is atomic with respect to readers.
type Stager struct {
	store blob.Store
}

func New(store blob.Store) *Stager {
	return &Stager{store: store}
}

// CheckIndex reports whether 0 <= index < total.
func CheckIndex(index, total int) error {
	if index < 0 || index >= total {
		return fmt.Errorf("chunk %d outside [0, %d): %w", index, total, common.ErrChunkOutOfRange)
	}
	return nil
}

func sessionPrefix(sessionID string) string {
	return rootPrefix + "/" + sessionID + "/"
}

func chunkKey(sessionID string, index int) string {
	return sessionPrefix(sessionID) + chunkPrefix + strconv.Itoa(index)
}

func checkSessionID(sessionID string) error {
	if sessionID == "" || strings.Contains(sessionID, "/") {
		return common.NewValidationError("sessionId", "is malformed")
	}
	return blob.ValidateKey(sessionID)
}

// Put stores the chunk bytes, replacing any earlier upload of the same index.
// size may be blob.UnknownSize.
func (s *Stager) Put(ctx context.Context, sessionID string, index, total int, r io.Reader, size int64) (int64, error) {
	if err := checkSessionID(sessionID); err != nil {
		return 0, err
	}
	if err := CheckIndex(index, total); err != nil {
		return 0, err
	}
	n, err := s.store.Put(ctx, chunkKey(sessionID, index), r, size)
	if err != nil {
		return 0, fmt.Errorf("stage chunk %d: %w", index, err)
	}
	return n, nil
}

func (s *Stager) Exists(ctx context.Context, sessionID string, index int) (bool, error) {
	if _, err := s.Stat(ctx, sessionID, index); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Stager) Stat(ctx context.Context, sessionID string, index int) (blob.Info, error) {
	if err := checkSessionID(sessionID); err != nil {
		return blob.Info{}, err
	}
	return s.store.Stat(ctx, chunkKey(sessionID, index))
}

func (s *Stager) Open(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.store.Open(ctx, chunkKey(sessionID, index))
}

func (s *Stager) Remove(ctx context.Context, sessionID string, index int) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	return s.store.Delete(ctx, chunkKey(sessionID, index))
}

// RemoveAll drops the session's staging area.
func (s *Stager) RemoveAll(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	return s.store.DeletePrefix(ctx, sessionPrefix(sessionID))
}

// Staged returns the indices currently staged for the session, ascending.
func (s *Stager) Staged(ctx context.Context, sessionID string) ([]int, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, sessionPrefix(sessionID))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		name := strings.TrimPrefix(it.Key, sessionPrefix(sessionID))
		if !strings.HasPrefix(name, chunkPrefix) {
			continue
		}
		i, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
		if err != nil || i < 0 {
			continue
		}
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}
