package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
)

const (
	sessionKeyPrefix = "session:"
	artifactRefIndex = "artifact:"
)

// BadgerRepository stores sessions as JSON documents in an embedded badger
// database. A secondary "artifact:<ref>" key enforces the uniqueness of
// final artifact references.
type BadgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open error: %w", err)
	}
	return db, nil
}

func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db, now: time.Now}
}

func sessionKey(id string) []byte { return []byte(sessionKeyPrefix + id) }
func refKey(ref string) []byte   { return []byte(artifactRefIndex + ref) }

func (r *BadgerRepository) Create(ctx context.Context, s models.UploadSession) (string, error) {
	prepareNew(&s, r.now().UTC())

	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(s.ID)); err == nil {
			return common.NewValidationError("id", "already exists")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if s.FinalArtifactRef != "" {
			if err := claimRef(txn, s.FinalArtifactRef, s.ID); err != nil {
				return err
			}
		}
		return putSession(txn, &s)
	})
	if err != nil {
		return "", wrapBadgerErr(err)
	}
	return s.ID, nil
}

func (r *BadgerRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	var s *models.UploadSession
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = getSession(txn, id)
		return err
	})
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return s, nil
}

func (r *BadgerRepository) Update(ctx context.Context, id string, patch models.SessionPatch) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		s, err := getSession(txn, id)
		if err != nil {
			return err
		}
		if s.Status == models.StatusCompleted {
			return common.ErrAlreadyCompleted
		}

		oldRef := s.FinalArtifactRef
		patch.Apply(s, r.now().UTC())

		if oldRef != s.FinalArtifactRef {
			if s.FinalArtifactRef != "" {
				if err := claimRef(txn, s.FinalArtifactRef, id); err != nil {
					return err
				}
			}
			if oldRef != "" {
				if err := txn.Delete(refKey(oldRef)); err != nil {
					return err
				}
			}
		}
		return putSession(txn, s)
	})
	return wrapBadgerErr(err)
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func getSession(txn *badger.Txn, id string) (*models.UploadSession, error) {
	item, err := txn.Get(sessionKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var s models.UploadSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt session record %s: %w", id, err)
	}
	return &s, nil
}

func putSession(txn *badger.Txn, s *models.UploadSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(sessionKey(s.ID), raw)
}

func claimRef(txn *badger.Txn, ref, id string) error {
	item, err := txn.Get(refKey(ref))
	switch {
	case err == nil:
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) != id {
			return common.ErrArtifactRefConflict
		}
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return txn.Set(refKey(ref), []byte(id))
	default:
		return err
	}
}

func wrapBadgerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrArtifactRefConflict) ||
		errors.Is(err, common.ErrorValidation) || errors.Is(err, common.ErrAlreadyCompleted) {
		return err
	}
	return fmt.Errorf("badger error: %w", err)
}
