// Package models defines server-side data models persisted by the session
// store.
package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an upload session. The zero value is not
// a valid status.
type Status int

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusFailed
)

// String returns the persisted spelling of s.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(v string) (Status, error) {
	switch v {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	default:
		return 0, fmt.Errorf("unknown upload status %q", v)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid upload status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UploadSession tracks one chunked file transfer from creation to completion.
//
// FinalArtifactRef is non-empty iff Status is StatusCompleted. PasswordHash is
// non-empty iff Status is not StatusPending.
type UploadSession struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	TotalChunks  int    `json:"total_chunks"`
	// DeclaredSize is what the client announced; it is advisory only.
	DeclaredSize     int64     `json:"declared_size"`
	Status           Status    `json:"status"`
	PasswordHash     string    `json:"password_hash,omitempty"`
	FinalArtifactRef string    `json:"final_artifact_ref,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SessionPatch is a partial update; nil fields are left untouched.
type SessionPatch struct {
	Status           *Status
	PasswordHash     *string
	FinalArtifactRef *string
}

// Apply copies the set fields of p into s and bumps UpdatedAt.
func (p SessionPatch) Apply(s *UploadSession, now time.Time) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.PasswordHash != nil {
		s.PasswordHash = *p.PasswordHash
	}
	if p.FinalArtifactRef != nil {
		s.FinalArtifactRef = *p.FinalArtifactRef
	}
	s.UpdatedAt = now
}

// Empty reports whether the patch would change nothing.
func (p SessionPatch) Empty() bool {
	return p.Status == nil && p.PasswordHash == nil && p.FinalArtifactRef == nil
}
