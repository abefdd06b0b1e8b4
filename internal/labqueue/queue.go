// Package labqueue defines the Queue entity: a named, password-protected
// container scoping tasks and workers.
package labqueue

import (
	"time"

	"github.com/infinity086/labtasker/internal/document"
	"golang.org/x/crypto/bcrypt"
)

// Queue is the top-level container guarded by a shared secret.
type Queue struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	PasswordHash string         `json:"-"`
	Metadata     document.Value `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	LastModified time.Time      `json:"last_modified"`
	Etag         uint64         `json:"etag"`
}

// New constructs a Queue with a bcrypt-hashed password.
func New(id, name, password string, metadata document.Value, now time.Time) (*Queue, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if metadata.IsNull() {
		metadata = document.Object(nil)
	}
	return &Queue{
		ID:           id,
		Name:         name,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
		LastModified: now,
		Etag:         1,
	}, nil
}

// HashPassword hashes a queue's shared secret with bcrypt.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches the queue's stored hash.
func (q *Queue) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(q.PasswordHash), []byte(password)) == nil
}

// Clone returns a copy safe to hand to a store backend.
func (q *Queue) Clone() *Queue {
	cp := *q
	return &cp
}
