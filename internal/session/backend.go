package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist in a backend.
var ErrNotFound = errors.New("session not found")

// Backend is the durable side of the store. The in-memory map stays
// authoritative during a run; backends only need to survive restarts.
type Backend interface {
	Save(ctx context.Context, st *State) error
	Load(ctx context.Context, id string) (*State, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// BlobStore holds binary media payloads keyed by session and kind. Kinds
// follow "<sessionID>-<kind>" naming on the wire.
type BlobStore interface {
	SaveBlob(ctx context.Context, sessionID, kind string, data []byte) error
	LoadBlob(ctx context.Context, sessionID, kind string) ([]byte, error)
	DeleteBlobs(ctx context.Context, sessionID string) error
}
