package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore keeps media payloads (audio segments, cached frames) out of
// the relational row. Keys follow "<sessionID>-<kind>".
type RedisBlobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBlobStore connects to Redis and verifies the connection.
func NewRedisBlobStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisBlobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisBlobStore{client: client, ttl: ttl}, nil
}

func blobKey(sessionID, kind string) string {
	return fmt.Sprintf("%s-%s", sessionID, kind)
}

func (r *RedisBlobStore) SaveBlob(ctx context.Context, sessionID, kind string, data []byte) error {
	if err := r.client.Set(ctx, blobKey(sessionID, kind), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving blob %s: %w", blobKey(sessionID, kind), err)
	}
	if err := r.client.SAdd(ctx, sessionID+"-blobs", kind).Err(); err != nil {
		return fmt.Errorf("indexing blob %s: %w", blobKey(sessionID, kind), err)
	}
	return nil
}

func (r *RedisBlobStore) LoadBlob(ctx context.Context, sessionID, kind string) ([]byte, error) {
	data, err := r.client.Get(ctx, blobKey(sessionID, kind)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading blob %s: %w", blobKey(sessionID, kind), err)
	}
	return data, nil
}

func (r *RedisBlobStore) DeleteBlobs(ctx context.Context, sessionID string) error {
	kinds, err := r.client.SMembers(ctx, sessionID+"-blobs").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("listing blobs for %s: %w", sessionID, err)
	}
	keys := make([]string, 0, len(kinds)+1)
	for _, kind := range kinds {
		keys = append(keys, blobKey(sessionID, kind))
	}
	keys = append(keys, sessionID+"-blobs")
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting blobs for %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisBlobStore) Close() error { return r.client.Close() }
