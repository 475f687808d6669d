package cache

import (
	"context"
	"fmt"
	"time"
)

// Store is a byte-oriented TTL cache.
// Implemented by memory cache (dev) and Redis cache (prod).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CompletionKey identifies a cached completion result.
// Hash is sha256 of the provider plus the normalized request.
type CompletionKey struct {
	Provider  string
	VersionID string
	Hash      string
}

// String converts the structured key into the final string used in Redis/map.
func (k CompletionKey) String() string {
	// completion:<PROVIDER>:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("completion:%s:%s:%s", k.Provider, k.VersionID, k.Hash)
}
