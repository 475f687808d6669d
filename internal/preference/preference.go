// Package preference keeps each user's chosen completion provider.
//
// The preference is resolved once per call by the HTTP layer and passed
// explicitly into the document service; nothing reads it implicitly.
package preference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"brokerdesk/internal/cache"
	"brokerdesk/internal/completion"
	"brokerdesk/pkg/logging/logging"
)

// DefaultTTL keeps a preference for 90 days after it was last set.
const DefaultTTL = 90 * 24 * time.Hour

type Store struct {
	cache    cache.Store
	fallback completion.Provider
	ttl      time.Duration
}

// NewStore returns a Store that resolves unknown or missing preferences to
// fallback.
func NewStore(c cache.Store, fallback completion.Provider, ttl time.Duration) *Store {
	if !fallback.Valid() {
		fallback = completion.ProviderOpenAI
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: c, fallback: fallback, ttl: ttl}
}

func key(userID string) string {
	return "pref:" + strings.TrimSpace(userID)
}

// Default is the provider used when a user has no preference.
func (s *Store) Default() completion.Provider { return s.fallback }

// Resolve returns the user's provider. Lookup failures degrade to the
// default provider; a preference must never block document generation.
func (s *Store) Resolve(ctx context.Context, userID string) completion.Provider {
	if strings.TrimSpace(userID) == "" {
		return s.fallback
	}

	raw, ok, err := s.cache.Get(ctx, key(userID))
	if err != nil {
		logging.L(ctx).Warn("preference lookup failed", zap.Error(err))
		return s.fallback
	}
	if !ok {
		return s.fallback
	}

	p, err := completion.ParseProvider(string(raw))
	if err != nil {
		logging.L(ctx).Warn("stored preference is invalid",
			zap.String("value", string(raw)),
			zap.Error(err),
		)
		return s.fallback
	}
	return p
}

// Set records the user's provider.
func (s *Store) Set(ctx context.Context, userID string, p completion.Provider) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("preference: user id is required")
	}
	if !p.Valid() {
		return fmt.Errorf("preference: unknown provider %q", p)
	}
	if err := s.cache.Set(ctx, key(userID), []byte(p), s.ttl); err != nil {
		return fmt.Errorf("preference: store: %w", err)
	}
	return nil
}

// Clear drops the user's preference so the default applies again.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.cache.Delete(ctx, key(userID)); err != nil {
		return fmt.Errorf("preference: clear: %w", err)
	}
	return nil
}
