package preference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/cache"
	"brokerdesk/internal/completion"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("redis down") }

func newMemory(t *testing.T) *cache.MemoryStore {
	t.Helper()
	m := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestResolveDefaultsAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemory(t), completion.ProviderOpenAI, 0)

	assert.Equal(t, completion.ProviderOpenAI, s.Resolve(ctx, "seller-1"))

	require.NoError(t, s.Set(ctx, "seller-1", completion.ProviderDeepSeek))
	assert.Equal(t, completion.ProviderDeepSeek, s.Resolve(ctx, "seller-1"))
	assert.Equal(t, completion.ProviderOpenAI, s.Resolve(ctx, "seller-2"))

	require.NoError(t, s.Clear(ctx, "seller-1"))
	assert.Equal(t, completion.ProviderOpenAI, s.Resolve(ctx, "seller-1"))
}

func TestSetRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemory(t), completion.ProviderDeepSeek, time.Hour)

	assert.Error(t, s.Set(ctx, "", completion.ProviderOpenAI))
	assert.Error(t, s.Set(ctx, "u", completion.Provider("acme")))
	assert.Equal(t, completion.ProviderDeepSeek, s.Default())
}

func TestResolveIgnoresCorruptValue(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	require.NoError(t, m.Set(ctx, "pref:u", []byte("gibberish"), time.Hour))

	s := NewStore(m, completion.ProviderDeepSeek, time.Hour)
	assert.Equal(t, completion.ProviderDeepSeek, s.Resolve(ctx, "u"))
}

func TestResolveDegradesOnStoreFailure(t *testing.T) {
	s := NewStore(failingStore{}, completion.ProviderOpenAI, time.Hour)
	assert.Equal(t, completion.ProviderOpenAI, s.Resolve(context.Background(), "u"))
	assert.Error(t, s.Set(context.Background(), "u", completion.ProviderDeepSeek))
}
