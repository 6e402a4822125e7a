package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/store"
)

// mockDevStore implements store.DevStore for cache tests and counts
// database reads so hits and misses are observable.
type mockDevStore struct {
	devs  map[string]*model.Dev
	byID  map[int64]*model.Dev
	reads int
}

func newMockDevStore() *mockDevStore {
	return &mockDevStore{
		devs: make(map[string]*model.Dev),
		byID: make(map[int64]*model.Dev),
	}
}

func (m *mockDevStore) add(dev *model.Dev) {
	m.devs[dev.APIKey] = dev
	m.byID[dev.ID] = dev
}

func (m *mockDevStore) CreateDev(ctx context.Context, dev *model.Dev) error {
	m.add(dev)
	return nil
}

func (m *mockDevStore) GetDevByID(ctx context.Context, id int64) (*model.Dev, error) {
	dev, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dev, nil
}

func (m *mockDevStore) GetDevByAPIKey(ctx context.Context, apiKey string) (*model.Dev, error) {
	m.reads++
	dev, ok := m.devs[apiKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dev, nil
}

func (m *mockDevStore) GetDevByUserID(ctx context.Context, userID int64) (*model.Dev, error) {
	for _, dev := range m.devs {
		if dev.UserID == userID {
			return dev, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockDevStore) UpdateDevKeys(ctx context.Context, id int64, apiKey, secretKey, devUUID string) error {
	dev, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(m.devs, dev.APIKey)
	dev.APIKey = apiKey
	dev.SecretKey = secretKey
	dev.UUID = devUUID
	m.devs[apiKey] = dev
	return nil
}

func newTestCache(t *testing.T) (*CachedDevStore, *mockDevStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backing := newMockDevStore()
	cache := NewCachedDevStore(backing, client, observability.NewMetrics(prometheus.NewRegistry()))
	return cache, backing, mr
}

func TestCachedDevStore_ReadThrough(t *testing.T) {
	cache, backing, _ := newTestCache(t)
	ctx := context.Background()

	backing.add(&model.Dev{ID: 1, UserID: 2, APIKey: "key1", SecretKey: "sec1", UUID: "uuid1"})

	dev, err := cache.GetDevByAPIKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.ID)
	assert.Equal(t, 1, backing.reads)

	// Second read served from the local LRU, no database access.
	dev, err = cache.GetDevByAPIKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "sec1", dev.SecretKey)
	assert.Equal(t, 1, backing.reads)
}

func TestCachedDevStore_RedisFallback(t *testing.T) {
	cache, backing, _ := newTestCache(t)
	ctx := context.Background()

	backing.add(&model.Dev{ID: 1, UserID: 2, APIKey: "key1", SecretKey: "sec1", UUID: "uuid1"})

	_, err := cache.GetDevByAPIKey(ctx, "key1")
	require.NoError(t, err)

	// Drop the local entry; Redis should still answer without a db read.
	cache.local.Remove("key1")
	dev, err := cache.GetDevByAPIKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.ID)
	assert.Equal(t, 1, backing.reads)
}

func TestCachedDevStore_NotFoundPassesThrough(t *testing.T) {
	cache, _, _ := newTestCache(t)

	_, err := cache.GetDevByAPIKey(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCachedDevStore_RotationInvalidates(t *testing.T) {
	cache, backing, mr := newTestCache(t)
	ctx := context.Background()

	backing.add(&model.Dev{ID: 1, UserID: 2, APIKey: "oldkey", SecretKey: "sec1", UUID: "uuid1"})

	_, err := cache.GetDevByAPIKey(ctx, "oldkey")
	require.NoError(t, err)
	require.True(t, mr.Exists("dev:api_key:oldkey"))

	require.NoError(t, cache.UpdateDevKeys(ctx, 1, "newkey", "sec2", "uuid2"))

	// Old key no longer cached and no longer resolves.
	assert.False(t, mr.Exists("dev:api_key:oldkey"))
	_, err = cache.GetDevByAPIKey(ctx, "oldkey")
	assert.ErrorIs(t, err, store.ErrNotFound)

	dev, err := cache.GetDevByAPIKey(ctx, "newkey")
	require.NoError(t, err)
	assert.Equal(t, "sec2", dev.SecretKey)
}

func TestCachedDevStore_NoRedis(t *testing.T) {
	backing := newMockDevStore()
	cache := NewCachedDevStore(backing, nil, observability.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	backing.add(&model.Dev{ID: 1, UserID: 2, APIKey: "key1", SecretKey: "sec1", UUID: "uuid1"})

	dev, err := cache.GetDevByAPIKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.ID)

	_, err = cache.GetDevByAPIKey(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.reads)
}
