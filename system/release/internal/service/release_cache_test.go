package service

import (
	"context"
	"testing"
	"time"

	"deploymate/pkg/core/logger"
	"deploymate/system/release/internal/model"

	"github.com/go-redis/cache/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalCache() *cache.Cache {
	return cache.New(&cache.Options{LocalCache: cache.NewTinyLFU(100, time.Minute)})
}

func TestReleaseCache_OnlyTerminalReleasesCached(t *testing.T) {
	rc := NewReleaseCache(newLocalCache(), time.Minute, logger.Discard())
	status := model.ReleaseStatusProcessing
	loads := 0
	load := func(ctx context.Context, id string) (*model.Release, error) {
		loads++
		r := &model.Release{Status: status, Version: "1.0.0"}
		r.ID = id
		return r, nil
	}

	_, err := rc.Get(context.Background(), "rel_1", load)
	require.NoError(t, err)
	_, err = rc.Get(context.Background(), "rel_1", load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	status = model.ReleaseStatusReady
	first, err := rc.Get(context.Background(), "rel_1", load)
	require.NoError(t, err)
	second, err := rc.Get(context.Background(), "rel_1", load)
	require.NoError(t, err)

	assert.Equal(t, 3, loads)
	assert.Equal(t, model.ReleaseStatusReady, second.Status)
	assert.Equal(t, first.ID, second.ID)
}

func TestReleaseCache_NilPassesThrough(t *testing.T) {
	rc := NewReleaseCache(nil, time.Minute, logger.Discard())
	assert.Nil(t, rc)

	calls := 0
	_, err := rc.Get(context.Background(), "rel_1", func(ctx context.Context, id string) (*model.Release, error) {
		calls++
		return &model.Release{Status: model.ReleaseStatusReady}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
