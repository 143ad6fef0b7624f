package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRunGuard_ReleaseReopensWindow(t *testing.T) {
	rdb := newRedis(t)
	g := NewRedisRunGuard(rdb, "lifecycle", time.Hour)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "update_statuses")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.Acquire(ctx, "update_statuses")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 1, rdb.Exists(ctx, "lifecycle:run:update_statuses").Val())

	require.NoError(t, g.Release(ctx, "update_statuses"))
	assert.EqualValues(t, 0, rdb.Exists(ctx, "lifecycle:run:update_statuses").Val())
	ok, err = g.Acquire(ctx, "update_statuses")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeduper_ForgetAllowsResend(t *testing.T) {
	d := NewRedisDeduper(newRedis(t), "lifecycle", 48*time.Hour)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "expiry:c1:2026-10-15:30")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = d.FirstSeen(ctx, "expiry:c1:2026-10-15:30")
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, "expiry:c1:2026-10-15:30"))
	first, err = d.FirstSeen(ctx, "expiry:c1:2026-10-15:30")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestNilGuards(t *testing.T) {
	ctx := context.Background()
	var g *RedisRunGuard
	ok, err := g.Acquire(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, g.Release(ctx, "x"))

	var d *RedisDeduper
	first, err := d.FirstSeen(ctx, "x")
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, d.Forget(ctx, "x"))

	assert.Nil(t, NewRedisRunGuard(nil, "lifecycle", time.Hour))
	assert.Nil(t, NewRedisDeduper(nil, "lifecycle", time.Hour))
}
