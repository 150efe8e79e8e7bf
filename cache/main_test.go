package cache

import (
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	HasUpdate bool   `json:"has_update"`
	Version   string `json:"version"`
}

func withCacheHome(t *testing.T) {
	t.Helper()

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	xdg.Reload()
}

func TestWriteLoad(t *testing.T) {
	withCacheHome(t)

	key := "https://example.com/app/.upgrader"
	require.NoError(t, Write(key, result{HasUpdate: true, Version: "2.0.0"}))

	var got result
	require.NoError(t, Load(key, time.Hour, &got))
	assert.Equal(t, result{HasUpdate: true, Version: "2.0.0"}, got)
}

func TestLoadMiss(t *testing.T) {
	withCacheHome(t)

	var got result

	assert.ErrorIs(t, Load("never-written", time.Hour, &got), ErrMiss)

	require.NoError(t, Write("stale", result{}))
	assert.ErrorIs(t, Load("stale", -time.Second, &got), ErrMiss)
}

func TestDelete(t *testing.T) {
	withCacheHome(t)

	require.NoError(t, Write("key", result{HasUpdate: true}))
	require.NoError(t, Delete("key"))

	var got result
	assert.ErrorIs(t, Load("key", time.Hour, &got), ErrMiss)
	assert.NoError(t, Delete("key"), "already gone")
}
