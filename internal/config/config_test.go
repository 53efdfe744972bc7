package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 256, cfg.QueueSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"log_level: debug\nqueue_size: 64\nwatch_base: http://localhost:1\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, "http://localhost:1", cfg.WatchBase)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NDGR_LOG_LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsNegativeQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue_size: -1\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAliasFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jk1: ch101\njk2: ch102\n"), 0o644))

	m, err := LoadAliasFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"jk1": "ch101", "jk2": "ch102"}, m)
}

func TestWatchAliasFileReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jk1: ch101\n"), 0o644))

	var mu sync.Mutex
	var latest map[string]string
	apply := func(m map[string]string) {
		mu.Lock()
		latest = m
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchAliasFile(ctx, path, zaptest.NewLogger(t), apply))

	mu.Lock()
	assert.Equal(t, map[string]string{"jk1": "ch101"}, latest)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("jk1: ch999\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest["jk1"] == "ch999"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchAliasFileKeepsOldMapOnBadWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jk1: ch101\n"), 0o644))

	var mu sync.Mutex
	var latest map[string]string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchAliasFile(ctx, path, zaptest.NewLogger(t), func(m map[string]string) {
		mu.Lock()
		latest = m
		mu.Unlock()
	}))

	require.NoError(t, os.WriteFile(path, []byte(":[ not yaml"), 0o644))
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, map[string]string{"jk1": "ch101"}, latest)
	mu.Unlock()
}
