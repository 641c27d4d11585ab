package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaultsOnZeroValue(t *testing.T) {
	c := Config{}
	c.Normalize()
	d := Defaults()
	assert.Equal(t, d.TubeCount, c.TubeCount)
	assert.Equal(t, d.Pipeline.QueueCapacity, c.Pipeline.QueueCapacity)
	assert.Equal(t, d.Periodic.BankTick, c.Periodic.BankTick)
	assert.Equal(t, d.Telemetry.MetricsBackend, c.Telemetry.MetricsBackend)
}

func TestNormalizePreservesExplicitValues(t *testing.T) {
	c := Config{TubeCount: 3, Periodic: PeriodicConfig{BankTick: 50 * time.Millisecond}}
	c.Normalize()
	assert.Equal(t, 3, c.TubeCount)
	assert.Equal(t, 50*time.Millisecond, c.Periodic.BankTick)
	// unspecified fields still get defaults
	assert.Equal(t, Defaults().Periodic.PlanRecompute, c.Periodic.PlanRecompute)
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tube_count: 4\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.TubeCount)
	assert.Equal(t, Defaults().Pipeline.QueueCapacity, c.Pipeline.QueueCapacity)
}

func TestLoadReturnsErrorOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tube_count: 2\n"), 0o644))

	reloaded := make(chan Config, 1)
	w := NewWatcher(path, nil, func(c Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("tube_count: 5\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 5, c.TubeCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
