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

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{EnvPrefix: "agent"}
	require.NoError(t, cfg.validate())

	assert.Equal(t, "config", cfg.Name)
	assert.Equal(t, []string{".", "./config"}, cfg.Paths)
	assert.Equal(t, "yaml", cfg.FileType)
	assert.Equal(t, "AGENT", cfg.EnvPrefix)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", `
registry:
  address: "10.0.0.1:8500,10.0.0.2"
  group: dubbo
  retry_period: 15s
`)

	l, err := New(&Config{Name: "agent", Paths: []string{dir}, EnvPrefix: "TEST_LOAD"})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	assert.Equal(t, "10.0.0.1:8500,10.0.0.2", l.Get("registry.address"))

	var section struct {
		Address     string        `mapstructure:"address"`
		Group       string        `mapstructure:"group"`
		RetryPeriod time.Duration `mapstructure:"retry_period"`
	}
	require.NoError(t, l.UnmarshalKey("registry", &section))
	assert.Equal(t, "dubbo", section.Group)
	assert.Equal(t, 15*time.Second, section.RetryPeriod)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "registry:\n  address: \"file:8500\"\n")
	t.Setenv("TEST_ENV_REGISTRY_ADDRESS", "env:8500")

	l, err := New(&Config{Name: "agent", Paths: []string{dir}, EnvPrefix: "TEST_ENV"})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	assert.Equal(t, "env:8500", l.Get("registry.address"))
}

func TestEnvironmentSpecificConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "registry:\n  group: dubbo\n  datacenter: dc1\n")
	writeFile(t, dir, "agent.prod.yaml", "registry:\n  datacenter: dc2\n")
	t.Setenv("TEST_STAGE_ENV", "prod")

	l, err := New(&Config{Name: "agent", Paths: []string{dir}, EnvPrefix: "TEST_STAGE"})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	assert.Equal(t, "dc2", l.Get("registry.datacenter"))
	assert.Equal(t, "dubbo", l.Get("registry.group"))
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("TEST_DEF_REGISTRY_ADDRESS", "127.0.0.1:8500")

	l, err := New(&Config{
		Name:      "missing",
		Paths:     []string{t.TempDir()},
		EnvPrefix: "TEST_DEF",
		Defaults:  map[string]any{"registry.address": "", "registry.group": "dubbo"},
	})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	assert.Equal(t, "127.0.0.1:8500", l.Get("registry.address"))
	assert.Equal(t, "dubbo", l.Get("registry.group"))
}

func TestEmptyConfigurationFailsValidation(t *testing.T) {
	l, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}, EnvPrefix: "TEST_EMPTY"})
	require.NoError(t, err)

	err = l.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(&Config{Name: "missing", Paths: []string{t.TempDir()}, EnvPrefix: "TEST_MUST"})
	})
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "log:\n  level: info\n")

	l, err := New(&Config{Name: "agent", Paths: []string{dir}, EnvPrefix: "TEST_WATCH"})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := l.Watch(ctx, "log.level")
	require.NoError(t, err)

	writeFile(t, dir, "agent.yaml", "log:\n  level: debug\n")

	select {
	case ev := <-ch:
		assert.Equal(t, "log.level", ev.Key)
		assert.Equal(t, "debug", ev.Value)
		assert.Equal(t, "info", ev.OldValue)
		assert.Equal(t, "file", ev.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change")
	}
}

func TestWatchCancelClosesChannel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "log:\n  level: info\n")

	l, err := New(&Config{Name: "agent", Paths: []string{dir}, EnvPrefix: "TEST_CANCEL"})
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Watch(ctx, "log.level")
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	_, err = l.Watch(context.Background(), "")
	assert.Error(t, err)
}
