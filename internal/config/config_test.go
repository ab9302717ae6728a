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

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 640, cfg.App.Width)
	assert.Equal(t, 480, cfg.App.Height)
	assert.Equal(t, 5, cfg.Tasks.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Tasks.StepInterval())
	assert.Equal(t, 5*time.Second, cfg.Scripts.Timeout())
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.App.Name = " " }},
		{"zero width", func(c *Config) { c.App.Width = 0 }},
		{"no concurrency", func(c *Config) { c.Tasks.MaxConcurrent = 0 }},
		{"no steps", func(c *Config) { c.Tasks.Steps = 0 }},
		{"negative step", func(c *Config) { c.Tasks.StepMillis = -1 }},
		{"bad addr", func(c *Config) { c.Server.HTTPAddr = "nope" }},
		{"bad port", func(c *Config) { c.Server.HTTPAddr = "127.0.0.1:99999" }},
		{"no storage", func(c *Config) { c.Storage.Dir = "" }},
		{"no script dir", func(c *Config) { c.Scripts.Dir = "" }},
		{"no timeout", func(c *Config) { c.Scripts.TimeoutSeconds = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestScriptDirOptionalWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Scripts.Enabled = false
	cfg.Scripts.Dir = ""
	assert.NoError(t, cfg.Validate())
}

func TestEmptyHTTPAddrAllowed(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPAddr = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadKeepsDefaultsAndStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"host":{"hostname":"box1"}}`)...)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "box1", cfg.Host.Hostname)
	assert.Equal(t, "Lens", cfg.App.Name)
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":{"steps":0}}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	cfg, err := LoadPartial(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Tasks.Steps)
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	_, created, err = Ensure(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	_, _, err := Ensure(path)
	require.NoError(t, err)

	cfg, err := Update(path, func(c *Config) { c.Host.Hostname = "box2" })
	require.NoError(t, err)
	assert.Equal(t, "box2", cfg.Host.Hostname)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "box2", loaded.Host.Hostname)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvInspector, "true")

	cfg := Default()
	ApplyEnv(&cfg)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.App.Inspector)
}

func TestApplyEnvIgnoresFalse(t *testing.T) {
	t.Setenv(EnvDebug, "0")
	t.Setenv(EnvInspector, "")

	cfg := Default()
	ApplyEnv(&cfg)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.App.Inspector)
}

func TestWatchReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	_, _, err := Ensure(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	require.NoError(t, Watch(ctx, path, func(c Config) { got <- c }))

	_, err = Update(path, func(c *Config) { c.Host.Hostname = "watched" })
	require.NoError(t, err)

	select {
	case cfg := <-got:
		assert.Equal(t, "watched", cfg.Host.Hostname)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
}
