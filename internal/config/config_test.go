package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, 15, cfg.Quota.BaseLimit)
	assert.Equal(t, 15, cfg.Quota.ExtensionStep)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr)
	assert.NotEmpty(t, cfg.Backend.URL)
	assert.Equal(t, []string{"div.a3s.aiL", "div.a3s", "div.ii.gt"}, cfg.Detector.Selectors.Body)
}

func TestConfig_DurationGetters(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		got  func(*Config) time.Duration
		want time.Duration
	}{
		{"backend_default", Config{}, (*Config).GetBackendTimeout, 60 * time.Second},
		{"backend_set", Config{Backend: BackendConfig{Timeout: "15s"}}, (*Config).GetBackendTimeout, 15 * time.Second},
		{"backend_invalid", Config{Backend: BackendConfig{Timeout: "soon"}}, (*Config).GetBackendTimeout, 60 * time.Second},
		{"refresh_buffer", Config{Session: SessionConfig{RefreshBuffer: "2m"}}, (*Config).GetRefreshBuffer, 2 * time.Minute},
		{"debounce_default", Config{}, (*Config).GetDebounce, 200 * time.Millisecond},
		{"debounce_set", Config{Detector: DetectorConfig{DebounceMs: 50}}, (*Config).GetDebounce, 50 * time.Millisecond},
		{"poll_default", Config{}, (*Config).GetPollInterval, 300 * time.Millisecond},
		{"body_timeout", Config{Detector: DetectorConfig{BodyTimeoutMs: 1000}}, (*Config).GetBodyTimeout, time.Second},
		{"event_poll_default", Config{}, (*Config).GetEventPoll, 150 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.Equal(t, tt.want, tt.got(&cfg))
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".config", "mailguard", "config.json"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(home, ".config", "mailguard", "mailguard.sqlite3"), DefaultDatabasePath())
	assert.Equal(t, filepath.Join(home, "data", "x.db"), ExpandPath("~/data/x.db"))
	assert.Equal(t, "/tmp/x.db", ExpandPath("/tmp/x.db"))

	cfg := &Config{DatabasePath: "~/mg.db"}
	assert.Equal(t, filepath.Join(home, "mg.db"), cfg.GetDatabasePath())
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Backend.URL, cfg.Backend.URL)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"language": "es",
		"backend": {"url": "http://localhost:8000/api/v1"},
		"quota": {"base_limit": 30},
		"detector": {"debounce_ms": 120, "selectors": {"body": [".msg-body"]}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "es", cfg.Language)
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.Backend.URL)
	assert.Equal(t, 30, cfg.Quota.BaseLimit)
	assert.Equal(t, 15, cfg.Quota.ExtensionStep)
	assert.Equal(t, 120, cfg.Detector.DebounceMs)
	assert.Equal(t, []string{".msg-body"}, cfg.Detector.Selectors.Body)
	assert.Equal(t, "60s", cfg.Backend.Timeout)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MAILGUARD_BACKEND_URL", "http://127.0.0.1:9000/api/v1")
	t.Setenv("MAILGUARD_LANGUAGE", "fr")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/api/v1", cfg.Backend.URL)
	assert.Equal(t, "fr", cfg.Language)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{invalid"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfig_DirectoryCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	cfg := DefaultConfig()
	cfg.Language = "pt"
	require.NoError(t, cfg.SaveConfig(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "pt", decoded["language"])

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "pt", loaded.Language)
}

func TestManager_Validation(t *testing.T) {
	m := NewManager()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_url", func(c *Config) { c.Backend.URL = "not a url" }},
		{"bad_timeout", func(c *Config) { c.Backend.Timeout = "forever" }},
		{"negative_quota", func(c *Config) { c.Quota.BaseLimit = -1 }},
		{"negative_debounce", func(c *Config) { c.Detector.DebounceMs = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, m.UpdateConfig(cfg))
		})
	}

	cfg := DefaultConfig()
	cfg.Detector.Selectors = SelectorConfig{}
	require.NoError(t, m.UpdateConfig(cfg))
	assert.Equal(t, DefaultSelectorConfig(), m.GetConfig().Detector.Selectors)
}

func TestManager_GetConfigIsACopy(t *testing.T) {
	m := NewManager()
	cfg := m.GetConfig()
	cfg.Language = "xx"
	cfg.Detector.Selectors.Body[0] = "mutated"

	again := m.GetConfig()
	assert.Equal(t, "en", again.Language)
	assert.Equal(t, "div.a3s.aiL", again.Detector.Selectors.Body[0])
}

func TestManager_SetLanguagePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, DefaultConfig().SaveConfig(path))

	m := NewManager()
	require.NoError(t, m.LoadFromFile(path))

	var seen []string
	m.AddWatcher(func(c *Config) { seen = append(seen, c.Language) })
	languageCalls := 0
	m.OnLanguageChange(func(string) { languageCalls++ })

	require.NoError(t, m.SetLanguage("es"))
	assert.Equal(t, "es", m.GetConfig().Language)
	assert.Equal(t, []string{"es"}, seen)
	assert.Equal(t, 0, languageCalls)

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "es", loaded.Language)

	assert.Error(t, m.SetLanguage(" "))
}

func TestManager_WatchReloadsLanguage(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, DefaultConfig().SaveConfig(path))

	m := NewManager()
	m.pollInterval = 10 * time.Millisecond
	require.NoError(t, m.LoadFromFile(path))

	var mu sync.Mutex
	var languages []string
	m.OnLanguageChange(func(lang string) {
		mu.Lock()
		defer mu.Unlock()
		languages = append(languages, lang)
	})

	require.NoError(t, m.Watch(context.Background()))
	defer m.StopWatching()
	assert.Error(t, m.Watch(context.Background()))

	cfg := DefaultConfig()
	cfg.Language = "de"
	require.NoError(t, cfg.SaveConfig(path))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(languages) == 1 && languages[0] == "de"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "de", m.GetConfig().Language)
}

func TestManager_WatchNeedsFile(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.Watch(context.Background()))
	m.StopWatching()
}

func TestManager_LoadFromDefaults(t *testing.T) {
	t.Setenv("MAILGUARD_LANGUAGE", "fr")

	m := NewManager()
	require.NoError(t, m.LoadFromDefaults())
	assert.Equal(t, "fr", m.GetConfig().Language)
	assert.Equal(t, "", m.ConfigPath())
	assert.Error(t, m.Watch(context.Background()))
}

func TestManager_SaveToFileAdoptsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	m := NewManager()
	require.NoError(t, m.LoadFromDefaults())
	cfg := m.GetConfig()
	cfg.Identity.APIKey = "key-123"
	require.NoError(t, m.UpdateConfig(cfg))

	require.NoError(t, m.SaveToFile(path))
	assert.Equal(t, path, m.ConfigPath())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "key-123", loaded.Identity.APIKey)

	// later changes go to the adopted file
	require.NoError(t, m.SetLanguage("it"))
	loaded, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "it", loaded.Language)

	assert.Error(t, m.SaveToFile(""))
}
