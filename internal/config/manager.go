package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Manager provides centralized configuration management with validation and watching
type Manager struct {
	mu              sync.RWMutex
	config          *Config
	watchers        []func(*Config)
	languageWatches []func(string)

	// File watching
	configPath   string
	lastModTime  time.Time
	pollInterval time.Duration
	watchCancel  context.CancelFunc
	watchDone    chan struct{}
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config:       DefaultConfig(),
		watchers:     make([]func(*Config), 0),
		pollInterval: time.Second,
	}
}

// LoadFromFile loads configuration from a file with validation
func (m *Manager) LoadFromFile(configPath string) error {
	configPath = ExpandPath(configPath)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	m.applyDefaults(cfg)
	if err := m.validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	prevLanguage := m.config.Language
	m.config = cfg
	m.configPath = configPath
	if stat, err := os.Stat(configPath); err == nil {
		m.lastModTime = stat.ModTime()
	}
	watchers, languageWatches := m.snapshotWatchers()
	m.mu.Unlock()

	notify(watchers, cfg)
	if cfg.Language != prevLanguage {
		for _, w := range languageWatches {
			w(cfg.Language)
		}
	}
	return nil
}

// LoadFromDefaults loads the default configuration with environment
// overrides applied. The manager is left without a file until SaveToFile.
func (m *Manager) LoadFromDefaults() error {
	cfg, err := LoadConfig("")
	if err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	m.applyDefaults(cfg)
	if err := m.validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.configPath = ""
	m.lastModTime = time.Time{}
	watchers, _ := m.snapshotWatchers()
	m.mu.Unlock()

	notify(watchers, cfg)
	return nil
}

// GetConfig returns a copy of the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.config)
}

// ConfigPath returns the file the configuration was loaded from
func (m *Manager) ConfigPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configPath
}

// UpdateConfig updates the configuration with validation
func (m *Manager) UpdateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	cfg = copyConfig(cfg)
	m.applyDefaults(cfg)
	if err := m.validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	watchers, _ := m.snapshotWatchers()
	m.mu.Unlock()

	notify(watchers, cfg)
	return nil
}

// SetLanguage changes the display language and persists it when the
// configuration came from a file. Language watchers are not called: the
// caller announces the change itself.
func (m *Manager) SetLanguage(language string) error {
	language = strings.TrimSpace(language)
	if language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	m.mu.Lock()
	cfg := copyConfig(m.config)
	cfg.Language = language
	m.config = cfg
	path := m.configPath
	watchers, _ := m.snapshotWatchers()
	m.mu.Unlock()

	if path != "" {
		if err := cfg.SaveConfig(path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if stat, err := os.Stat(path); err == nil {
			m.mu.Lock()
			m.lastModTime = stat.ModTime()
			m.mu.Unlock()
		}
	}
	notify(watchers, cfg)
	return nil
}

// SaveToFile saves the current configuration to a file, which becomes the
// file later changes are saved to and watched at
func (m *Manager) SaveToFile(filePath string) error {
	filePath = ExpandPath(filePath)
	if strings.TrimSpace(filePath) == "" {
		return fmt.Errorf("config path cannot be empty")
	}
	cfg := m.GetConfig()
	if err := cfg.SaveConfig(filePath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	m.mu.Lock()
	m.configPath = filePath
	if stat, err := os.Stat(filePath); err == nil {
		m.lastModTime = stat.ModTime()
	}
	m.mu.Unlock()
	return nil
}

// Watch starts watching the configuration file for changes
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configPath == "" {
		return fmt.Errorf("no config file path set")
	}
	if m.watchCancel != nil {
		return fmt.Errorf("already watching configuration file")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})
	go m.watchConfigFile(watchCtx, m.pollInterval, m.watchDone)
	return nil
}

// StopWatching stops watching the configuration file and waits for the
// watcher to exit
func (m *Manager) StopWatching() {
	m.mu.Lock()
	cancel, done := m.watchCancel, m.watchDone
	m.watchCancel, m.watchDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// AddWatcher adds a configuration change watcher. Watchers run
// synchronously and must not call back into the manager.
func (m *Manager) AddWatcher(watcher func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher)
}

// OnLanguageChange registers fn for edits of the config file that change
// the display language
func (m *Manager) OnLanguageChange(fn func(language string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.languageWatches = append(m.languageWatches, fn)
}

// validateConfig validates the configuration
func (m *Manager) validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", cfg.Backend.URL)
	}

	durations := map[string]string{
		"backend timeout":        cfg.Backend.Timeout,
		"backend health timeout": cfg.Backend.HealthTimeout,
		"session refresh buffer": cfg.Session.RefreshBuffer,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if cfg.Quota.BaseLimit <= 0 {
		return fmt.Errorf("quota base limit must be positive")
	}
	if cfg.Quota.ExtensionStep < 0 {
		return fmt.Errorf("quota extension step cannot be negative")
	}
	if cfg.Detector.DebounceMs < 0 || cfg.Detector.PollIntervalMs < 0 || cfg.Detector.BodyTimeoutMs < 0 {
		return fmt.Errorf("detector timings cannot be negative")
	}
	if len(cfg.Detector.Selectors.Body) == 0 {
		return fmt.Errorf("at least one body selector is required")
	}

	return nil
}

// applyDefaults applies default values for missing configuration
func (m *Manager) applyDefaults(cfg *Config) {
	def := DefaultConfig()

	if cfg.Backend.URL == "" {
		cfg.Backend.URL = def.Backend.URL
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Quota.BaseLimit == 0 {
		cfg.Quota.BaseLimit = def.Quota.BaseLimit
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Browser.MailURL == "" {
		cfg.Browser.MailURL = def.Browser.MailURL
	}

	sel := &cfg.Detector.Selectors
	if len(sel.Body) == 0 {
		sel.Body = def.Detector.Selectors.Body
	}
	if len(sel.Sender) == 0 {
		sel.Sender = def.Detector.Selectors.Sender
	}
	if len(sel.Subject) == 0 {
		sel.Subject = def.Detector.Selectors.Subject
	}
	if len(sel.Injection) == 0 {
		sel.Injection = def.Detector.Selectors.Injection
	}
	if sel.HeaderArea == "" {
		sel.HeaderArea = def.Detector.Selectors.HeaderArea
	}
}

// snapshotWatchers copies the watcher lists. Callers hold m.mu.
func (m *Manager) snapshotWatchers() ([]func(*Config), []func(string)) {
	return append([]func(*Config){}, m.watchers...), append([]func(string){}, m.languageWatches...)
}

// copyConfig creates a deep copy of the configuration
func copyConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	sel := &c.Detector.Selectors
	sel.Body = append([]string(nil), sel.Body...)
	sel.Sender = append([]string(nil), sel.Sender...)
	sel.Subject = append([]string(nil), sel.Subject...)
	sel.Injection = append([]string(nil), sel.Injection...)
	return &c
}

// notify calls every watcher with its own copy of cfg
func notify(watchers []func(*Config), cfg *Config) {
	for _, watcher := range watchers {
		watcher(copyConfig(cfg))
	}
}

// watchConfigFile polls the configuration file for changes
func (m *Manager) watchConfigFile(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkConfigFileChanges()
		}
	}
}

// checkConfigFileChanges reloads the configuration file when it changed
func (m *Manager) checkConfigFileChanges() {
	m.mu.RLock()
	configPath := m.configPath
	lastModTime := m.lastModTime
	m.mu.RUnlock()

	if configPath == "" {
		return
	}
	stat, err := os.Stat(configPath)
	if err != nil {
		return
	}
	if stat.ModTime().After(lastModTime) {
		// invalid edits keep the previous configuration
		_ = m.LoadFromFile(configPath)
	}
}
