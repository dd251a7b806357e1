package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendConfig holds the remote analysis service settings
type BackendConfig struct {
	URL           string `json:"url" mapstructure:"url"`
	Timeout       string `json:"timeout" mapstructure:"timeout"`
	HealthTimeout string `json:"health_timeout" mapstructure:"health_timeout"`
}

// IdentityConfig holds the identity provider and document store settings
type IdentityConfig struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	ProjectID string `json:"project_id" mapstructure:"project_id"`
	// Endpoint overrides (empty = provider defaults)
	AuthURL      string `json:"auth_url" mapstructure:"auth_url"`
	TokenURL     string `json:"token_url" mapstructure:"token_url"`
	FirestoreURL string `json:"firestore_url" mapstructure:"firestore_url"`
}

// SelectorConfig holds ordered fallback selector lists for the mail page
type SelectorConfig struct {
	Body       []string `json:"body" mapstructure:"body"`
	Sender     []string `json:"sender" mapstructure:"sender"`
	Subject    []string `json:"subject" mapstructure:"subject"`
	Injection  []string `json:"injection" mapstructure:"injection"`
	HeaderArea string   `json:"header_area" mapstructure:"header_area"`
}

// DetectorConfig holds timings and selectors of the page detector
type DetectorConfig struct {
	DebounceMs     int            `json:"debounce_ms" mapstructure:"debounce_ms"`
	PollIntervalMs int            `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	BodyTimeoutMs  int            `json:"body_timeout_ms" mapstructure:"body_timeout_ms"`
	EventPollMs    int            `json:"event_poll_ms" mapstructure:"event_poll_ms"`
	Selectors      SelectorConfig `json:"selectors" mapstructure:"selectors"`
}

// QuotaConfig holds the daily analysis allowance
type QuotaConfig struct {
	BaseLimit     int `json:"base_limit" mapstructure:"base_limit"`
	ExtensionStep int `json:"extension_step" mapstructure:"extension_step"`
}

// SessionConfig holds session handling settings
type SessionConfig struct {
	RefreshBuffer string `json:"refresh_buffer" mapstructure:"refresh_buffer"`
	// UseKeyring stores the session in the OS keyring instead of the database
	UseKeyring bool `json:"use_keyring" mapstructure:"use_keyring"`
}

// BrowserConfig controls how the live mail tab is reached
type BrowserConfig struct {
	DebuggerURL string `json:"debugger_url" mapstructure:"debugger_url"`
	Bin         string `json:"bin" mapstructure:"bin"`
	Headless    bool   `json:"headless" mapstructure:"headless"`
	MailURL     string `json:"mail_url" mapstructure:"mail_url"`
}

// ServerConfig holds the local message endpoint settings
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// Config holds all configuration for mailguard
type Config struct {
	Backend  BackendConfig  `json:"backend" mapstructure:"backend"`
	Identity IdentityConfig `json:"identity" mapstructure:"identity"`
	Detector DetectorConfig `json:"detector" mapstructure:"detector"`
	Quota    QuotaConfig    `json:"quota" mapstructure:"quota"`
	Session  SessionConfig  `json:"session" mapstructure:"session"`
	Browser  BrowserConfig  `json:"browser" mapstructure:"browser"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`

	// Display language for banners and remote analysis
	Language string `json:"language" mapstructure:"language"`

	DatabasePath string `json:"database_path" mapstructure:"database_path"`
	LogFile      string `json:"log_file" mapstructure:"log_file"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:  DefaultBackendConfig(),
		Detector: DefaultDetectorConfig(),
		Quota:    DefaultQuotaConfig(),
		Session: SessionConfig{
			RefreshBuffer: "5m",
		},
		Browser: BrowserConfig{
			MailURL: "https://mail.google.com/mail/u/0/",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Language: "en",
	}
}

// DefaultBackendConfig returns default remote service configuration
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		URL:           "https://phishing-prevention-1-vqvj.onrender.com/api/v1",
		Timeout:       "60s",
		HealthTimeout: "60s",
	}
}

// DefaultDetectorConfig returns default detector timings and selectors
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		DebounceMs:     200,
		PollIntervalMs: 300,
		BodyTimeoutMs:  5000,
		EventPollMs:    150,
		Selectors:      DefaultSelectorConfig(),
	}
}

// DefaultSelectorConfig returns the Gmail selector lists, most specific first
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Body:       []string{"div.a3s.aiL", "div.a3s", "div.ii.gt"},
		Sender:     []string{"span.gD[email]"},
		Subject:    []string{"h2.hP"},
		Injection:  []string{`div[role="listitem"]`, ".nH.aHU"},
		HeaderArea: ".gE.iv.gt",
	}
}

// DefaultQuotaConfig returns the default daily allowance
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		BaseLimit:     15,
		ExtensionStep: 15,
	}
}

// LoadConfig loads configuration from a JSON file. Any key can be overridden
// with a MAILGUARD_ environment variable (e.g. MAILGUARD_BACKEND_URL).
// A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("MAILGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed viper with defaults so env overrides resolve for every key
	if data, err := json.Marshal(cfg); err == nil {
		if err := v.MergeConfig(strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("seeding defaults: %w", err)
		}
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := v.MergeConfig(strings.NewReader(string(data))); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", configPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// DefaultConfigDir returns ~/.config/mailguard
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mailguard")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// DefaultDatabasePath returns the default storage database path
func DefaultDatabasePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "mailguard.sqlite3")
}

// DefaultLogPath returns the default log file path
func DefaultLogPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "mailguard.log")
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// GetBackendTimeout returns the parsed request timeout for the analysis service
func (c *Config) GetBackendTimeout() time.Duration {
	return parseDuration(c.Backend.Timeout, 60*time.Second)
}

// GetHealthTimeout returns the parsed health-check timeout
func (c *Config) GetHealthTimeout() time.Duration {
	return parseDuration(c.Backend.HealthTimeout, 60*time.Second)
}

// GetRefreshBuffer returns how long before expiry a token is refreshed
func (c *Config) GetRefreshBuffer() time.Duration {
	return parseDuration(c.Session.RefreshBuffer, 5*time.Minute)
}

// GetDebounce returns the quiet period that settles page activity
func (c *Config) GetDebounce() time.Duration {
	return millis(c.Detector.DebounceMs, 200*time.Millisecond)
}

// GetPollInterval returns the message-body polling interval
func (c *Config) GetPollInterval() time.Duration {
	return millis(c.Detector.PollIntervalMs, 300*time.Millisecond)
}

// GetBodyTimeout returns how long to wait for a message body
func (c *Config) GetBodyTimeout() time.Duration {
	return millis(c.Detector.BodyTimeoutMs, 5*time.Second)
}

// GetEventPoll returns how often the live page event buffer is drained
func (c *Config) GetEventPoll() time.Duration {
	return millis(c.Detector.EventPollMs, 150*time.Millisecond)
}

// GetDatabasePath returns the configured database path or the default
func (c *Config) GetDatabasePath() string {
	if strings.TrimSpace(c.DatabasePath) != "" {
		return ExpandPath(c.DatabasePath)
	}
	return DefaultDatabasePath()
}

// GetLogPath returns the configured log path or the default
func (c *Config) GetLogPath() string {
	if strings.TrimSpace(c.LogFile) != "" {
		return ExpandPath(c.LogFile)
	}
	return DefaultLogPath()
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
