// Package i18n resolves user-facing strings. Remote translations win, the
// embedded English defaults fill the gaps.
package i18n

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	defaultsOnce sync.Once
	defaults     map[string]string
	defaultsErr  error
)

// Defaults returns the embedded English strings
func Defaults() (map[string]string, error) {
	defaultsOnce.Do(func() {
		defaults = make(map[string]string)
		if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
			defaultsErr = fmt.Errorf("parse default strings: %w", err)
		}
	})
	return defaults, defaultsErr
}

// Translator looks up strings for the current display language
type Translator struct {
	mu       sync.RWMutex
	language string
	remote   map[string]string
}

// New creates a translator for language with no remote strings loaded
func New(language string) *Translator {
	if language == "" {
		language = "en"
	}
	return &Translator{language: language}
}

// Language returns the current display language
func (t *Translator) Language() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.language
}

// Load replaces the remote strings and the language they belong to.
// A nil map clears them so only the defaults apply.
func (t *Translator) Load(language string, remote map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if language != "" {
		t.language = language
	}
	t.remote = remote
}

// T returns the string for key, or the key itself when nothing matches
func (t *Translator) T(key string) string {
	return t.Or(key, key)
}

// Or returns the string for key, or fallback when nothing matches
func (t *Translator) Or(key, fallback string) string {
	t.mu.RLock()
	v, ok := t.remote[key]
	t.mu.RUnlock()
	if ok && v != "" {
		return v
	}
	if d, err := Defaults(); err == nil {
		if v, ok := d[key]; ok {
			return v
		}
	}
	return fallback
}

// Severity returns the localized severity label, or the raw severity
func (t *Translator) Severity(severity string) string {
	return t.Or("severity_"+severity, severity)
}
