// Package logging opens the file logger shared by every command
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

const flags = log.LstdFlags | log.Lmicroseconds

// Open returns a logger appending to path. When the file cannot be opened
// the logger writes to fallback, and to nowhere when fallback is nil. The
// returned func closes the file.
func Open(path, prefix string, fallback io.Writer) (*log.Logger, func()) {
	if fallback == nil {
		fallback = io.Discard
	}
	if path == "" {
		return log.New(fallback, prefix, flags), func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return log.New(fallback, prefix, flags), func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return log.New(fallback, prefix, flags), func() {}
	}
	return log.New(f, prefix, flags), func() { _ = f.Close() }
}

// Tee returns a logger writing to both l's output and w
func Tee(l *log.Logger, w io.Writer) *log.Logger {
	return log.New(io.MultiWriter(l.Writer(), w), l.Prefix(), l.Flags())
}
