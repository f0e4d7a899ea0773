// Package session persists browser login cookies between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrNoSession is returned by Load when nothing has been saved yet
var ErrNoSession = errors.New("no saved session")

// Cookie is one browser cookie as persisted on disk
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 for session cookies
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// HTTPCookie converts the record for use with an http.CookieJar
func (c Cookie) HTTPCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if c.Expires > 0 {
		hc.Expires = time.Unix(int64(c.Expires), 0)
	}
	return hc
}

// Expired reports whether a persistent cookie is past its expiry at now
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now)
}

// Store reads and writes the single global session file
type Store struct {
	Path string
}

// NewStore returns a store backed by the file at path
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load returns the saved cookies, dropping the ones that already expired
func (s *Store) Load() ([]Cookie, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	now := time.Now()
	live := cookies[:0]
	for _, c := range cookies {
		if !c.Expired(now) {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return nil, ErrNoSession
	}
	return live, nil
}

// Save replaces the session file atomically
func (s *Store) Save(cookies []Cookie) error {
	raw, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to restrict session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
