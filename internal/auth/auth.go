// Package auth resolves the opaque bearer token attached to outbound requests.
//
// The token lives in local persisted state (a file written by the login
// flow). A missing token is not an error: requests proceed unauthenticated.
package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// TokenSource supplies the current bearer token. An empty token means
// unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// TokenSourceFunc is a function adapter for TokenSource.
type TokenSourceFunc func() (string, error)

func (f TokenSourceFunc) Token() (string, error) {
	return f()
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// FileTokenSource reads the token from a file on every call so a login flow
// can rotate it without restarting the client.
type FileTokenSource struct {
	Path string
}

// NewFileTokenSource creates a FileTokenSource.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{Path: path}
}

// Token returns the trimmed file contents, or "" if the file does not exist.
func (f *FileTokenSource) Token() (string, error) {
	if f.Path == "" {
		return "", nil
	}

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Chain returns the first non-empty token from its sources. Errors from one
// source do not stop the chain; the first error is returned only if no
// source produced a token.
type Chain []TokenSource

func (c Chain) Token() (string, error) {
	var firstErr error
	for _, src := range c {
		if src == nil {
			continue
		}
		token, err := src.Token()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if token != "" {
			return token, nil
		}
	}
	return "", firstErr
}

// Resolve returns the token from src, logging and swallowing errors.
func Resolve(src TokenSource, logger *slog.Logger) string {
	if src == nil {
		return ""
	}

	token, err := src.Token()
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("bearer token unavailable, continuing unauthenticated", "error", err)
		return ""
	}
	return token
}
