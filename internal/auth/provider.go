package auth

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

// Provider hands out the bearer credential attached to every outbound call.
// An empty token means "send unauthenticated".
type Provider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Static always returns the same token; Refresh cannot produce a new one.
type Static string

func (s Static) Token(context.Context) (string, error) { return string(s), nil }

func (s Static) Refresh(context.Context) (string, error) { return string(s), nil }

// File reads the token from Path. The value is cached until Refresh, which
// re-reads the file; this lets an external agent rotate the credential.
type File struct {
	Path string

	mu     sync.Mutex
	cached string
	loaded bool
}

var ErrEmptyToken = errors.New("token file is empty")

func (f *File) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.cached, nil
	}
	return f.readLocked()
}

func (f *File) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *File) readLocked() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", ErrEmptyToken
	}
	f.cached = tok
	f.loaded = true
	return tok, nil
}
