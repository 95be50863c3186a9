package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	p := Static("abc")
	tok, err := p.Token(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("unexpected token %q err=%v", tok, err)
	}
	tok, err = p.Refresh(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("unexpected refreshed token %q err=%v", tok, err)
	}
}

func TestFileCachesUntilRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := &File{Path: path}
	ctx := context.Background()

	if tok, _ := f.Token(ctx); tok != "first" {
		t.Fatalf("expected first, got %q", tok)
	}

	_ = os.WriteFile(path, []byte("second"), 0o600)
	if tok, _ := f.Token(ctx); tok != "first" {
		t.Fatalf("expected cached first, got %q", tok)
	}
	if tok, _ := f.Refresh(ctx); tok != "second" {
		t.Fatalf("expected refreshed second, got %q", tok)
	}
	if tok, _ := f.Token(ctx); tok != "second" {
		t.Fatalf("expected cached second, got %q", tok)
	}
}

func TestFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	_ = os.WriteFile(path, []byte("  \n"), 0o600)
	if _, err := (&File{Path: path}).Token(context.Background()); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}
