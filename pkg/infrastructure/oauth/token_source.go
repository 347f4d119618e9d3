// Package oauth persists and refreshes the calendar source's OAuth token.
// The token file is the only durable local state the core keeps.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"

	shared "github.com/homepulse/server/pkg"
)

// FileTokenStore keeps the token in a JSON file with owner-only permissions.
// Saves are atomic: write to a temp file in the same directory, then rename.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

func (s *FileTokenStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// persistingSource wraps an oauth2.TokenSource and writes every rotated
// token back to the store, so a refresh survives restarts.
type persistingSource struct {
	src   oauth2.TokenSource
	store shared.TokenStore

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || p.last.AccessToken != tok.AccessToken || p.last.RefreshToken != tok.RefreshToken {
		if err := p.store.Save(tok); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
		p.last = tok
	}
	return tok, nil
}

// NewPersistingSource loads the stored token and returns a refreshing
// source that persists rotations. It fails when no token has ever been
// stored; connecting the calendar account is an operator concern.
func NewPersistingSource(ctx context.Context, cfg *oauth2.Config, store shared.TokenStore) (oauth2.TokenSource, error) {
	tok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("calendar account not connected: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("stored calendar token has no refresh token")
	}
	return &persistingSource{
		src:   cfg.TokenSource(ctx, tok),
		store: store,
	}, nil
}
