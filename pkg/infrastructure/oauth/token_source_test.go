package oauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/homepulse/server/pkg/testing/mocks"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewFileTokenStore(path)

	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	if err := store.Save(tok); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
		t.Errorf("loaded token = %+v", loaded)
	}
}

func TestFileTokenStoreLoadMissing(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := store.Load(); err == nil {
		t.Error("Load on missing file should fail")
	}
}

func TestNewPersistingSourceRequiresStoredToken(t *testing.T) {
	cfg := &oauth2.Config{ClientID: "id"}

	_, err := NewPersistingSource(context.Background(), cfg, &mocks.MockTokenStore{})
	if err == nil {
		t.Error("missing stored token should fail")
	}

	noRefresh := &mocks.MockTokenStore{
		LoadFunc: func() (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "a"}, nil
		},
	}
	if _, err := NewPersistingSource(context.Background(), cfg, noRefresh); err == nil {
		t.Error("token without refresh token should fail")
	}
}

func TestPersistingSourceSavesRotatedToken(t *testing.T) {
	var saved *oauth2.Token
	store := &mocks.MockTokenStore{
		SaveFunc: func(tok *oauth2.Token) error {
			saved = tok
			return nil
		},
	}

	rotated := &oauth2.Token{AccessToken: "new", RefreshToken: "refresh"}
	src := &persistingSource{
		src:   oauth2.StaticTokenSource(rotated),
		store: store,
	}

	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "new" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if saved == nil || saved.AccessToken != "new" {
		t.Error("rotated token not persisted")
	}

	// A second call with the same token must not rewrite the file.
	saved = nil
	if _, err := src.Token(); err != nil {
		t.Fatal(err)
	}
	if saved != nil {
		t.Error("unchanged token persisted again")
	}
}
