package credstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/oauth2"
)

func TestBuildStoreFromDSNEmptyReturnsNil(t *testing.T) {
	store, err := BuildStoreFromDSN("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store != nil {
		t.Fatalf("expected nil store for empty dsn")
	}
}

func TestBuildStoreFromDSNMemory(t *testing.T) {
	for _, dsn := range []string{"memory://", "mem://", "inmem://"} {
		store, err := BuildStoreFromDSN(dsn)
		if err != nil {
			t.Fatalf("BuildStoreFromDSN(%q) failed: %v", dsn, err)
		}
		if err := store.Save(context.Background(), "req_1", &oauth2.Token{AccessToken: "x"}); err != nil {
			t.Fatalf("save through %q store failed: %v", dsn, err)
		}
		store.Close()
	}
}

func TestBuildStoreFromDSNFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	store, err := BuildStoreFromDSN("file://" + dir)
	if err != nil {
		t.Fatalf("BuildStoreFromDSN failed: %v", err)
	}
	defer store.Close()
	if err := store.Save(context.Background(), "req_1", &oauth2.Token{AccessToken: "x"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := store.Load(context.Background(), "req_1")
	if err != nil || loaded.AccessToken != "x" {
		t.Fatalf("load failed: token=%+v err=%v", loaded, err)
	}
}

func TestBuildStoreFromDSNBarePathIsFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	store, err := BuildStoreFromDSN(dir)
	if err != nil {
		t.Fatalf("BuildStoreFromDSN failed: %v", err)
	}
	defer store.Close()
	if err := store.Save(context.Background(), "req_1", &oauth2.Token{AccessToken: "x"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestBuildStoreFromDSNRejectsUnknownScheme(t *testing.T) {
	if _, err := BuildStoreFromDSN("redis://localhost:6379"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
