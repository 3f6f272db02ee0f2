package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"
)

// fileStore keeps one token_<requester>.json per requester under dir. A
// directory watcher invalidates the in-process cache when another process
// rewrites or removes a token file.
type fileStore struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*oauth2.Token

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

func NewFileStore(dir string) (Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: credential directory is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}
	store := &fileStore{
		dir:   dir,
		cache: map[string]*oauth2.Token{},
		done:  make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(dir); addErr == nil {
			store.watcher = watcher
			go store.watchLoop()
		} else {
			watcher.Close()
		}
	}
	return store, nil
}

func (s *fileStore) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			requesterID, ok := requesterFromTokenPath(event.Name)
			if !ok {
				continue
			}
			s.mu.Lock()
			delete(s.cache, requesterID)
			s.mu.Unlock()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *fileStore) tokenPath(requesterID string) string {
	return filepath.Join(s.dir, "token_"+requesterID+".json")
}

func requesterFromTokenPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "token_") || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	requesterID := strings.TrimSuffix(strings.TrimPrefix(name, "token_"), ".json")
	if requesterID == "" {
		return "", false
	}
	return requesterID, true
}

func validRequesterID(requesterID string) bool {
	if requesterID == "" {
		return false
	}
	return !strings.ContainsAny(requesterID, "/\\")
}

func (s *fileStore) Load(ctx context.Context, requesterID string) (*oauth2.Token, error) {
	requesterID = strings.TrimSpace(requesterID)
	if !validRequesterID(requesterID) {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	cached, ok := s.cache[requesterID]
	s.mu.RUnlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	data, err := os.ReadFile(s.tokenPath(requesterID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("%w: corrupt credential file", ErrNotAuthenticated)
	}

	s.mu.Lock()
	stored := token
	s.cache[requesterID] = &stored
	s.mu.Unlock()

	copied := token
	return &copied, nil
}

func (s *fileStore) Save(ctx context.Context, requesterID string, token *oauth2.Token) error {
	requesterID = strings.TrimSpace(requesterID)
	if !validRequesterID(requesterID) || token == nil {
		return ErrInvalidInput
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	path := s.tokenPath(requesterID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace credential: %w", err)
	}
	copied := *token
	s.mu.Lock()
	s.cache[requesterID] = &copied
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Delete(ctx context.Context, requesterID string) error {
	requesterID = strings.TrimSpace(requesterID)
	if !validRequesterID(requesterID) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	delete(s.cache, requesterID)
	s.mu.Unlock()
	if err := os.Remove(s.tokenPath(requesterID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
	return nil
}
