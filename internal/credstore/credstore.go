// Package credstore persists per-requester oauth tokens and resolves usable
// credentials for the relay, refreshing expired tokens at most once.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Store is raw token persistence. Load returns ErrNotAuthenticated when the
// requester has no stored token.
type Store interface {
	Load(ctx context.Context, requesterID string) (*oauth2.Token, error)
	Save(ctx context.Context, requesterID string, token *oauth2.Token) error
	Delete(ctx context.Context, requesterID string) error
	Close() error
}

// Resolver wraps a Store with refresh-on-expiry semantics: an expired token
// with a refresh token is refreshed once through the oauth endpoint and
// written back; any refresh failure reads as not authenticated. Resolve never
// blocks on user interaction.
type Resolver struct {
	store    Store
	oauthCfg *oauth2.Config
}

func NewResolver(store Store, oauthCfg *oauth2.Config) *Resolver {
	return &Resolver{store: store, oauthCfg: oauthCfg}
}

func (r *Resolver) Resolve(ctx context.Context, requesterID string) (*oauth2.Token, error) {
	if r == nil || r.store == nil {
		return nil, ErrNotAuthenticated
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, ErrInvalidInput
	}
	token, err := r.store.Load(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNotAuthenticated
	}
	if token.Valid() {
		return token, nil
	}
	if strings.TrimSpace(token.RefreshToken) == "" || r.oauthCfg == nil {
		return nil, ErrNotAuthenticated
	}
	refreshed, err := r.oauthCfg.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %v", ErrNotAuthenticated, err)
	}
	if saveErr := r.store.Save(ctx, requesterID, refreshed); saveErr != nil {
		// The refreshed token is still usable this cycle even if persisting
		// it failed.
		return refreshed, nil
	}
	return refreshed, nil
}

type memoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

func NewMemoryStore() Store {
	return &memoryStore{tokens: map[string]*oauth2.Token{}}
}

func (s *memoryStore) Load(ctx context.Context, requesterID string) (*oauth2.Token, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[requesterID]
	if !ok {
		return nil, ErrNotAuthenticated
	}
	copied := *token
	return &copied, nil
}

func (s *memoryStore) Save(ctx context.Context, requesterID string, token *oauth2.Token) error {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" || token == nil {
		return ErrInvalidInput
	}
	copied := *token
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[requesterID] = &copied
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, requesterID string) error {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, requesterID)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
