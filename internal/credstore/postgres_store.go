package credstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/oauth2"
)

const (
	postgresCredentialTable    = "driverelay_credentials"
	postgresOperationTimeout   = 5 * time.Second
	postgresCredentialDriver   = "postgres"
	postgresCredentialMaxConns = 4
)

// postgresStore keeps one JSON token payload per requester. The table is
// created lazily on first use.
type postgresStore struct {
	db    *sql.DB
	table string

	readyOnce sync.Once
	readyErr  error

	closeOnce sync.Once
	closeErr  error
}

func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidInput)
	}
	db, err := sql.Open(postgresCredentialDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres credential store: %w", err)
	}
	db.SetMaxOpenConns(postgresCredentialMaxConns)
	return &postgresStore{db: db, table: postgresCredentialTable}, nil
}

func (s *postgresStore) ensureReady(ctx context.Context) error {
	s.readyOnce.Do(func() {
		opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()
		_, s.readyErr = s.db.ExecContext(opCtx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				requester_id TEXT PRIMARY KEY,
				token JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, postgresCredentialQuoteIdentifier(s.table)))
		if s.readyErr != nil {
			s.readyErr = fmt.Errorf("prepare credential table: %w", s.readyErr)
		}
	})
	return s.readyErr
}

func (s *postgresStore) Load(ctx context.Context, requesterID string) (*oauth2.Token, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(opCtx, fmt.Sprintf(
		`SELECT token FROM %s WHERE requester_id = $1`,
		postgresCredentialQuoteIdentifier(s.table)), requesterID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("%w: corrupt credential payload", ErrNotAuthenticated)
	}
	return &token, nil
}

func (s *postgresStore) Save(ctx context.Context, requesterID string, token *oauth2.Token) error {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" || token == nil {
		return ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	_, err = s.db.ExecContext(opCtx, fmt.Sprintf(
		`INSERT INTO %s (requester_id, token, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (requester_id)
		 DO UPDATE SET token = EXCLUDED.token, updated_at = now()`,
		postgresCredentialQuoteIdentifier(s.table)), requesterID, payload)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, requesterID string) error {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(opCtx, fmt.Sprintf(
		`DELETE FROM %s WHERE requester_id = $1`,
		postgresCredentialQuoteIdentifier(s.table)), requesterID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func postgresCredentialQuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
